// Package telemetry holds the scheduler telemetry model, the push message
// decoder and the single-slot Snapshot store.
package telemetry

// Snapshot is one complete telemetry state pushed by the scheduler.
// It is never mutated after Decode returns it; the next push replaces it wholesale.
type Snapshot struct {
	ProjectName string
	Log         string
	Activities  []Activity
	Tasks       []Task
	Stats       []Stat
}

type Activity struct {
	ID       int
	Active   bool
	Periodic bool
	Period   float64
	Policy   string
}

type Task struct {
	Name  string
	Class string
	Type  string
	State string
}

// Stat carries the timing statistics of one task. Times are in milliseconds.
type Stat struct {
	Name           string
	Iterations     float64
	Time           float64
	TimeMean       float64
	TimeStddev     float64
	TimeExecMean   float64
	TimeExecStddev float64
	TimeMin        float64
	TimeMax        float64
	TimeInst       float64
}

// StatNames returns the stat names in snapshot order, duplicates collapsed.
func (s *Snapshot) StatNames() []string {
	if s == nil || len(s.Stats) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(s.Stats))
	out := make([]string, 0, len(s.Stats))
	for _, st := range s.Stats {
		if _, ok := seen[st.Name]; ok {
			continue
		}
		seen[st.Name] = struct{}{}
		out = append(out, st.Name)
	}
	return out
}
