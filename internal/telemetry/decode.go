package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DecodeError reports a push message that could not be turned into a Snapshot.
type DecodeError struct {
	Size int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("telemetry: decode %d bytes: %v", e.Size, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

var errNotObject = errors.New("payload is not a JSON object")

type wireSnapshot struct {
	Info struct {
		ProjectName string `json:"project_name"`
	} `json:"info"`
	Log        wireText       `json:"log"`
	Activities []wireActivity `json:"activities"`
	Tasks      []wireTask     `json:"tasks"`
	Stats      []wireStat     `json:"stats"`
}

type wireActivity struct {
	ID       flexFloat `json:"id"`
	Active   flexBool  `json:"active"`
	Periodic flexBool  `json:"periodic"`
	Period   flexFloat `json:"period"`
	Policy   wireText  `json:"policy"`
}

type wireTask struct {
	Name  wireText `json:"name"`
	Class wireText `json:"class"`
	Type  wireText `json:"type"`
	State wireText `json:"state"`
}

type wireStat struct {
	Name           wireText   `json:"name"`
	Iterations     flexFloat  `json:"iterations"`
	Time           flexFloat  `json:"time"`
	TimeMean       flexFloat  `json:"time_mean"`
	TimeStddev     flexFloat  `json:"time_stddev"`
	TimeExecMean   flexFloat  `json:"time_exec_mean"`
	TimeExecStddev flexFloat  `json:"time_exec_stddev"`
	TimeMin        flexFloat  `json:"time_min"`
	TimeMax        flexFloat  `json:"time_max"`
	TimeInst       *flexFloat `json:"time_inst"`
}

// Decode turns one inbound push message into a Snapshot.
//
// Only a payload that is not a JSON object is an error. Fields that are
// missing, null or of an unexpected type decode to their zero value so a
// partial snapshot still renders.
func Decode(raw []byte) (*Snapshot, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &DecodeError{Size: len(raw), Err: errNotObject}
	}
	var w wireSnapshot
	if err := json.Unmarshal(trimmed, &w); err != nil {
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			return nil, &DecodeError{Size: len(raw), Err: err}
		}
		// A mistyped section (e.g. "stats": "n/a") leaves that section empty.
	}

	snap := &Snapshot{
		ProjectName: w.Info.ProjectName,
		Log:         string(w.Log),
	}
	if len(w.Activities) > 0 {
		snap.Activities = make([]Activity, 0, len(w.Activities))
		for _, a := range w.Activities {
			snap.Activities = append(snap.Activities, Activity{
				ID:       int(a.ID),
				Active:   bool(a.Active),
				Periodic: bool(a.Periodic),
				Period:   float64(a.Period),
				Policy:   string(a.Policy),
			})
		}
	}
	if len(w.Tasks) > 0 {
		snap.Tasks = make([]Task, 0, len(w.Tasks))
		for _, t := range w.Tasks {
			snap.Tasks = append(snap.Tasks, Task{
				Name:  string(t.Name),
				Class: string(t.Class),
				Type:  string(t.Type),
				State: string(t.State),
			})
		}
	}
	if len(w.Stats) > 0 {
		snap.Stats = make([]Stat, 0, len(w.Stats))
		for _, s := range w.Stats {
			st := Stat{
				Name:           string(s.Name),
				Iterations:     float64(s.Iterations),
				Time:           float64(s.Time),
				TimeMean:       float64(s.TimeMean),
				TimeStddev:     float64(s.TimeStddev),
				TimeExecMean:   float64(s.TimeExecMean),
				TimeExecStddev: float64(s.TimeExecStddev),
				TimeMin:        float64(s.TimeMin),
				TimeMax:        float64(s.TimeMax),
			}
			// Servers that do not send time_inst report the latest sample as time.
			if s.TimeInst != nil {
				st.TimeInst = float64(*s.TimeInst)
			} else {
				st.TimeInst = st.Time
			}
			snap.Stats = append(snap.Stats, st)
		}
	}
	return snap, nil
}

// flexFloat accepts a JSON number or a numeric string ("0.012345").
// Anything else decodes to 0.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	*f = 0
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			*f = flexFloat(v)
		}
		return nil
	}
	if v, err := strconv.ParseFloat(string(b), 64); err == nil {
		*f = flexFloat(v)
	}
	return nil
}

// flexBool accepts true/false, "Yes"/"No", "true"/"false" and 0/1.
type flexBool bool

func (v *flexBool) UnmarshalJSON(b []byte) error {
	*v = false
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil
	}
	raw := string(b)
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		raw = s
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "yes", "y", "1", "on":
		*v = true
	}
	return nil
}

// wireText accepts a string or any scalar, rendered as text.
type wireText string

func (t *wireText) UnmarshalJSON(b []byte) error {
	*t = ""
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		*t = wireText(s)
		return nil
	}
	if b[0] == '{' || b[0] == '[' {
		return nil
	}
	*t = wireText(b)
	return nil
}
