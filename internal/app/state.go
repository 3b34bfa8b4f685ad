package app

import (
	"time"

	"cocoview/internal/ingest"
	"cocoview/internal/render"
	rtsup "cocoview/internal/runtime/supervisor"
	"cocoview/internal/task/engine"
	"cocoview/internal/task/scheduler"
)

// State is the document served at /debug/state.
type State struct {
	Version   string    `json:"version,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Uptime    string    `json:"uptime"`
	Headless  bool      `json:"headless"`

	Connection     string          `json:"connection"`
	URL            string          `json:"url"`
	TransportError string          `json:"transport_error,omitempty"`
	Ingest         ingest.Counters `json:"ingest"`
	Snapshots      uint64          `json:"snapshots"`

	Render     render.Stats       `json:"render"`
	Engine     engine.Snapshot    `json:"task_engine"`
	Schedules  scheduler.Snapshot `json:"scheduler"`
	Supervisor rtsup.Snapshot     `json:"supervisor"`
}

// State gathers counters from every component. It only reads atomics and
// short-held locks, so it is safe to call from the debug server.
func (s *Session) State() any {
	st := State{
		Version:   s.version,
		StartedAt: s.startedAt,
		Headless:  s.headless,
		URL:       s.pushURL(),
		Snapshots: s.telem.Replaced(),
		Render:    s.render.Stats(),
		Engine:    s.engine.Snapshot(),
		Schedules: s.sched.Snapshot(),
	}
	if !s.startedAt.IsZero() {
		st.Uptime = time.Since(s.startedAt).Truncate(time.Second).String()
	}
	switch {
	case s.channel != nil:
		st.Connection = s.channel.State().String()
		st.Ingest = s.channel.Counters()
	case s.transportErr != nil:
		st.Connection = ingest.Errored.String()
		st.TransportError = s.transportErr.Error()
	}
	if s.sup != nil {
		st.Supervisor = s.sup.Snapshot()
	}
	return st
}
