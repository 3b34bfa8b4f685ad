package control

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"cocoview/internal/eventbus"
	"cocoview/internal/storage"
	"cocoview/internal/task/engine"
	logx "cocoview/pkg/logx"
)

var ErrRateLimited = errors.New("control: rate limited")

// Command sources recorded in the audit trail.
const (
	SourceKey      = "key"
	SourceSchedule = "schedule"
	SourceStartup  = "startup"
)

// Enqueuer is the part of the task engine the dispatcher needs.
type Enqueuer interface {
	Enqueue(t engine.Task) error
}

type DispatcherConfig struct {
	// RatePerSec caps user-issued commands; <= 0 disables the limit.
	RatePerSec float64
	Burst      int
	// Timeout bounds one command including the HTTP round trip.
	Timeout time.Duration
}

// Result is published on eventbus.TopicControl after each command.
type Result struct {
	Action string
	Source string
	At     time.Time
	Took   time.Duration
	Err    error
}

func (r Result) OK() bool { return r.Err == nil }

// Dispatcher runs control commands on the task engine so callers (the render
// loop, key handlers) never wait on the network.
type Dispatcher struct {
	client *Client
	eng    Enqueuer
	audit  storage.Store
	bus    eventbus.Bus
	log    logx.Logger

	mu      sync.Mutex
	limiter *rate.Limiter
	timeout time.Duration
}

func NewDispatcher(client *Client, eng Enqueuer, audit storage.Store, bus eventbus.Bus, log logx.Logger, cfg DispatcherConfig) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	d := &Dispatcher{client: client, eng: eng, audit: audit, bus: bus, log: log}
	d.Apply(cfg)
	return d
}

// Apply swaps the rate limit and timeout.
func (d *Dispatcher) Apply(cfg DispatcherConfig) {
	var lim *rate.Limiter
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	d.mu.Lock()
	d.limiter = lim
	d.timeout = timeout
	d.mu.Unlock()
}

func (d *Dispatcher) allow(source string) bool {
	if source == SourceSchedule {
		return true
	}
	d.mu.Lock()
	lim := d.limiter
	d.mu.Unlock()
	return lim == nil || lim.Allow()
}

// RequestReset enqueues exactly one reset_stats request and returns at once.
// The request is never retried.
func (d *Dispatcher) RequestReset(source string) error {
	if !d.allow(source) {
		d.log.Debug("reset request rate limited", logx.String("source", source))
		return ErrRateLimited
	}
	return d.enqueue(ActionResetStats, source, false, func(ctx context.Context) error {
		return d.client.ResetStats(ctx)
	})
}

// RequestInfo fetches the project info off-thread and hands it to onInfo.
// Unlike reset_stats it is idempotent, so transient failures are retried by
// the engine, honoring the server's Retry-After.
func (d *Dispatcher) RequestInfo(source string, onInfo func(Info)) error {
	return d.enqueue(ActionFetchInfo, source, true, func(ctx context.Context) error {
		info, err := d.client.FetchInfo(ctx)
		if err != nil {
			return err
		}
		if onInfo != nil {
			onInfo(info)
		}
		return nil
	})
}

// RunReset is the schedule job form of RequestReset: it runs inline on an
// engine worker and reports the outcome.
func (d *Dispatcher) RunReset(ctx context.Context) error {
	return d.execute(ctx, ActionResetStats, SourceSchedule, false, d.client.ResetStats)
}

func (d *Dispatcher) enqueue(action, source string, retry bool, fn func(ctx context.Context) error) error {
	d.mu.Lock()
	timeout := d.timeout
	d.mu.Unlock()
	opt := engine.TaskOptions{Overlap: engine.OverlapAllow, RetryMax: -1}
	if retry {
		// Engine default retry count.
		opt = engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning}
	}
	return d.eng.Enqueue(engine.Task{
		Name:    "control." + action,
		Timeout: timeout,
		Opt:     opt,
		Run: func(ctx context.Context) error {
			return d.execute(ctx, action, source, retry, fn)
		},
	})
}

func (d *Dispatcher) execute(ctx context.Context, action, source string, retry bool, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	res := Result{Action: action, Source: source, At: start, Took: time.Since(start), Err: err}

	fields := []logx.Field{logx.String("action", action), logx.String("source", source), logx.Duration("took", res.Took)}
	if err != nil {
		d.log.Warn("control command failed", append(fields, logx.Err(err))...)
	} else {
		d.log.Info("control command sent", fields...)
	}
	d.bus.Publish(eventbus.Event{Topic: eventbus.TopicControl, Time: start, Data: res})
	d.record(res)

	if err == nil {
		return nil
	}
	if !retry {
		return engine.NoRetry(err)
	}
	return retryClass(err)
}

// retryClass maps a failed idempotent request onto the engine's retry policy.
func retryClass(err error) error {
	var se *StatusError
	if !errors.As(err, &se) {
		return err
	}
	if !se.Temporary() {
		return engine.NoRetry(err)
	}
	if se.RetryAfter > 0 {
		return engine.RetryAfter(err, se.RetryAfter)
	}
	return err
}

func (d *Dispatcher) record(res Result) {
	if d.audit == nil || res.Action != ActionResetStats {
		return
	}
	e := storage.AuditEntry{
		At:     res.At,
		Source: res.Source,
		Action: res.Action,
		Target: d.client.BaseURL(),
		OK:     res.OK(),
		TookMS: res.Took.Milliseconds(),
	}
	if res.Err != nil {
		e.Error = res.Err.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.audit.AppendAudit(ctx, e); err != nil {
		d.log.Debug("audit append failed", logx.Err(err))
	}
}
