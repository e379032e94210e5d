package trace

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"zonepager.ai/internal/pager"
)

// Recorder implements pager.Observer. It stamps events with a run ID and a
// sequence number, audits them and fans them out to sinks.
type Recorder struct {
	runID  string
	logger *log.Logger
	now    func() time.Time

	mu    sync.Mutex
	seq   uint64
	sinks []Sink
	audit *Audit

	sinkErrors atomic.Uint64
}

var _ pager.Observer = (*Recorder)(nil)

func NewRecorder(logger *log.Logger, sinks ...Sink) *Recorder {
	return &Recorder{
		runID:  uuid.NewString(),
		logger: logger,
		now:    time.Now,
		sinks:  sinks,
		audit:  NewAudit(),
	}
}

func (r *Recorder) RunID() string { return r.runID }

func (r *Recorder) SlotTransition(tr pager.Transition) {
	r.record(FromTransition(tr))
}

func (r *Recorder) DependencyMissing(err *pager.MissingDependencyError) {
	r.record(FromMissing(err))
}

func (r *Recorder) Report() AuditReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.audit.Report()
}

func (r *Recorder) SinkErrors() uint64 { return r.sinkErrors.Load() }

func (r *Recorder) record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	ev.RunID = r.runID
	ev.Seq = r.seq
	ev.UnixMs = r.now().UTC().UnixMilli()
	r.audit.Feed(ev)
	for _, s := range r.sinks {
		if err := s.WriteEvent(ev); err != nil {
			if n := r.sinkErrors.Add(1); n == 1 || n%1000 == 0 {
				r.printf("trace sink error run=%s seq=%d errors=%d err=%v", r.runID, ev.Seq, n, err)
			}
		}
	}
}

func (r *Recorder) printf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}
