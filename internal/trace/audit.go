package trace

import (
	"fmt"
	"sort"
)

const maxViolations = 100

type slotKey struct {
	run  string
	slot uint64
}

type slotAudit struct {
	window   string
	cell     [3]int
	created  int
	released int
	last     string
}

// Audit folds events into per-slot counters. It is not safe for concurrent
// use; Recorder serializes access.
type Audit struct {
	events     int
	missing    int
	byState    map[string]int
	slots      map[slotKey]*slotAudit
	violations []string
	dropped    int
}

type AuditReport struct {
	Events     int            `json:"events"`
	Slots      int            `json:"slots"`
	Created    int            `json:"created"`
	Released   int            `json:"released"`
	Live       int            `json:"live"`
	Missing    int            `json:"missing_dependencies"`
	ByState    map[string]int `json:"by_state"`
	Violations []string       `json:"violations,omitempty"`
}

// Clean reports whether no slot broke the exactly-once release rule.
func (r AuditReport) Clean() bool { return len(r.Violations) == 0 }

func NewAudit() *Audit {
	return &Audit{byState: map[string]int{}, slots: map[slotKey]*slotAudit{}}
}

func (a *Audit) Feed(ev Event) {
	a.events++
	switch ev.Kind {
	case KindMissing:
		a.missing++
		return
	case KindCreated, KindTransition:
	default:
		return
	}

	k := slotKey{run: ev.RunID, slot: ev.Slot}
	s := a.slots[k]
	if s == nil {
		s = &slotAudit{window: ev.Window, cell: ev.Cell}
		a.slots[k] = s
	}
	if ev.Kind == KindCreated {
		s.created++
		if s.created > 1 {
			a.violate("%s slot %d %v created %d times", ev.Window, ev.Slot, ev.Cell, s.created)
		}
		s.last = "UNBUILT"
		a.byState[s.last]++
		return
	}

	if s.created == 0 {
		a.violate("%s slot %d %v changed state before it was created", ev.Window, ev.Slot, ev.Cell)
	}
	if s.last == "RELEASED" {
		a.violate("%s slot %d %v went %s -> %s after release", ev.Window, ev.Slot, ev.Cell, ev.From, ev.To)
	}
	a.byState[ev.To]++
	s.last = ev.To
	if ev.To == "RELEASED" {
		s.released++
		if s.released > 1 {
			a.violate("%s slot %d %v released %d times", ev.Window, ev.Slot, ev.Cell, s.released)
		}
	}
}

func (a *Audit) violate(format string, args ...any) {
	if len(a.violations) >= maxViolations {
		a.dropped++
		return
	}
	a.violations = append(a.violations, fmt.Sprintf(format, args...))
}

func (a *Audit) Report() AuditReport {
	r := AuditReport{
		Events:  a.events,
		Slots:   len(a.slots),
		Missing: a.missing,
		ByState: make(map[string]int, len(a.byState)),
	}
	for k, v := range a.byState {
		r.ByState[k] = v
	}
	for _, s := range a.slots {
		if s.created > 0 {
			r.Created++
		}
		if s.released > 0 {
			r.Released++
		} else if s.created > 0 {
			r.Live++
		}
	}
	r.Violations = append([]string(nil), a.violations...)
	sort.Strings(r.Violations)
	if a.dropped > 0 {
		r.Violations = append(r.Violations, fmt.Sprintf("... and %d more", a.dropped))
	}
	return r
}
