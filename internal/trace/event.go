// Package trace records slot lifecycle events and audits them for the
// exactly-once release property.
package trace

import (
	"zonepager.ai/internal/pager"
	"zonepager.ai/internal/pager/grid"
)

const (
	KindCreated    = "created"
	KindTransition = "transition"
	KindMissing    = "missing_dependency"
)

type Event struct {
	RunID  string `json:"run_id"`
	Seq    uint64 `json:"seq"`
	UnixMs int64  `json:"unix_ms"`
	Kind   string `json:"kind"`
	Window string `json:"window"`
	Slot   uint64 `json:"slot,omitempty"`
	Cell   [3]int `json:"cell"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`

	ParentWindow string  `json:"parent_window,omitempty"`
	ParentCell   *[3]int `json:"parent_cell,omitempty"`
}

func cellOf(c grid.Cell) [3]int { return [3]int{c.X, c.Y, c.Z} }

// FromTransition maps a slot transition. A transition from Unbuilt to
// Unbuilt announces a new slot.
func FromTransition(tr pager.Transition) Event {
	ev := Event{
		Kind:   KindTransition,
		Window: tr.Window,
		Slot:   uint64(tr.Slot),
		Cell:   cellOf(tr.Cell),
		From:   tr.From.String(),
		To:     tr.To.String(),
	}
	if tr.From == pager.Unbuilt && tr.To == pager.Unbuilt {
		ev.Kind = KindCreated
		ev.From = ""
	}
	return ev
}

func FromMissing(err *pager.MissingDependencyError) Event {
	pc := cellOf(err.ParentCell)
	return Event{
		Kind:         KindMissing,
		Window:       err.Window,
		Cell:         cellOf(err.Cell),
		ParentWindow: err.ParentWindow,
		ParentCell:   &pc,
	}
}

// Sink receives every recorded event. Implementations must not block for
// long; the recorder calls them from builder workers too.
type Sink interface {
	WriteEvent(ev Event) error
}

type SinkFunc func(ev Event) error

func (f SinkFunc) WriteEvent(ev Event) error { return f(ev) }
