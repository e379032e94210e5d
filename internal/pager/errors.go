package pager

import (
	"errors"
	"fmt"

	"zonepager.ai/internal/pager/grid"
)

var (
	ErrConfiguration     = errors.New("pager: configuration error")
	ErrConsistency       = errors.New("pager: consistency violation")
	ErrMissingDependency = errors.New("pager: missing dependency")
)

// ConfigurationError is returned by constructors.
type ConfigurationError struct {
	Window string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("pager: window %q: %s", e.Window, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }
func (e *ConfigurationError) Unwrap() error        { return e.Err }

// ConsistencyError is the panic value for broken scheduler invariants.
type ConsistencyError struct {
	Op     string
	Window string
	Slot   SlotID
	Cell   grid.Cell
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("pager: consistency violation: %s window=%q slot=%d cell=%v", e.Op, e.Window, e.Slot, e.Cell)
}

func (e *ConsistencyError) Is(target error) bool { return target == ErrConsistency }

// MissingDependencyError is logged and reported to the observer, never returned.
type MissingDependencyError struct {
	Window       string
	Cell         grid.Cell
	ParentWindow string
	ParentCell   grid.Cell
	World        grid.Vec3
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("pager: missing dependency: window=%q cell=%v parent=%q parent_cell=%v world=%v",
		e.Window, e.Cell, e.ParentWindow, e.ParentCell, e.World)
}

func (e *MissingDependencyError) Is(target error) bool { return target == ErrMissingDependency }
