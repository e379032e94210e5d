// Package stream runs the goroutine that owns a window hierarchy: it moves
// the focus, pumps builder completions and publishes stats.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"zonepager.ai/internal/builder"
	"zonepager.ai/internal/observerproto"
	"zonepager.ai/internal/pager"
)

type Config struct {
	Root    *pager.Window
	Builder *builder.Builder

	StatsEvery   time.Duration
	DrainTimeout time.Duration
	Logger       *log.Logger

	// Bootstrap metadata.
	RunID string
	Seed  int64
	Kinds map[string]string
}

type ObserverJoinRequest struct {
	SessionID string
	Out       chan []byte

	Windows      []string
	IncludeSlots bool
	MaxSlots     int
}

type ObserverSubscribeRequest struct {
	SessionID string

	Windows      []string
	IncludeSlots bool
	MaxSlots     int
}

type focusReq struct{ x, z float64 }

type observerClient struct {
	id      string
	out     chan []byte
	windows map[string]bool
	slots   bool
	max     int
	dropped uint64
}

// Runtime serializes all window access onto the goroutine running Run.
type Runtime struct {
	cfg     Config
	root    *pager.Window
	builder *builder.Builder
	windows []*pager.Window
	logger  *log.Logger

	focus         chan focusReq
	statsReq      chan chan observerproto.StatsMsg
	observerJoin  chan ObserverJoinRequest
	observerSub   chan ObserverSubscribeRequest
	observerLeave chan string
	stop          chan struct{}
	stopOnce      sync.Once

	observers map[string]*observerClient
	seq       uint64
}

func New(cfg Config) (*Runtime, error) {
	if cfg.Root == nil || cfg.Builder == nil {
		return nil, errors.New("stream: root window and builder are required")
	}
	if cfg.Root.Parent() != nil {
		return nil, errors.New("stream: root window has a parent")
	}
	if cfg.StatsEvery <= 0 {
		cfg.StatsEvery = time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	r := &Runtime{
		cfg:           cfg,
		root:          cfg.Root,
		builder:       cfg.Builder,
		logger:        cfg.Logger,
		focus:         make(chan focusReq, 64),
		statsReq:      make(chan chan observerproto.StatsMsg),
		observerJoin:  make(chan ObserverJoinRequest, 16),
		observerSub:   make(chan ObserverSubscribeRequest, 16),
		observerLeave: make(chan string, 16),
		stop:          make(chan struct{}),
		observers:     map[string]*observerClient{},
	}
	var walk func(w *pager.Window)
	walk = func(w *pager.Window) {
		r.windows = append(r.windows, w)
		for _, c := range w.Children() {
			walk(c)
		}
	}
	walk(cfg.Root)
	return r, nil
}

func (r *Runtime) ObserverJoin() chan<- ObserverJoinRequest           { return r.observerJoin }
func (r *Runtime) ObserverSubscribe() chan<- ObserverSubscribeRequest { return r.observerSub }
func (r *Runtime) ObserverLeave() chan<- string                       { return r.observerLeave }

var ErrStopped = errors.New("stream: runtime stopped")

// SetFocus queues a new focal position.
func (r *Runtime) SetFocus(ctx context.Context, x, z float64) error {
	select {
	case <-r.stop:
		return ErrStopped
	default:
	}
	select {
	case r.focus <- focusReq{x: x, z: z}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.stop:
		return ErrStopped
	}
}

// Stats asks the loop for a snapshot.
func (r *Runtime) Stats(ctx context.Context) (observerproto.StatsMsg, error) {
	resp := make(chan observerproto.StatsMsg, 1)
	select {
	case r.statsReq <- resp:
	case <-ctx.Done():
		return observerproto.StatsMsg{}, ctx.Err()
	case <-r.stop:
		return observerproto.StatsMsg{}, ErrStopped
	}
	select {
	case s := <-resp:
		return s, nil
	case <-ctx.Done():
		return observerproto.StatsMsg{}, ctx.Err()
	}
}

func (r *Runtime) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// Bootstrap describes the window hierarchy. Window geometry is fixed after
// construction, so it is safe to call from any goroutine.
func (r *Runtime) Bootstrap() observerproto.BootstrapResponse {
	resp := observerproto.BootstrapResponse{
		ProtocolVersion: observerproto.Version,
		RunID:           r.cfg.RunID,
		Seed:            r.cfg.Seed,
		StatsEveryMs:    int(r.cfg.StatsEvery / time.Millisecond),
	}
	for s := pager.Unbuilt; s <= pager.Released; s++ {
		resp.States = append(resp.States, s.String())
	}
	for _, w := range r.windows {
		cs := w.Grid().CellSize()
		info := observerproto.WindowInfo{
			Name:         w.Name(),
			Kind:         r.cfg.Kinds[w.Name()],
			CellSize:     [3]float64{cs.X, cs.Y, cs.Z},
			Radius:       w.Radius(),
			Layers:       w.Layers(),
			MaxCount:     w.MaxCount(),
			PriorityBias: w.PriorityBias(),
		}
		if p := w.Parent(); p != nil {
			info.Parent = p.Name()
		}
		resp.Windows = append(resp.Windows, info)
	}
	return resp
}

// Run owns the windows until ctx is done or Stop is called. On the way out
// it releases every slot and drains the builder.
func (r *Runtime) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.StatsEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.teardown()
			return ctx.Err()
		case <-r.stop:
			r.teardown()
			return nil
		case req := <-r.focus:
			r.setFocus(req)
		case <-r.builder.Ready():
			r.builder.ApplyUpdates()
		case resp := <-r.statsReq:
			resp <- r.snapshot(nil)
		case req := <-r.observerJoin:
			r.handleObserverJoin(req)
		case req := <-r.observerSub:
			r.handleObserverSubscribe(req)
		case id := <-r.observerLeave:
			r.handleObserverLeave(id)
		case <-ticker.C:
			r.publish()
		}
	}
}

func (r *Runtime) setFocus(req focusReq) {
	// Only the newest queued focus matters.
	for {
		select {
		case next := <-r.focus:
			req = next
			continue
		default:
		}
		break
	}
	r.root.SetCenter(req.x, req.z)
}

func (r *Runtime) teardown() {
	r.root.Close()
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.DrainTimeout)
	defer cancel()
	if err := r.builder.Drain(ctx); err != nil {
		r.printf("stream: drain after close: %v (live=%d inflight=%d)", err, r.root.LiveSlots(), r.root.InflightSlots())
	}
	for id, c := range r.observers {
		close(c.out)
		delete(r.observers, id)
	}
}

func (r *Runtime) snapshot(c *observerClient) observerproto.StatsMsg {
	r.seq++
	msg := observerproto.StatsMsg{
		Type:            "STATS",
		ProtocolVersion: observerproto.Version,
		Seq:             r.seq,
		UnixMs:          time.Now().UTC().UnixMilli(),
		Live:            r.root.LiveSlots(),
	}
	if f, ok := r.root.Focus(); ok {
		msg.Focus = [2]float64{f.X, f.Z}
		msg.Focused = true
	}
	for _, w := range r.windows {
		if c != nil && len(c.windows) > 0 && !c.windows[w.Name()] {
			continue
		}
		x, z, _ := w.Center()
		ws := observerproto.WindowStats{
			Name:        w.Name(),
			Center:      [2]int{x, z},
			Applied:     w.AppliedCount(),
			MaxCount:    w.MaxCount(),
			MissingDeps: w.MissingDeps(),
		}
		if c != nil && c.slots {
			for _, s := range w.Slots() {
				if len(ws.Slots) >= c.max {
					break
				}
				cell := s.Cell()
				ws.Slots = append(ws.Slots, observerproto.SlotState{
					Slot:  uint64(s.ID()),
					Cell:  [3]int{cell.X, cell.Y, cell.Z},
					State: s.State().String(),
				})
			}
		}
		msg.Windows = append(msg.Windows, ws)
	}
	bs := r.builder.Stats()
	msg.Builder = observerproto.BuilderStats{
		Workers:         bs.Workers,
		Paused:          bs.Paused,
		QueueDepth:      bs.QueueDepth,
		Building:        bs.Building,
		AwaitingApply:   bs.AwaitingApply,
		PendingReleases: bs.PendingReleases,
		Managed:         bs.Managed,
		BuiltTotal:      bs.BuiltTotal,
		FailedTotal:     bs.FailedTotal,
		AppliedTotal:    bs.AppliedTotal,
		ReleasedTotal:   bs.ReleasedTotal,
	}
	return msg
}

func (r *Runtime) publish() {
	for _, c := range r.observers {
		b, err := json.Marshal(r.snapshot(c))
		if err != nil {
			r.printf("stream: marshal stats: %v", err)
			continue
		}
		select {
		case c.out <- b:
		default:
			c.dropped++
		}
	}
}

func (r *Runtime) handleObserverJoin(req ObserverJoinRequest) {
	if req.SessionID == "" || req.Out == nil {
		return
	}
	if old := r.observers[req.SessionID]; old != nil {
		close(old.out)
	}
	c := &observerClient{id: req.SessionID, out: req.Out}
	applySubscription(c, req.Windows, req.IncludeSlots, req.MaxSlots)
	r.observers[req.SessionID] = c
}

func (r *Runtime) handleObserverSubscribe(req ObserverSubscribeRequest) {
	c := r.observers[req.SessionID]
	if c == nil {
		return
	}
	applySubscription(c, req.Windows, req.IncludeSlots, req.MaxSlots)
}

func (r *Runtime) handleObserverLeave(id string) {
	c := r.observers[id]
	if c == nil {
		return
	}
	close(c.out)
	delete(r.observers, id)
	if c.dropped > 0 {
		r.printf("stream: observer %s left, dropped=%d", id, c.dropped)
	}
}

func applySubscription(c *observerClient, windows []string, slots bool, maxSlots int) {
	c.windows = nil
	if len(windows) > 0 {
		c.windows = map[string]bool{}
		for _, w := range windows {
			c.windows[w] = true
		}
	}
	c.slots = slots
	c.max = maxSlots
}

func (r *Runtime) printf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}
