// Package builder runs zone builds on a pool of worker goroutines and hands
// completed work back to the coordinating goroutine.
package builder

import (
	"container/heap"
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"zonepager.ai/internal/pager"
)

type Stats struct {
	Workers         int
	Paused          bool
	QueueDepth      int
	Building        int
	AwaitingApply   int
	PendingReleases int
	Managed         int

	SubmittedTotal uint64
	BuiltTotal     uint64
	FailedTotal    uint64
	AppliedTotal   uint64
	ReleasedTotal  uint64
	LastBuildUnix  int64
}

// Builder implements pager.Executor. Build runs on workers; Apply and
// Release only run inside ApplyUpdates, which the owner calls from the
// goroutine that drives the windows.
type Builder struct {
	workers int
	logger  *log.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    jobQueue
	jobs     map[pager.Task]*job
	done     []*job
	releases []*job
	building int
	paused   int
	closed   bool
	seq      uint64

	ready chan struct{}
	wg    sync.WaitGroup

	submittedTotal atomic.Uint64
	builtTotal     atomic.Uint64
	failedTotal    atomic.Uint64
	appliedTotal   atomic.Uint64
	releasedTotal  atomic.Uint64
	lastBuildUnix  atomic.Int64
}

var _ pager.Executor = (*Builder)(nil)
var _ pager.Reprioritizer = (*Builder)(nil)

func New(workers int, logger *log.Logger) *Builder {
	if workers <= 0 {
		workers = 1
	}
	b := &Builder{
		workers: workers,
		logger:  logger,
		jobs:    map[pager.Task]*job{},
		ready:   make(chan struct{}, 1),
	}
	b.cond = sync.NewCond(&b.mu)
	for i := 0; i < workers; i++ {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.work()
		}()
	}
	return b
}

// Ready fires after a build completes or a release is queued.
func (b *Builder) Ready() <-chan struct{} { return b.ready }

func (b *Builder) SubmitBuild(t pager.Task, priority int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	j := b.jobs[t]
	if j == nil {
		j = &job{task: t, index: -1}
		b.jobs[t] = j
	}
	if j.release {
		return
	}
	b.submittedTotal.Add(1)
	j.priority = priority

	switch j.state {
	case jobQueued:
		heap.Fix(&b.queue, j.index)
		return
	case jobBuilding:
		j.rebuild = true
		return
	case jobBuilt:
		// The finished build is stale; drop it and build again.
		b.done = removeJob(b.done, j)
	}
	b.push(j)
}

func (b *Builder) SubmitRelease(t pager.Task) {
	b.mu.Lock()
	j := b.jobs[t]
	if j == nil {
		b.mu.Unlock()
		panic(&pager.ConsistencyError{Op: fmt.Sprintf("release of unmanaged task %v", t)})
	}
	j.release = true
	switch j.state {
	case jobQueued:
		heap.Remove(&b.queue, j.index)
		j.state = jobIdle
	case jobBuilding:
		// The worker queues the release once the build returns.
		b.mu.Unlock()
		return
	}
	b.queueRelease(j)
	b.mu.Unlock()
	b.notify()
}

func (b *Builder) Reprioritize(t pager.Task, priority int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	j := b.jobs[t]
	if j == nil || j.state != jobQueued || j.priority == priority {
		return
	}
	j.priority = priority
	heap.Fix(&b.queue, j.index)
}

// Pause stops workers from starting new builds. Calls nest.
func (b *Builder) Pause() {
	b.mu.Lock()
	b.paused++
	b.mu.Unlock()
}

func (b *Builder) Resume() {
	b.mu.Lock()
	if b.paused > 0 {
		b.paused--
	}
	if b.paused == 0 {
		b.cond.Broadcast()
	}
	b.mu.Unlock()
}

func (b *Builder) IsManaged(t pager.Task) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.jobs[t]
	return ok
}

// ApplyUpdates applies finished builds and then runs every pending release,
// including releases queued by the releases themselves. It returns the
// number of tasks applied and released. Jobs are taken one at a time, so a
// panicking Apply or Release leaves the rest queued for the next call.
func (b *Builder) ApplyUpdates() (applied, released int) {
	for j := b.nextApply(); j != nil; j = b.nextApply() {
		j.task.Apply()
		b.appliedTotal.Add(1)
		applied++
	}
	for j := b.nextRelease(); j != nil; j = b.nextRelease() {
		b.release(j)
		released++
	}
	return applied, released
}

func (b *Builder) nextApply() *job {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.done) > 0 {
		j := b.done[0]
		b.done = b.done[1:]
		if !j.release && j.state == jobBuilt {
			j.state = jobIdle
			return j
		}
	}
	return nil
}

func (b *Builder) nextRelease() *job {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.releases) == 0 {
		return nil
	}
	j := b.releases[0]
	b.releases = b.releases[1:]
	return j
}

// release forgets the job even when the content's Release panics.
func (b *Builder) release(j *job) {
	defer func() {
		b.mu.Lock()
		delete(b.jobs, j.task)
		b.done = removeJob(b.done, j)
		b.mu.Unlock()
		b.releasedTotal.Add(1)
	}()
	j.task.Release()
}

// Drain calls ApplyUpdates until no build, apply or release is outstanding.
// It must not be called while paused with work queued.
func (b *Builder) Drain(ctx context.Context) error {
	for {
		b.ApplyUpdates()
		if b.idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.ready:
		}
	}
}

// Close stops the workers after their current build. Queued work is
// abandoned; release it with Drain first.
func (b *Builder) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Builder) Stats() Stats {
	b.mu.Lock()
	s := Stats{
		Workers:         b.workers,
		Paused:          b.paused > 0,
		QueueDepth:      b.queue.Len(),
		Building:        b.building,
		AwaitingApply:   len(b.done),
		PendingReleases: len(b.releases),
		Managed:         len(b.jobs),
	}
	b.mu.Unlock()
	s.SubmittedTotal = b.submittedTotal.Load()
	s.BuiltTotal = b.builtTotal.Load()
	s.FailedTotal = b.failedTotal.Load()
	s.AppliedTotal = b.appliedTotal.Load()
	s.ReleasedTotal = b.releasedTotal.Load()
	s.LastBuildUnix = b.lastBuildUnix.Load()
	return s
}

func (b *Builder) work() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		for !b.closed && (b.paused > 0 || b.queue.Len() == 0) {
			b.cond.Wait()
		}
		if b.closed {
			return
		}
		j := heap.Pop(&b.queue).(*job)
		j.state = jobBuilding
		b.building++

		b.mu.Unlock()
		ok := b.build(j)
		b.mu.Lock()

		b.building--
		switch {
		case j.release:
			j.state = jobIdle
			b.queueRelease(j)
		case j.rebuild:
			j.rebuild = false
			b.push(j)
		case ok:
			j.state = jobBuilt
			b.done = append(b.done, j)
		default:
			// A failed build stays managed until it is rebuilt or released.
			j.state = jobIdle
		}
		b.notify()
	}
}

func (b *Builder) build(j *job) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			b.failedTotal.Add(1)
			b.printf("builder: build %v failed: %v", j.task, r)
			ok = false
		}
	}()
	j.task.Build()
	b.builtTotal.Add(1)
	b.lastBuildUnix.Store(time.Now().UTC().Unix())
	return true
}

// push and queueRelease require b.mu.
func (b *Builder) push(j *job) {
	b.seq++
	j.seq = b.seq
	j.state = jobQueued
	heap.Push(&b.queue, j)
	b.cond.Signal()
}

func (b *Builder) queueRelease(j *job) {
	if j.releaseQueued {
		return
	}
	j.releaseQueued = true
	b.releases = append(b.releases, j)
}

func (b *Builder) idle() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queue.Len() == 0 && b.building == 0 && len(b.done) == 0 && len(b.releases) == 0
}

func (b *Builder) notify() {
	select {
	case b.ready <- struct{}{}:
	default:
	}
}

func (b *Builder) printf(format string, args ...any) {
	if b.logger != nil {
		b.logger.Printf(format, args...)
	}
}

func removeJob(js []*job, j *job) []*job {
	for i, x := range js {
		if x == j {
			return append(js[:i:i], js[i+1:]...)
		}
	}
	return js
}
