package builder

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"zonepager.ai/internal/pager"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(ev string) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type fakeTask struct {
	name string
	rec  *recorder

	gate    chan struct{}
	started chan struct{}
	fail    bool

	failApply, failRelease bool

	builds, applies, releases atomic.Int32
}

func newTask(name string, rec *recorder) *fakeTask {
	return &fakeTask{name: name, rec: rec}
}

func (f *fakeTask) Priority() int { return 0 }

func (f *fakeTask) Build() {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	f.builds.Add(1)
	if f.rec != nil {
		f.rec.add("build " + f.name)
	}
	if f.fail {
		panic("boom")
	}
}

func (f *fakeTask) Apply() {
	f.applies.Add(1)
	if f.failApply {
		panic("apply boom")
	}
}

func (f *fakeTask) Release() {
	f.releases.Add(1)
	if f.failRelease {
		panic("release boom")
	}
}

func applyRecovering(b *Builder) (panicked bool) {
	defer func() {
		if recover() != nil {
			panicked = true
		}
	}()
	b.ApplyUpdates()
	return false
}

func drain(t *testing.T, b *Builder) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
}

func TestBuildsLowestPriorityFirst(t *testing.T) {
	b := New(1, nil)
	defer b.Close()
	rec := &recorder{}

	b.Pause()
	b.SubmitBuild(newTask("far", rec), 5)
	b.SubmitBuild(newTask("near", rec), 1)
	b.SubmitBuild(newTask("mid-a", rec), 3)
	b.SubmitBuild(newTask("mid-b", rec), 3)
	b.Resume()
	drain(t, b)

	want := []string{"build near", "build mid-a", "build mid-b", "build far"}
	if diff := cmp.Diff(want, rec.snapshot()); diff != "" {
		t.Fatalf("build order (-want +got):\n%s", diff)
	}
	if st := b.Stats(); st.AppliedTotal != 4 || st.Managed != 4 {
		t.Fatalf("stats %+v", st)
	}
}

func TestReprioritizeReordersQueue(t *testing.T) {
	b := New(1, nil)
	defer b.Close()
	rec := &recorder{}

	a, c := newTask("a", rec), newTask("c", rec)
	b.Pause()
	b.SubmitBuild(a, 1)
	b.SubmitBuild(c, 2)
	b.Reprioritize(c, 0)
	b.Resume()
	drain(t, b)
	if diff := cmp.Diff([]string{"build c", "build a"}, rec.snapshot()); diff != "" {
		t.Fatalf("build order (-want +got):\n%s", diff)
	}
}

func TestPauseNests(t *testing.T) {
	b := New(2, nil)
	defer b.Close()
	task := newTask("t", nil)

	b.Pause()
	b.Pause()
	b.SubmitBuild(task, 0)
	b.Resume()
	time.Sleep(20 * time.Millisecond)
	if task.builds.Load() != 0 {
		t.Fatalf("build started while still paused")
	}
	if st := b.Stats(); !st.Paused || st.QueueDepth != 1 {
		t.Fatalf("stats %+v", st)
	}
	b.Resume()
	drain(t, b)
	if task.builds.Load() != 1 || task.applies.Load() != 1 {
		t.Fatalf("builds=%d applies=%d", task.builds.Load(), task.applies.Load())
	}
}

func TestSubmitDuringBuildRebuilds(t *testing.T) {
	b := New(1, nil)
	defer b.Close()
	task := newTask("t", nil)
	task.gate = make(chan struct{})
	task.started = make(chan struct{}, 2)

	b.SubmitBuild(task, 0)
	<-task.started
	b.SubmitBuild(task, 0)
	close(task.gate)
	drain(t, b)

	if task.builds.Load() != 2 || task.applies.Load() != 1 {
		t.Fatalf("builds=%d applies=%d", task.builds.Load(), task.applies.Load())
	}
}

func TestReleaseDuringBuildSkipsApply(t *testing.T) {
	b := New(1, nil)
	defer b.Close()
	task := newTask("t", nil)
	task.gate = make(chan struct{})
	task.started = make(chan struct{}, 1)

	b.SubmitBuild(task, 0)
	<-task.started
	b.SubmitRelease(task)
	if !b.IsManaged(task) {
		t.Fatalf("task must stay managed until released")
	}
	close(task.gate)
	drain(t, b)

	if task.applies.Load() != 0 || task.releases.Load() != 1 {
		t.Fatalf("applies=%d releases=%d", task.applies.Load(), task.releases.Load())
	}
	if b.IsManaged(task) {
		t.Fatalf("released task still managed")
	}
}

func TestReleaseQueuedTaskNeverBuilds(t *testing.T) {
	b := New(1, nil)
	defer b.Close()
	task := newTask("t", nil)

	b.Pause()
	b.SubmitBuild(task, 0)
	b.SubmitRelease(task)
	b.SubmitRelease(task)
	b.Resume()
	drain(t, b)
	if task.builds.Load() != 0 || task.releases.Load() != 1 {
		t.Fatalf("builds=%d releases=%d", task.builds.Load(), task.releases.Load())
	}
}

func TestReleaseUnmanagedPanics(t *testing.T) {
	b := New(1, nil)
	defer b.Close()
	defer func() {
		err, ok := recover().(error)
		if !ok || !errors.Is(err, pager.ErrConsistency) {
			t.Fatalf("expected consistency panic, got %v", err)
		}
	}()
	b.SubmitRelease(newTask("stray", nil))
}

func TestFailedBuildIsCountedAndNotApplied(t *testing.T) {
	b := New(1, nil)
	defer b.Close()
	task := newTask("t", nil)
	task.fail = true

	b.SubmitBuild(task, 0)
	drain(t, b)
	st := b.Stats()
	if st.FailedTotal != 1 || task.applies.Load() != 0 {
		t.Fatalf("failed=%d applies=%d", st.FailedTotal, task.applies.Load())
	}
	b.SubmitRelease(task)
	drain(t, b)
	if task.releases.Load() != 1 {
		t.Fatalf("failed task not released")
	}
}

func TestPanickingReleaseKeepsLaterReleases(t *testing.T) {
	b := New(1, nil)
	defer b.Close()
	bad, good := newTask("bad", nil), newTask("good", nil)
	bad.failRelease = true

	b.Pause()
	b.SubmitBuild(bad, 0)
	b.SubmitBuild(good, 0)
	b.SubmitRelease(bad)
	b.SubmitRelease(good)

	if !applyRecovering(b) {
		t.Fatalf("expected release panic to reach the caller")
	}
	if b.IsManaged(bad) {
		t.Fatalf("task whose release panicked is still managed")
	}
	if applyRecovering(b) {
		t.Fatalf("second ApplyUpdates panicked")
	}
	b.Resume()

	if bad.releases.Load() != 1 || good.releases.Load() != 1 {
		t.Fatalf("bad.releases=%d good.releases=%d", bad.releases.Load(), good.releases.Load())
	}
	st := b.Stats()
	if st.Managed != 0 || st.PendingReleases != 0 || st.ReleasedTotal != 2 {
		t.Fatalf("stats %+v", st)
	}
}

func TestPanickingApplyKeepsLaterApplies(t *testing.T) {
	b := New(1, nil)
	defer b.Close()
	bad, good := newTask("bad", nil), newTask("good", nil)
	bad.failApply = true

	b.SubmitBuild(bad, 0)
	b.SubmitBuild(good, 1)
	deadline := time.Now().Add(5 * time.Second)
	for b.Stats().AwaitingApply < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("builds did not finish: %+v", b.Stats())
		}
		time.Sleep(time.Millisecond)
	}

	if !applyRecovering(b) {
		t.Fatalf("expected apply panic to reach the caller")
	}
	if applyRecovering(b) {
		t.Fatalf("second ApplyUpdates panicked")
	}
	if bad.applies.Load() != 1 || good.applies.Load() != 1 {
		t.Fatalf("bad.applies=%d good.applies=%d", bad.applies.Load(), good.applies.Load())
	}

	b.SubmitRelease(bad)
	b.SubmitRelease(good)
	drain(t, b)
	if st := b.Stats(); st.Managed != 0 || st.ReleasedTotal != 2 {
		t.Fatalf("stats %+v", st)
	}
}
