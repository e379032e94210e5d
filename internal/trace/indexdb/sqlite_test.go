package indexdb

import (
	"context"
	"path/filepath"
	"testing"

	"zonepager.ai/internal/trace"
)

func TestIndex_WritesAndQueries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.sqlite")
	idx, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	evs := []trace.Event{
		{RunID: "r1", Seq: 1, UnixMs: 10, Kind: trace.KindCreated, Window: "lod", Slot: 1, To: "UNBUILT"},
		{RunID: "r1", Seq: 2, UnixMs: 11, Kind: trace.KindTransition, Window: "lod", Slot: 1, From: "UNBUILT", To: "QUEUED"},
		{RunID: "r1", Seq: 3, UnixMs: 12, Kind: trace.KindTransition, Window: "lod", Slot: 2, From: "UNBUILT", To: "QUEUED"},
		{RunID: "r1", Seq: 4, UnixMs: 13, Kind: trace.KindTransition, Window: "lod", Slot: 1, From: "QUEUED", To: "RELEASED"},
		{RunID: "r2", Seq: 1, UnixMs: 20, Kind: trace.KindMissing, Window: "detail", Cell: [3]int{1, 0, -1}},
	}
	for _, ev := range evs {
		if err := idx.WriteEvent(ev); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if st := idx.Stats(); st.WrittenTotal != uint64(len(evs)) || st.DroppedTotal != 0 {
		t.Fatalf("stats %+v", st)
	}
	if err := idx.WriteEvent(evs[0]); err != nil {
		t.Fatalf("write after close should be a no-op: %v", err)
	}

	idx, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()
	ctx := context.Background()

	counts, err := idx.CountByState(ctx, "r1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts["QUEUED"] != 2 || counts["RELEASED"] != 1 || counts["UNBUILT"] != 1 {
		t.Fatalf("counts %v", counts)
	}

	hist, err := idx.SlotHistory(ctx, "r1", 1)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 3 || hist[2].To != "RELEASED" {
		t.Fatalf("history %+v", hist)
	}

	runs, err := idx.Runs(ctx)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "r1" || runs[0].Released != 1 || runs[1].Events != 1 {
		t.Fatalf("runs %+v", runs)
	}
}

func TestIndex_QueueDropStats(t *testing.T) {
	s := &Index{ch: make(chan trace.Event, 1)}
	_ = s.WriteEvent(trace.Event{Seq: 1})
	_ = s.WriteEvent(trace.Event{Seq: 2})
	_ = s.WriteEvent(trace.Event{Seq: 3})

	st := s.Stats()
	if st.DroppedTotal != 2 {
		t.Fatalf("DroppedTotal=%d want=2", st.DroppedTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}
