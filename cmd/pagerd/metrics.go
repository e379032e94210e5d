package main

import (
	"fmt"
	"io"

	"zonepager.ai/internal/observerproto"
	"zonepager.ai/internal/trace"
	"zonepager.ai/internal/trace/indexdb"
)

// writeMetrics renders a minimal Prometheus exposition.
func writeMetrics(w io.Writer, s observerproto.StatsMsg, rec *trace.Recorder, idx *indexdb.Index) {
	fmt.Fprintf(w, "# HELP pager_live_slots Slots not yet released across all windows.\n")
	fmt.Fprintf(w, "# TYPE pager_live_slots gauge\n")
	fmt.Fprintf(w, "pager_live_slots %d\n", s.Live)

	fmt.Fprintf(w, "# HELP pager_window_applied Applied slots per window.\n")
	fmt.Fprintf(w, "# TYPE pager_window_applied gauge\n")
	for _, ws := range s.Windows {
		fmt.Fprintf(w, "pager_window_applied{window=%q} %d\n", ws.Name, ws.Applied)
	}
	fmt.Fprintf(w, "# HELP pager_window_max_slots Slot capacity per window.\n")
	fmt.Fprintf(w, "# TYPE pager_window_max_slots gauge\n")
	for _, ws := range s.Windows {
		fmt.Fprintf(w, "pager_window_max_slots{window=%q} %d\n", ws.Name, ws.MaxCount)
	}
	fmt.Fprintf(w, "# HELP pager_window_missing_dependencies_total Child slots that found no parent.\n")
	fmt.Fprintf(w, "# TYPE pager_window_missing_dependencies_total counter\n")
	for _, ws := range s.Windows {
		fmt.Fprintf(w, "pager_window_missing_dependencies_total{window=%q} %d\n", ws.Name, ws.MissingDeps)
	}

	bs := s.Builder
	fmt.Fprintf(w, "# HELP pager_builder_tasks Builder tasks by stage.\n")
	fmt.Fprintf(w, "# TYPE pager_builder_tasks gauge\n")
	fmt.Fprintf(w, "pager_builder_tasks{stage=%q} %d\n", "queued", bs.QueueDepth)
	fmt.Fprintf(w, "pager_builder_tasks{stage=%q} %d\n", "building", bs.Building)
	fmt.Fprintf(w, "pager_builder_tasks{stage=%q} %d\n", "awaiting_apply", bs.AwaitingApply)
	fmt.Fprintf(w, "pager_builder_tasks{stage=%q} %d\n", "pending_release", bs.PendingReleases)
	fmt.Fprintf(w, "pager_builder_tasks{stage=%q} %d\n", "managed", bs.Managed)

	fmt.Fprintf(w, "# HELP pager_builder_total Builder lifecycle counters.\n")
	fmt.Fprintf(w, "# TYPE pager_builder_total counter\n")
	fmt.Fprintf(w, "pager_builder_total{event=%q} %d\n", "built", bs.BuiltTotal)
	fmt.Fprintf(w, "pager_builder_total{event=%q} %d\n", "failed", bs.FailedTotal)
	fmt.Fprintf(w, "pager_builder_total{event=%q} %d\n", "applied", bs.AppliedTotal)
	fmt.Fprintf(w, "pager_builder_total{event=%q} %d\n", "released", bs.ReleasedTotal)

	fmt.Fprintf(w, "# HELP pager_trace_sink_errors_total Trace sink write failures.\n")
	fmt.Fprintf(w, "# TYPE pager_trace_sink_errors_total counter\n")
	fmt.Fprintf(w, "pager_trace_sink_errors_total %d\n", rec.SinkErrors())

	if idx == nil {
		return
	}
	st := idx.Stats()
	fmt.Fprintf(w, "# HELP pager_trace_index_queue_depth Trace index writer backlog.\n")
	fmt.Fprintf(w, "# TYPE pager_trace_index_queue_depth gauge\n")
	fmt.Fprintf(w, "pager_trace_index_queue_depth %d\n", st.QueueDepth)
	fmt.Fprintf(w, "# HELP pager_trace_index_events_total Trace index event outcomes.\n")
	fmt.Fprintf(w, "# TYPE pager_trace_index_events_total counter\n")
	fmt.Fprintf(w, "pager_trace_index_events_total{result=%q} %d\n", "written", st.WrittenTotal)
	fmt.Fprintf(w, "pager_trace_index_events_total{result=%q} %d\n", "dropped", st.DroppedTotal)
	fmt.Fprintf(w, "pager_trace_index_events_total{result=%q} %d\n", "failed", st.FailedTotal)
}
