package main

import (
	"strings"
	"testing"

	"zonepager.ai/internal/observerproto"
	"zonepager.ai/internal/trace"
)

func TestWriteMetricsLabelsWindows(t *testing.T) {
	s := observerproto.StatsMsg{
		Live: 12,
		Windows: []observerproto.WindowStats{
			{Name: "lod", Applied: 9, MaxCount: 9},
			{Name: "detail", Applied: 3, MaxCount: 50, MissingDeps: 2},
		},
		Builder: observerproto.BuilderStats{QueueDepth: 4, Managed: 12, BuiltTotal: 20},
	}
	var sb strings.Builder
	writeMetrics(&sb, s, trace.NewRecorder(nil), nil)
	out := sb.String()
	for _, want := range []string{
		"pager_live_slots 12\n",
		`pager_window_applied{window="lod"} 9` + "\n",
		`pager_window_max_slots{window="detail"} 50` + "\n",
		`pager_window_missing_dependencies_total{window="detail"} 2` + "\n",
		`pager_builder_tasks{stage="queued"} 4` + "\n",
		`pager_builder_total{event="built"} 20` + "\n",
		"pager_trace_sink_errors_total 0\n",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "pager_trace_index") {
		t.Fatalf("index metrics without an index:\n%s", out)
	}
}
