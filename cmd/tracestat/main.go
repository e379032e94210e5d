package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"zonepager.ai/internal/trace"
	"zonepager.ai/internal/trace/indexdb"
	"zonepager.ai/internal/trace/jsonl"
)

func main() {
	var (
		dir     = flag.String("dir", "./data/trace", "trace dir containing <prefix>-*.jsonl.zst")
		prefix  = flag.String("prefix", "transitions", "trace file prefix")
		runID   = flag.String("run", "", "only audit this run id (optional)")
		dbPath  = flag.String("sqlite", "", "trace index to query instead of scanning files (optional)")
		slot    = flag.Uint64("slot", 0, "print the history of this slot (requires -sqlite and -run)")
		jsonOut = flag.Bool("json", false, "print the report as json")
	)
	flag.Parse()

	if *dbPath != "" {
		if err := queryIndex(*dbPath, *runID, *slot); err != nil {
			fmt.Fprintln(os.Stderr, "index:", err)
			os.Exit(1)
		}
		return
	}

	files, err := jsonl.Files(*dir, *prefix)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list trace files:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no trace files found in", *dir)
		os.Exit(1)
	}

	report, err := auditFiles(files, *runID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "audit:", err)
		os.Exit(1)
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
	} else {
		printReport(report, len(files))
	}
	if !report.Clean() {
		os.Exit(1)
	}
}

func auditFiles(files []string, runID string) (trace.AuditReport, error) {
	a := trace.NewAudit()
	for _, path := range files {
		err := jsonl.ReadFile(path, func(line []byte) error {
			var ev trace.Event
			if err := json.Unmarshal(line, &ev); err != nil {
				return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
			}
			if runID != "" && ev.RunID != runID {
				return nil
			}
			a.Feed(ev)
			return nil
		})
		if err != nil {
			return trace.AuditReport{}, err
		}
	}
	return a.Report(), nil
}

func printReport(r trace.AuditReport, files int) {
	fmt.Printf("files=%d events=%d slots=%d created=%d released=%d live=%d missing=%d\n",
		files, r.Events, r.Slots, r.Created, r.Released, r.Live, r.Missing)
	states := make([]string, 0, len(r.ByState))
	for s := range r.ByState {
		states = append(states, s)
	}
	sort.Strings(states)
	for _, s := range states {
		fmt.Printf("  %-16s %d\n", s, r.ByState[s])
	}
	for _, v := range r.Violations {
		fmt.Printf("violation: %s\n", v)
	}
	if r.Clean() {
		fmt.Println("audit ok: every slot released at most once")
	}
}

func queryIndex(path, runID string, slot uint64) error {
	idx, err := indexdb.Open(path)
	if err != nil {
		return err
	}
	defer idx.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if runID == "" {
		runs, err := idx.Runs(ctx)
		if err != nil {
			return err
		}
		for _, r := range runs {
			fmt.Printf("run=%s events=%d released=%d span=%s\n", r.RunID, r.Events, r.Released, time.Duration(r.LastMs-r.FirstMs)*time.Millisecond)
		}
		return nil
	}
	if slot != 0 {
		hist, err := idx.SlotHistory(ctx, runID, slot)
		if err != nil {
			return err
		}
		for _, ev := range hist {
			fmt.Printf("seq=%d %s %s cell=%v %s -> %s\n", ev.Seq, ev.Kind, ev.Window, ev.Cell, ev.From, ev.To)
		}
		return nil
	}
	counts, err := idx.CountByState(ctx, runID)
	if err != nil {
		return err
	}
	states := make([]string, 0, len(counts))
	for s := range counts {
		states = append(states, s)
	}
	sort.Strings(states)
	for _, s := range states {
		fmt.Printf("%-16s %d\n", s, counts[s])
	}
	return nil
}
