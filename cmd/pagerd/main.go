package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"zonepager.ai/internal/builder"
	"zonepager.ai/internal/config"
	"zonepager.ai/internal/stream"
	"zonepager.ai/internal/trace"
	"zonepager.ai/internal/trace/indexdb"
	"zonepager.ai/internal/trace/jsonl"
	"zonepager.ai/internal/trace/mirror"
	"zonepager.ai/internal/transport/observer"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/pager.yaml", "pager config path (empty for built-in defaults)")
		addr       = flag.String("addr", "", "http listen address (overrides observer.addr)")
		traceDir   = flag.String("trace_dir", "", "trace directory (overrides trace.dir)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite transition index")
		duration   = flag.Duration("duration", 0, "stop after this long (overrides flythrough.duration_sec)")
		noFly      = flag.Bool("no_flythrough", false, "do not drive the focus; use POST /debug/v1/focus instead")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[pagerd] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if v := strings.TrimSpace(*addr); v != "" {
		cfg.Observer.Addr = v
	}
	if v := strings.TrimSpace(*traceDir); v != "" {
		cfg.Trace.Dir = v
	}
	if *disableDB {
		cfg.Trace.SQLitePath = ""
	}
	runFor := time.Duration(cfg.Flythrough.DurationSec * float64(time.Second))
	if *duration > 0 {
		runFor = *duration
	}

	var sinks []trace.Sink
	var tw *jsonl.Writer
	var mir *mirror.Mirror
	if cfg.Trace.Dir != "" {
		tw = jsonl.NewWriterWithOptions(cfg.Trace.Dir, "transitions", jsonl.Options{
			OnClose: func(path string) { mir.Enqueue(path) },
		})
		sinks = append(sinks, trace.SinkFunc(func(ev trace.Event) error { return tw.Write(ev) }))
	}
	var idx *indexdb.Index
	if cfg.Trace.SQLitePath != "" {
		idx, err = indexdb.Open(cfg.Trace.SQLitePath)
		if err != nil {
			logger.Fatalf("open trace index: %v", err)
		}
		sinks = append(sinks, idx)
	}
	rec := trace.NewRecorder(logger, sinks...)
	if cfg.Trace.Mirror.Enabled() {
		mir, err = buildMirror(cfg.Trace.Mirror, rec.RunID(), logger)
		if err != nil {
			logger.Fatalf("trace mirror: %v", err)
		}
	}

	b := builder.New(cfg.Workers, logger)
	root, kinds, err := stream.BuildHierarchy(cfg, b, rec, logger)
	if err != nil {
		logger.Fatalf("windows: %v", err)
	}
	rt, err := stream.New(stream.Config{
		Root:       root,
		Builder:    b,
		StatsEvery: time.Duration(cfg.StatsEveryMs) * time.Millisecond,
		Logger:     logger,
		RunID:      rec.RunID(),
		Seed:       cfg.Seed,
		Kinds:      kinds,
	})
	if err != nil {
		logger.Fatalf("runtime: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()
	if runFor > 0 {
		var cancelRun context.CancelFunc
		ctx, cancelRun = context.WithTimeout(ctx, runFor)
		defer cancelRun()
	}

	runDone := make(chan error, 1)
	go func() { runDone <- rt.Run(ctx) }()

	if !*noFly {
		go newFlythrough(cfg.Flythrough).drive(ctx, rt, cfg.UpdateRateHz, logger)
	}
	if tw != nil {
		go flushEvery(ctx, tw, 2*time.Second, logger)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		ctx2, cancel2 := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel2()
		s, err := rt.Stats(ctx2)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, s, rec, idx)
	})
	mux.HandleFunc("/debug/v1/audit", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(rec.Report())
	})
	observer.NewServer(rt, cfg.Observer.AllowRemote, logger).Routes(mux)
	if envBool("PAGER_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              cfg.Observer.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()
	go func() {
		logger.Printf("listening on %s run=%s windows=%d", cfg.Observer.Addr, rec.RunID(), len(cfg.Windows))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("ListenAndServe: %v", err)
			cancel()
		}
	}()

	if err := <-runDone; err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		logger.Printf("runtime stopped: %v", err)
	}
	b.Close()

	if tw != nil {
		if err := tw.Close(); err != nil {
			logger.Printf("trace writer close: %v", err)
		}
	}
	if mir != nil {
		mir.Close()
		st := mir.Stats()
		logger.Printf("trace mirror: uploaded=%d failed=%d dropped=%d", st.UploadedTotal, st.FailedTotal, st.DroppedTotal)
	}
	if idx != nil {
		if err := idx.Close(); err != nil {
			logger.Printf("trace index close: %v", err)
		}
		st := idx.Stats()
		logger.Printf("trace index: written=%d dropped=%d failed=%d", st.WrittenTotal, st.DroppedTotal, st.FailedTotal)
	}

	report := rec.Report()
	logger.Printf("audit: events=%d slots=%d created=%d released=%d live=%d missing=%d sink_errors=%d",
		report.Events, report.Slots, report.Created, report.Released, report.Live, report.Missing, rec.SinkErrors())
	for _, v := range report.Violations {
		logger.Printf("audit violation: %s", v)
	}
	if !report.Clean() || report.Live != 0 {
		fmt.Fprintln(os.Stderr, "pagerd: slots were not released exactly once")
		os.Exit(1)
	}
}

func flushEvery(ctx context.Context, w *jsonl.Writer, every time.Duration, logger *log.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Flush(); err != nil {
				logger.Printf("trace flush: %v", err)
			}
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func buildMirror(spec config.MirrorSpec, runID string, logger *log.Logger) (*mirror.Mirror, error) {
	creds := mirror.Credentials{
		AccessKeyID:     strings.TrimSpace(os.Getenv("PAGER_S3_ACCESS_KEY_ID")),
		SecretAccessKey: strings.TrimSpace(os.Getenv("PAGER_S3_SECRET_ACCESS_KEY")),
	}
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return nil, fmt.Errorf("trace.mirror is set but PAGER_S3_ACCESS_KEY_ID/PAGER_S3_SECRET_ACCESS_KEY are not")
	}
	client, err := mirror.NewClient(spec.Endpoint, spec.Bucket, spec.Region, creds)
	if err != nil {
		return nil, err
	}
	return mirror.New(client, mirror.Options{
		Prefix:  spec.Prefix,
		RunID:   runID,
		Workers: spec.Workers,
	}, logger), nil
}
