package mirror

import (
	"context"
	"log"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Uploader interface {
	PutFile(ctx context.Context, key, localPath string) error
}

type Stats struct {
	QueueDepth      int
	QueueCapacity   int
	EnqueuedTotal   uint64
	DroppedTotal    uint64
	UploadedTotal   uint64
	FailedTotal     uint64
	LastSuccessUnix int64
	LastErrorUnix   int64
}

type Options struct {
	// Prefix is prepended to every object key, followed by the run id.
	Prefix  string
	RunID   string
	Workers int
	Queue   int

	// EnqueueWait bounds how long Enqueue blocks on a full queue.
	EnqueueWait time.Duration
	Attempts    int
	Backoff     time.Duration
}

// Mirror uploads finished trace files in the background. Enqueue never
// blocks the trace writer for longer than EnqueueWait.
type Mirror struct {
	up     Uploader
	opts   Options
	logger *log.Logger

	jobs   chan string
	wg     sync.WaitGroup
	closed atomic.Bool
	once   sync.Once

	enqueuedTotal   atomic.Uint64
	droppedTotal    atomic.Uint64
	uploadedTotal   atomic.Uint64
	failedTotal     atomic.Uint64
	lastSuccessUnix atomic.Int64
	lastErrorUnix   atomic.Int64
}

func New(up Uploader, opts Options, logger *log.Logger) *Mirror {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Queue <= 0 {
		opts.Queue = 256
	}
	if opts.EnqueueWait <= 0 {
		opts.EnqueueWait = 25 * time.Millisecond
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 4
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	opts.Prefix = strings.Trim(strings.ReplaceAll(opts.Prefix, "\\", "/"), "/")

	m := &Mirror{
		up:     up,
		opts:   opts,
		logger: logger,
		jobs:   make(chan string, opts.Queue),
	}
	for i := 0; i < opts.Workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for p := range m.jobs {
				m.upload(p)
			}
		}()
	}
	return m
}

func (m *Mirror) Enqueue(localPath string) {
	if m == nil || m.closed.Load() {
		return
	}
	m.enqueuedTotal.Add(1)
	select {
	case m.jobs <- localPath:
		return
	default:
	}
	timer := time.NewTimer(m.opts.EnqueueWait)
	defer timer.Stop()
	select {
	case m.jobs <- localPath:
	case <-timer.C:
		n := m.droppedTotal.Add(1)
		m.printf("trace mirror drop local=%s reason=queue_saturated dropped_total=%d", localPath, n)
	}
}

// Close stops accepting files and waits for queued uploads.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.once.Do(func() {
		m.closed.Store(true)
		close(m.jobs)
	})
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:      len(m.jobs),
		QueueCapacity:   cap(m.jobs),
		EnqueuedTotal:   m.enqueuedTotal.Load(),
		DroppedTotal:    m.droppedTotal.Load(),
		UploadedTotal:   m.uploadedTotal.Load(),
		FailedTotal:     m.failedTotal.Load(),
		LastSuccessUnix: m.lastSuccessUnix.Load(),
		LastErrorUnix:   m.lastErrorUnix.Load(),
	}
}

// Key maps a local trace file to its object key.
func (m *Mirror) Key(localPath string) string {
	parts := []string{}
	if m.opts.Prefix != "" {
		parts = append(parts, m.opts.Prefix)
	}
	if m.opts.RunID != "" {
		parts = append(parts, m.opts.RunID)
	}
	parts = append(parts, filepath.Base(localPath))
	return path.Join(parts...)
}

func (m *Mirror) upload(localPath string) {
	key := m.Key(localPath)
	var err error
	for attempt := 1; attempt <= m.opts.Attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err = m.up.PutFile(ctx, key, localPath)
		cancel()
		if err == nil {
			break
		}
		if attempt < m.opts.Attempts {
			time.Sleep(time.Duration(attempt*attempt) * m.opts.Backoff)
		}
	}
	if err != nil {
		m.failedTotal.Add(1)
		m.lastErrorUnix.Store(time.Now().UTC().Unix())
		m.printf("trace mirror upload failed key=%s local=%s err=%v", key, localPath, err)
		return
	}
	m.uploadedTotal.Add(1)
	m.lastSuccessUnix.Store(time.Now().UTC().Unix())
	m.printf("trace mirror uploaded key=%s", key)
}

func (m *Mirror) printf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}
