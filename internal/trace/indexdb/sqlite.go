// Package indexdb keeps a queryable SQLite index of trace events. The JSONL
// trace stays the source of truth; the index may drop events under load.
package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"zonepager.ai/internal/trace"
)

type Stats struct {
	QueueDepth    int
	QueueCapacity int
	WrittenTotal  uint64
	DroppedTotal  uint64
	FailedTotal   uint64
}

type Index struct {
	db *sql.DB

	ch   chan trace.Event
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	writtenTotal atomic.Uint64
	droppedTotal atomic.Uint64
	failedTotal  atomic.Uint64
}

type RunSummary struct {
	RunID    string
	Events   int
	FirstMs  int64
	LastMs   int64
	Released int
}

func Open(path string) (*Index, error) {
	return open(path, 65536)
}

func open(path string, queue int) (*Index, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Index{
		db: db,
		ch: make(chan trace.Event, queue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			unix_ms INTEGER NOT NULL,
			kind TEXT NOT NULL,
			window_name TEXT NOT NULL,
			slot INTEGER NOT NULL,
			cx INTEGER NOT NULL,
			cy INTEGER NOT NULL,
			cz INTEGER NOT NULL,
			from_state TEXT,
			to_state TEXT,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (run_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_slot ON events(run_id, slot, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_events_cell ON events(window_name, cx, cz, cy);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *Index) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// WriteEvent queues ev without blocking. Events are dropped, and counted,
// when the writer falls behind.
func (s *Index) WriteEvent(ev trace.Event) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- ev:
	default:
		s.droppedTotal.Add(1)
	}
	return nil
}

func (s *Index) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		WrittenTotal:  s.writtenTotal.Load(),
		DroppedTotal:  s.droppedTotal.Load(),
		FailedTotal:   s.failedTotal.Load(),
	}
}

func (s *Index) loop() {
	ctx := context.Background()
	insert, _ := s.db.Prepare(`INSERT OR REPLACE INTO events(run_id,seq,unix_ms,kind,window_name,slot,cx,cy,cz,from_state,to_state,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`)
	defer func() {
		if insert != nil {
			_ = insert.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 500 * time.Millisecond
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.failedTotal.Add(uint64(opCount))
		} else {
			s.writtenTotal.Add(uint64(opCount))
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		s.failedTotal.Add(uint64(opCount))
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			begin()
			if tx == nil || insert == nil {
				s.failedTotal.Add(1)
				continue
			}
			raw, _ := json.Marshal(ev)
			if _, err := tx.Stmt(insert).Exec(
				ev.RunID,
				int64(ev.Seq),
				ev.UnixMs,
				ev.Kind,
				ev.Window,
				int64(ev.Slot),
				ev.Cell[0], ev.Cell[1], ev.Cell[2],
				nullable(ev.From),
				nullable(ev.To),
				string(raw),
			); err != nil {
				s.failedTotal.Add(1)
				rollback()
				continue
			}
			opCount++
			flushIfNeeded()
		case <-ticker.C:
			flushIfNeeded()
		}
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// CountByState counts transitions into each state for one run.
func (s *Index) CountByState(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT to_state, COUNT(*) FROM events WHERE run_id = ? AND to_state IS NOT NULL GROUP BY to_state`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		out[state] = n
	}
	return out, rows.Err()
}

// SlotHistory returns the events of one slot in sequence order.
func (s *Index) SlotHistory(ctx context.Context, runID string, slot uint64) ([]trace.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT raw_json FROM events WHERE run_id = ? AND slot = ? ORDER BY seq`, runID, int64(slot))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []trace.Event
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var ev trace.Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Index) Runs(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, COUNT(*), MIN(unix_ms), MAX(unix_ms),
		SUM(CASE WHEN to_state = 'RELEASED' THEN 1 ELSE 0 END)
		FROM events GROUP BY run_id ORDER BY MIN(unix_ms)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.Events, &r.FirstMs, &r.LastMs, &r.Released); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
