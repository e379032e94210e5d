package jsonl

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

type row struct {
	N    int    `json:"n"`
	Name string `json:"name"`
}

func TestWriterRotatesHourlyAndReadsBack(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(filepath.Join(dir, "trace"), "events")
	clock := time.Date(2024, 5, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		if err := w.Write(row{N: i, Name: "a"}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	clock = clock.Add(2 * time.Minute)
	if err := w.Write(row{N: 3, Name: "b"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if w.Lines() != 4 {
		t.Fatalf("lines = %d", w.Lines())
	}

	files, err := Files(filepath.Join(dir, "trace"), "events")
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "events-2024-05-01-10.jsonl.zst" {
		t.Fatalf("files = %v", files)
	}

	var got []row
	for _, f := range files {
		err := ReadFile(f, func(line []byte) error {
			var r row
			if err := json.Unmarshal(line, &r); err != nil {
				return err
			}
			got = append(got, r)
			return nil
		})
		if err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
	}
	if len(got) != 4 || got[3].Name != "b" || got[0].N != 0 {
		t.Fatalf("rows = %+v", got)
	}
}

func TestFlushMakesOpenFileReadable(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, "events")
	defer w.Close()
	if err := w.Write(row{N: 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	files, _ := Files(dir, "events")
	if len(files) != 1 {
		t.Fatalf("files = %v", files)
	}
	n := 0
	_ = ReadFile(files[0], func([]byte) error { n++; return nil })
	if n != 1 {
		t.Fatalf("read %d lines from open file", n)
	}
}

func TestOnCloseReportsFinishedFiles(t *testing.T) {
	dir := t.TempDir()
	var closed []string
	w := NewWriterWithOptions(dir, "events", Options{OnClose: func(p string) { closed = append(closed, filepath.Base(p)) }})
	clock := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
	w.now = func() time.Time { return clock }

	if err := w.Write(row{N: 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	clock = clock.Add(time.Hour)
	if err := w.Write(row{N: 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(closed) != 1 || closed[0] != "events-2024-05-01-08.jsonl.zst" {
		t.Fatalf("closed after rotation = %v", closed)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(closed) != 2 || closed[1] != "events-2024-05-01-09.jsonl.zst" {
		t.Fatalf("closed after Close = %v", closed)
	}
}
