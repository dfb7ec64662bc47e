// Package journal persists state as JSON files and logs as JSON-lines files
// under one directory, one file per log kind.
package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"perpcore/pkg/store"
)

const maxLineBytes = 4 << 20

// Writer is a directory-backed store.Store.
type Writer struct {
	dir   string
	nowFn func() time.Time

	mu  sync.Mutex
	seq uint64
}

// NewWriter prepares dir and resumes the sequence from existing log files.
func NewWriter(dir string) (*Writer, error) {
	if dir == "" {
		dir = "journal"
	}
	if err := os.MkdirAll(filepath.Join(dir, "state"), 0o755); err != nil {
		return nil, fmt.Errorf("journal: mkdir: %w", err)
	}
	w := &Writer{dir: dir, nowFn: time.Now}
	for _, kind := range store.Kinds {
		entries, err := w.readAll(kind)
		if err != nil {
			return nil, err
		}
		if n := len(entries); n > 0 && entries[n-1].Seq > w.seq {
			w.seq = entries[n-1].Seq
		}
	}
	return w, nil
}

// Save writes the value to state/<owner>/<key>.json via a temp file rename.
func (w *Writer) Save(_ context.Context, owner, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("journal: encode %s/%s: %w", owner, key, err)
	}
	path := w.statePath(owner, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("journal: mkdir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("journal: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("journal: rename %s: %w", path, err)
	}
	return nil
}

// Load reads state/<owner>/<key>.json.
func (w *Writer) Load(_ context.Context, owner, key string, v any) (bool, error) {
	data, err := os.ReadFile(w.statePath(owner, key))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("journal: read %s/%s: %w", owner, key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("journal: decode %s/%s: %w", owner, key, err)
	}
	return true, nil
}

// Append adds one line to <kind>.jsonl.
func (w *Writer) Append(_ context.Context, kind store.Kind, symbol string, payload any) error {
	if !store.ValidKind(kind) {
		return fmt.Errorf("journal: append %q: %w", kind, store.ErrUnknownKind)
	}
	data, err := store.Encode(payload)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	entry := store.Entry{Seq: w.seq + 1, Kind: kind, Symbol: symbol, At: w.nowFn().UTC(), Data: data}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("journal: encode entry: %w", err)
	}
	f, err := os.OpenFile(w.logPath(kind), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("journal: open %s: %w", kind, err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("journal: write %s: %w", kind, err)
	}
	w.seq = entry.Seq
	return nil
}

// Recent scans the kind's file and returns matches newest first.
func (w *Writer) Recent(_ context.Context, kind store.Kind, symbol string, limit int) ([]store.Entry, error) {
	if !store.ValidKind(kind) {
		return nil, fmt.Errorf("journal: recent %q: %w", kind, store.ErrUnknownKind)
	}
	w.mu.Lock()
	entries, err := w.readAll(kind)
	w.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return store.FilterRecent(entries, symbol, limit), nil
}

func (w *Writer) readAll(kind store.Kind) ([]store.Entry, error) {
	f, err := os.Open(w.logPath(kind))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", kind, err)
	}
	defer f.Close()
	var out []store.Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e store.Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("journal: parse %s line: %w", kind, err)
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("journal: scan %s: %w", kind, err)
	}
	return out, nil
}

func (w *Writer) logPath(kind store.Kind) string {
	return filepath.Join(w.dir, string(kind)+".jsonl")
}

func (w *Writer) statePath(owner, key string) string {
	return filepath.Join(w.dir, "state", sanitize(owner), sanitize(key)+".json")
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '.':
			return '_'
		}
		return r
	}, s)
}
