// Package archive exports finished runs: zstd-compressed JSON-lines day
// traces and uploads of run artifacts to S3-compatible object storage.
package archive

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/talgya/contagion/internal/agents"
	"github.com/talgya/contagion/internal/engine"
)

// Record kinds.
const (
	KindRun = "run"
	KindDay = "day"
)

// Record is one line of a trace. The first line is a KindRun record; every
// following line is a KindDay record.
type Record struct {
	Kind   string             `json:"kind"`
	RunID  string             `json:"run_id,omitempty"`
	Params *engine.Parameters `json:"params,omitempty"`
	Day    *engine.DayReport  `json:"day,omitempty"`
	Agents []agents.Agent     `json:"agents,omitempty"`
}

// TraceWriter streams records into a .jsonl.zst file.
type TraceWriter struct {
	// IncludeAgents adds the full agent list to every day record.
	IncludeAgents bool

	mu   sync.Mutex
	path string
	f    *os.File
	enc  *zstd.Encoder
	w    *bufio.Writer
	days int
}

// CreateTrace creates the file (and parent directories) and writes the run
// header.
func CreateTrace(path, runID string, p engine.Parameters) (*TraceWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create trace: %w", err)
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	t := &TraceWriter{
		path: path,
		f:    f,
		enc:  enc,
		w:    bufio.NewWriterSize(enc, 128*1024),
	}
	if err := t.writeLocked(Record{Kind: KindRun, RunID: runID, Params: &p}); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

// Path returns the file being written.
func (t *TraceWriter) Path() string { return t.path }

// Days returns how many day records were written.
func (t *TraceWriter) Days() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.days
}

// WriteDay appends one day.
func (t *TraceWriter) WriteDay(st engine.State, r engine.DayReport) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := Record{Kind: KindDay, Day: &r}
	if t.IncludeAgents {
		rec.Agents = st.Agents
	}
	if err := t.writeLocked(rec); err != nil {
		return err
	}
	t.days++
	return nil
}

func (t *TraceWriter) writeLocked(rec Record) error {
	if t.w == nil {
		return errors.New("trace closed")
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode trace record: %w", err)
	}
	if _, err := t.w.Write(b); err != nil {
		return err
	}
	return t.w.WriteByte('\n')
}

// Close flushes and finalizes the zstd frame.
func (t *TraceWriter) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var err error
	if t.w != nil {
		err = t.w.Flush()
		t.w = nil
	}
	if t.enc != nil {
		if cerr := t.enc.Close(); err == nil {
			err = cerr
		}
		t.enc = nil
	}
	if t.f != nil {
		if cerr := t.f.Close(); err == nil {
			err = cerr
		}
		t.f = nil
	}
	return err
}

// Trace is a decoded trace file.
type Trace struct {
	RunID  string
	Params engine.Parameters
	Days   []Record
}

// History rebuilds the count history recorded in the trace.
func (t Trace) History() engine.History {
	h := engine.NewHistory()
	for _, d := range t.Days {
		h.Append(d.Day.Stats)
	}
	return h
}

// ReadTrace decodes a trace file written by TraceWriter.
func ReadTrace(path string) (Trace, error) {
	var tr Trace
	f, err := os.Open(path)
	if err != nil {
		return tr, fmt.Errorf("open trace: %w", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return tr, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return tr, fmt.Errorf("trace line %d: %w", line, err)
		}
		switch {
		case line == 1 && rec.Kind == KindRun && rec.Params != nil:
			tr.RunID = rec.RunID
			tr.Params = *rec.Params
		case line > 1 && rec.Kind == KindDay && rec.Day != nil:
			tr.Days = append(tr.Days, rec)
		default:
			return tr, fmt.Errorf("trace line %d: unexpected %q record", line, rec.Kind)
		}
	}
	if err := sc.Err(); err != nil {
		return tr, fmt.Errorf("read trace: %w", err)
	}
	if line == 0 {
		return tr, errors.New("read trace: empty file")
	}
	return tr, nil
}
