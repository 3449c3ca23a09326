// Package exchange implements ExchangeRecord and its per-day JSONL writer
// (spec.md §3, §6: logs/exchanges_<YYYY-MM-DD>.jsonl). Unlike pkg/eventlog it
// has no background queue: each Append encodes and flushes its record before
// returning.
package exchange

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/voicemode/voicemode/pkg/vmlog"
)

// Kind distinguishes an STT exchange from a TTS exchange.
type Kind string

const (
	KindSTT Kind = "stt"
	KindTTS Kind = "tts"
)

// Record is one STT or TTS exchange, per spec.md §3.
type Record struct {
	ConversationID string        `json:"conversation_id,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
	Kind           Kind          `json:"kind"`
	Text           string        `json:"text"`
	Duration       time.Duration `json:"duration_ms"`
	Provider       string        `json:"provider"`
	VoiceOrModel   string        `json:"voice_or_model,omitempty"`
	TTFA           time.Duration `json:"ttfa_ms,omitempty"`
	AudioPath      string        `json:"audio_path,omitempty"`
}

// MarshalJSON writes Duration and TTFA as whole milliseconds, matching their
// JSON field names.
func (r Record) MarshalJSON() ([]byte, error) {
	type alias Record
	return json.Marshal(struct {
		alias
		Duration int64 `json:"duration_ms"`
		TTFA     int64 `json:"ttfa_ms,omitempty"`
	}{alias(r), r.Duration.Milliseconds(), r.TTFA.Milliseconds()})
}

// Writer appends Records to one per-day JSONL file under baseDir, rolling
// to a new file when the UTC date changes.
type Writer struct {
	baseDir string
	logger  vmlog.Logger

	mu      sync.Mutex
	day     string
	file    *os.File
	w       *bufio.Writer
}

// NewWriter builds a Writer rooted at baseDir (the logs directory).
func NewWriter(baseDir string, logger vmlog.Logger) *Writer {
	return &Writer{baseDir: baseDir, logger: vmlog.OrDefault(logger)}
}

// Append writes one record, rolling the file if the day has changed.
func (w *Writer) Append(rec Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	day := rec.Timestamp.UTC().Format("2006-01-02")
	if day != w.day {
		if w.file != nil {
			w.w.Flush()
			w.file.Close()
		}
		if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
			return err
		}
		path := filepath.Join(w.baseDir, "exchanges_"+day+".jsonl")
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		w.file = f
		w.w = bufio.NewWriter(f)
		w.day = day
	}

	enc, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(enc); err != nil {
		return err
	}
	w.w.WriteByte('\n')
	return w.w.Flush()
}

// Close flushes and closes the current day's file, if open.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	w.w.Flush()
	return w.file.Close()
}
