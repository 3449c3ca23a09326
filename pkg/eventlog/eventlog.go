// Package eventlog implements the append-only EventLog writer from spec.md
// §4.11: a buffered, background-flushed JSONL sink that never blocks the
// audio path. Grounded on the teacher's Logger/NoOpLogger dependency-
// injection shape (pkg/orchestrator/types.go) generalized from a log
// interface into a structured event sink with its own flush goroutine.
package eventlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/voicemode/voicemode/pkg/vmlog"
)

// EventType enumerates spec.md §4.11's vocabulary.
type EventType string

const (
	TTSStart            EventType = "TTS_START"
	TTSFirstAudio       EventType = "TTS_FIRST_AUDIO"
	RecordingStart      EventType = "RECORDING_START"
	RecordingEnd        EventType = "RECORDING_END"
	STTStart            EventType = "STT_START"
	STTComplete         EventType = "STT_COMPLETE"
	ToolRequestStart    EventType = "TOOL_REQUEST_START"
	ToolRequestEnd      EventType = "TOOL_REQUEST_END"
	BargeInStart        EventType = "BARGE_IN_START"
	BargeInDetected     EventType = "BARGE_IN_DETECTED"
	BargeInStop         EventType = "BARGE_IN_STOP"
	BargeInFalsePositive EventType = "BARGE_IN_FALSE_POSITIVE"
	BargeInSTTError     EventType = "BARGE_IN_STT_ERROR"
)

// criticalEvents are never dropped on buffer overflow; everything else is
// eligible to be dropped oldest-first, per spec.md §4.11.
var criticalEvents = map[EventType]bool{
	BargeInDetected: true,
	STTComplete:     true,
	ToolRequestEnd:  true,
}

// Record is one EventLog entry.
type Record struct {
	Timestamp      time.Time              `json:"timestamp"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	EventType      EventType              `json:"event_type"`
	Data           map[string]interface{} `json:"data,omitempty"`
}

// Log is a non-blocking, buffered append-only JSONL writer. Emit never
// blocks the caller: it either enqueues or, on a full buffer, drops the
// oldest non-critical queued record to make room.
type Log struct {
	logger vmlog.Logger

	mu      sync.Mutex
	queue   []Record
	maxSize int
	notify  chan struct{}

	path string

	closeOnce sync.Once
	done      chan struct{}
	stop      chan struct{}
}

// New starts a Log writing JSONL records to path (created/appended), with a
// bounded in-memory queue of maxSize records.
func New(path string, maxSize int, logger vmlog.Logger) (*Log, error) {
	if maxSize <= 0 {
		maxSize = 1024
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	l := &Log{
		logger:  vmlog.OrDefault(logger),
		maxSize: maxSize,
		notify:  make(chan struct{}, 1),
		path:    path,
		done:    make(chan struct{}),
		stop:    make(chan struct{}),
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	go l.run(f)
	return l, nil
}

// Emit enqueues a record. Never blocks: on a full queue, the oldest
// non-critical queued record is dropped to make room; if every queued
// record is critical, the new one is dropped instead and logged.
func (l *Log) Emit(eventType EventType, conversationID string, data map[string]interface{}) {
	rec := Record{Timestamp: time.Now(), ConversationID: conversationID, EventType: eventType, Data: data}

	l.mu.Lock()
	if len(l.queue) >= l.maxSize {
		if idx := indexOfFirstDroppable(l.queue); idx >= 0 {
			l.queue = append(l.queue[:idx], l.queue[idx+1:]...)
		} else {
			l.mu.Unlock()
			l.logger.Warn("eventlog: buffer full of critical events, dropping new event", "event_type", eventType)
			return
		}
	}
	l.queue = append(l.queue, rec)
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
}

func indexOfFirstDroppable(queue []Record) int {
	for i, r := range queue {
		if !criticalEvents[r.EventType] {
			return i
		}
	}
	return -1
}

func (l *Log) run(f *os.File) {
	defer close(l.done)
	defer f.Close()

	w := bufio.NewWriter(f)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	flush := func() {
		l.mu.Lock()
		pending := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, rec := range pending {
			enc, err := json.Marshal(rec)
			if err != nil {
				l.logger.Error("eventlog: failed to marshal record", "error", err)
				continue
			}
			if _, err := w.Write(enc); err != nil {
				l.logger.Error("eventlog: write failed", "error", err)
				continue
			}
			w.WriteByte('\n')
		}
		w.Flush()
	}

	for {
		select {
		case <-l.stop:
			flush()
			return
		case <-l.notify:
			flush()
		case <-ticker.C:
			flush()
		}
	}
}

// Close flushes remaining records and stops the background writer.
func (l *Log) Close() error {
	l.closeOnce.Do(func() {
		close(l.stop)
		<-l.done
	})
	return nil
}
