package eventlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestEmitWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")

	l, err := New(path, 16, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	l.Emit(RecordingStart, "conv-1", nil)
	l.Emit(STTComplete, "conv-1", map[string]interface{}{"error_type": "connection_failed"})

	if err := l.Close(); err != nil {
		t.Fatalf("unexpected error on close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("unexpected error opening log: %v", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var r Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			t.Fatalf("unexpected unmarshal error: %v", err)
		}
		records = append(records, r)
	}

	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].EventType != RecordingStart || records[1].EventType != STTComplete {
		t.Errorf("unexpected event order: %+v", records)
	}
}

func TestIndexOfFirstDroppableSkipsCriticalEvents(t *testing.T) {
	queue := []Record{
		{EventType: BargeInDetected},
		{EventType: STTComplete},
		{EventType: TTSStart},
		{EventType: RecordingEnd},
	}

	idx := indexOfFirstDroppable(queue)
	if idx != 2 {
		t.Fatalf("expected index 2 (TTS_START), got %d", idx)
	}
}

func TestIndexOfFirstDroppableAllCritical(t *testing.T) {
	queue := []Record{{EventType: BargeInDetected}, {EventType: STTComplete}}
	if idx := indexOfFirstDroppable(queue); idx != -1 {
		t.Fatalf("expected -1 when every queued record is critical, got %d", idx)
	}
}
