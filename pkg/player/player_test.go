package player

import (
	"sync"
	"testing"
	"time"

	"github.com/voicemode/voicemode/pkg/audio"
)

// fakeSink is an OutputSink double: QueueOutput marks bytes pending and
// releases them after a short, deterministic delay so tests can observe a
// play-in-progress window without a real audio device.
type fakeSink struct {
	mu        sync.Mutex
	pending   int
	cleared   int
	queued    int
	drainWait time.Duration
}

func (s *fakeSink) QueueOutput(pcm []byte) {
	s.mu.Lock()
	s.pending += len(pcm)
	s.queued++
	wait := s.drainWait
	s.mu.Unlock()

	go func() {
		time.Sleep(wait)
		s.mu.Lock()
		s.pending -= len(pcm)
		s.mu.Unlock()
	}()
}

func (s *fakeSink) ClearOutput() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = 0
	s.cleared++
}

func (s *fakeSink) PendingOutput() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// fakeCapture is a CaptureSource double returning a fixed buffer.
type fakeCapture struct {
	buf *audio.PCMBuffer
}

func (f *fakeCapture) GetCapturedAudio() *audio.PCMBuffer { return f.buf }

func samplesBuf(n int) *audio.PCMBuffer {
	buf := audio.NewPCMBuffer(16000, 1)
	buf.Append(audio.AudioFrame{SampleRate: 16000, Channels: 1, Data: make([]byte, n*2)})
	return buf
}

func TestPlayBlockingWaitsForCompletion(t *testing.T) {
	sink := &fakeSink{drainWait: 10 * time.Millisecond}
	p := New(sink, nil)

	p.Play(samplesBuf(100), true, nil)

	if p.State() != Completed {
		t.Errorf("expected Completed, got %s", p.State())
	}
	if p.WasInterrupted() {
		t.Error("expected WasInterrupted false on normal completion")
	}
}

func TestPlayNonBlockingReturnsImmediately(t *testing.T) {
	sink := &fakeSink{drainWait: 50 * time.Millisecond}
	p := New(sink, nil)

	start := time.Now()
	p.Play(samplesBuf(100), false, nil)
	if elapsed := time.Since(start); elapsed > 20*time.Millisecond {
		t.Errorf("expected Play(blocking=false) to return immediately, took %s", elapsed)
	}
	if !p.Wait(time.Second) {
		t.Fatal("expected playback to complete within timeout")
	}
	if p.State() != Completed {
		t.Errorf("expected Completed after Wait, got %s", p.State())
	}
}

func TestInterruptFiresCallbackExactlyOnce(t *testing.T) {
	sink := &fakeSink{drainWait: 100 * time.Millisecond}
	p := New(sink, nil)

	var calls int
	var mu sync.Mutex
	p.Play(samplesBuf(1000), false, func() {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	p.Interrupt()
	p.Interrupt()
	p.Interrupt()

	mu.Lock()
	got := calls
	mu.Unlock()
	if got != 1 {
		t.Fatalf("expected on_interrupt invoked exactly once, got %d", got)
	}
	if !p.WasInterrupted() {
		t.Error("expected WasInterrupted true after Interrupt")
	}
	if p.State() != Interrupted {
		t.Errorf("expected state Interrupted, got %s", p.State())
	}
}

func TestInterruptClearsSinkOutput(t *testing.T) {
	sink := &fakeSink{drainWait: time.Second}
	p := New(sink, nil)

	p.Play(samplesBuf(1000), false, nil)
	p.Interrupt()

	if sink.PendingOutput() != 0 {
		t.Errorf("expected sink cleared on interrupt, pending=%d", sink.PendingOutput())
	}
	if sink.cleared == 0 {
		t.Error("expected ClearOutput to have been called")
	}
}

func TestInterruptCallbackPanicIsRecovered(t *testing.T) {
	sink := &fakeSink{drainWait: 10 * time.Millisecond}
	p := New(sink, nil)

	p.Play(samplesBuf(100), false, func() { panic("boom") })
	p.Interrupt() // must not panic; Player recovers the callback itself
}

func TestStopDoesNotFireOnInterrupt(t *testing.T) {
	sink := &fakeSink{drainWait: time.Second}
	p := New(sink, nil)

	var called bool
	p.Play(samplesBuf(1000), false, func() { called = true })
	p.Stop()

	if called {
		t.Error("expected Stop not to invoke on_interrupt")
	}
	if p.WasInterrupted() {
		t.Error("expected WasInterrupted false after Stop")
	}
	if p.State() != Completed {
		t.Errorf("expected Completed after Stop, got %s", p.State())
	}
}

func TestWaitTimesOutWhilePlaybackPending(t *testing.T) {
	sink := &fakeSink{drainWait: time.Second}
	p := New(sink, nil)

	p.Play(samplesBuf(1000), false, nil)
	if p.Wait(20 * time.Millisecond) {
		t.Fatal("expected Wait to time out before slow playback completes")
	}
	p.Interrupt() // cleanup so the test doesn't leak a pending goroutine state
}

func TestPlayStreamDeliversChunksAndReportsMetrics(t *testing.T) {
	sink := &fakeSink{drainWait: time.Millisecond}
	p := New(sink, nil)

	chunks := [][]byte{make([]byte, 40), make([]byte, 40), make([]byte, 40)}
	i := 0
	src := func() ([]byte, bool, error) {
		if i >= len(chunks) {
			return nil, false, nil
		}
		c := chunks[i]
		i++
		return c, true, nil
	}

	metrics := p.PlayStream(src, nil, nil)

	if metrics.ChunksReceived != 3 || metrics.ChunksPlayed != 3 {
		t.Fatalf("expected 3 chunks received/played, got %+v", metrics)
	}
	if metrics.TotalBytes != 120 {
		t.Errorf("expected 120 total bytes, got %d", metrics.TotalBytes)
	}
	if metrics.Interrupted {
		t.Error("expected Interrupted false for an uninterrupted stream")
	}
	if p.State() != Completed {
		t.Errorf("expected Completed, got %s", p.State())
	}
}

func TestPlayStreamStartsAndStopsMonitor(t *testing.T) {
	sink := &fakeSink{drainWait: time.Millisecond}
	p := New(sink, nil)

	var started, stopped bool
	chunks := [][]byte{make([]byte, 10)}
	i := 0
	src := func() ([]byte, bool, error) {
		if i >= len(chunks) {
			return nil, false, nil
		}
		c := chunks[i]
		i++
		return c, true, nil
	}

	p.PlayStream(src,
		func(onVoice func()) bool { started = true; return true },
		func() { stopped = true },
	)

	if !started {
		t.Error("expected startMonitor to be called")
	}
	if !stopped {
		t.Error("expected stopMonitor to be called when PlayStream returns")
	}
}

func TestPlayStreamStopsEarlyOnInterruptAndCapturesAudio(t *testing.T) {
	sink := &fakeSink{drainWait: time.Millisecond}
	p := New(sink, nil)
	captured := samplesBuf(480)
	p.AttachBargeIn(&fakeCapture{buf: captured})

	pulled := 0
	src := func() ([]byte, bool, error) {
		pulled++
		if pulled == 2 {
			// Simulate an interrupt firing mid-stream.
			p.Interrupt()
		}
		if pulled > 5 {
			return nil, false, nil
		}
		return make([]byte, 10), true, nil
	}

	metrics := p.PlayStream(src, nil, nil)

	if !metrics.Interrupted {
		t.Fatal("expected Interrupted true")
	}
	if metrics.CapturedAudio == nil || metrics.CapturedSamples == 0 {
		t.Error("expected captured audio to be attached to metrics on interrupt")
	}
}

func TestPlayStreamPropagatesSourceError(t *testing.T) {
	sink := &fakeSink{drainWait: time.Millisecond}
	p := New(sink, nil)

	boom := errBoom{}
	src := func() ([]byte, bool, error) { return nil, false, boom }

	p.PlayStream(src, nil, nil)

	if p.State() != Failed {
		t.Errorf("expected Failed state on source error, got %s", p.State())
	}
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }
