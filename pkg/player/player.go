// Package player implements NonBlockingPlayer: PCM playback with a distinct
// interrupt() vs stop() contract, and a streaming mode that coordinates with
// a BargeInMonitor. Grounded in the teacher's ManagedStream playback
// bookkeeping (isSpeaking/ttsCancel/drainAudioChunks/internalInterrupt) and
// the onSamples double-buffer in cmd/agent/main.go, generalized into the
// standalone primitive spec.md §4.3 names.
package player

import (
	"sync"
	"time"

	"github.com/voicemode/voicemode/pkg/audio"
	"github.com/voicemode/voicemode/pkg/vmlog"
)

// State is the player's lifecycle stage.
type State string

const (
	Idle        State = "idle"
	Playing     State = "playing"
	Completed   State = "completed"
	Interrupted State = "interrupted"
	Failed      State = "failed"
)

// OutputSink is the minimal surface a Player needs from an audio device;
// audio.IO satisfies it directly.
type OutputSink interface {
	QueueOutput(pcm []byte)
	ClearOutput()
	PendingOutput() int
}

// CaptureSource is anything that can yield already-captured audio when an
// interrupt fires, satisfied by *bargein.Monitor.
type CaptureSource interface {
	GetCapturedAudio() *audio.PCMBuffer
}

// StreamMetrics reports timing and outcome for one streaming playback.
type StreamMetrics struct {
	TTFA            time.Duration
	GenerationTime  time.Duration
	ChunksReceived  int
	ChunksPlayed    int
	TotalBytes      int
	Interrupted     bool
	InterruptedAt   time.Duration
	CapturedAudio   *audio.PCMBuffer
	CapturedSamples int
}

// Player is a non-blocking PCM player with interrupt semantics distinct from stop.
type Player struct {
	sink   OutputSink
	logger vmlog.Logger

	mu          sync.Mutex
	state       State
	interrupted bool
	playErr     error
	onInterrupt func()
	interruptOnce sync.Once
	complete    chan struct{}
	capture     CaptureSource
}

// New builds a player writing to sink.
func New(sink OutputSink, logger vmlog.Logger) *Player {
	return &Player{
		sink:    sink,
		logger:  vmlog.OrDefault(logger),
		state:   Idle,
		complete: closedChan(),
	}
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// AttachBargeIn wires a capture source consulted on interrupt for streaming playback.
func (p *Player) AttachBargeIn(c CaptureSource) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.capture = c
}

// Play primes the queue with samples and starts playback. In blocking mode it
// returns only after playback completes or is interrupted.
func (p *Player) Play(samples *audio.PCMBuffer, blocking bool, onInterrupt func()) {
	p.mu.Lock()
	p.interrupted = false
	p.playErr = nil
	p.onInterrupt = onInterrupt
	p.interruptOnce = sync.Once{}
	p.state = Playing
	p.complete = make(chan struct{})
	complete := p.complete
	p.mu.Unlock()

	p.sink.QueueOutput(samples.Bytes())

	go func() {
		for p.sink.PendingOutput() > 0 {
			p.mu.Lock()
			stillPlaying := p.state == Playing
			p.mu.Unlock()
			if !stillPlaying {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
		p.mu.Lock()
		if p.state == Playing {
			p.state = Completed
		}
		p.mu.Unlock()
		close(complete)
	}()

	if blocking {
		<-complete
	}
}

// Stop closes the stream, drains the queue, and signals completion. It does
// NOT fire on_interrupt. Idempotent.
func (p *Player) Stop() {
	p.mu.Lock()
	if p.state != Playing {
		p.mu.Unlock()
		return
	}
	p.state = Completed
	complete := p.complete
	p.mu.Unlock()

	p.sink.ClearOutput()

	select {
	case <-complete:
	default:
		close(complete)
	}
}

// Interrupt stops playback and invokes on_interrupt exactly once per play
// session. Errors inside the callback are logged, never propagated. Even if
// the underlying stop fails, the interrupted flag is still set.
func (p *Player) Interrupt() {
	p.mu.Lock()
	wasPlaying := p.state == Playing
	p.state = Interrupted
	p.interrupted = true
	cb := p.onInterrupt
	p.mu.Unlock()

	if wasPlaying {
		p.sink.ClearOutput()
	}

	p.mu.Lock()
	select {
	case <-p.complete:
	default:
		close(p.complete)
	}
	p.mu.Unlock()

	p.interruptOnce.Do(func() {
		if cb == nil {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("player: on_interrupt callback panicked", "recover", r)
			}
		}()
		cb()
	})
}

// Wait blocks until playback completes or timeout elapses.
func (p *Player) Wait(timeout time.Duration) bool {
	p.mu.Lock()
	complete := p.complete
	p.mu.Unlock()

	select {
	case <-complete:
		return true
	case <-time.After(timeout):
		return false
	}
}

// WasInterrupted reports whether the last play session was interrupted.
func (p *Player) WasInterrupted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interrupted
}

// State returns the player's current lifecycle state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// ChunkSource yields PCM chunks for streaming playback, returning io.EOF-style
// via ok=false when exhausted.
type ChunkSource func() (chunk []byte, ok bool, err error)

// PlayStream consumes chunks from src, queuing each onto the sink, checking
// the interrupt flag both before pulling a chunk and after playing it.
// startMonitor, if non-nil, is called with p.Interrupt before the first chunk
// is pulled, and stopMonitor, if non-nil, runs when PlayStream returns. A
// capture source attached via AttachBargeIn supplies CapturedAudio when the
// playback was interrupted.
func (p *Player) PlayStream(src ChunkSource, startMonitor func(onVoice func()) bool, stopMonitor func()) *StreamMetrics {
	metrics := &StreamMetrics{}
	start := time.Now()

	p.mu.Lock()
	p.interrupted = false
	p.playErr = nil
	p.state = Playing
	p.complete = make(chan struct{})
	p.mu.Unlock()

	monitoring := false
	if startMonitor != nil {
		monitoring = startMonitor(p.Interrupt)
	}
	if stopMonitor != nil {
		defer stopMonitor()
	}
	_ = monitoring

	firstChunk := true
	for {
		p.mu.Lock()
		interrupted := p.state == Interrupted
		p.mu.Unlock()
		if interrupted {
			metrics.Interrupted = true
			metrics.InterruptedAt = time.Since(start)
			break
		}

		chunk, ok, err := src()
		if err != nil {
			p.mu.Lock()
			p.state = Failed
			p.playErr = err
			p.mu.Unlock()
			break
		}
		if !ok {
			break
		}

		if firstChunk {
			metrics.TTFA = time.Since(start)
			firstChunk = false
		}
		metrics.ChunksReceived++
		metrics.TotalBytes += len(chunk)
		p.sink.QueueOutput(chunk)
		metrics.ChunksPlayed++

		p.mu.Lock()
		interrupted = p.state == Interrupted
		p.mu.Unlock()
		if interrupted {
			metrics.Interrupted = true
			metrics.InterruptedAt = time.Since(start)
			break
		}
	}

	metrics.GenerationTime = time.Since(start)

	p.mu.Lock()
	if p.state == Playing {
		p.state = Completed
	}
	complete := p.complete
	capture := p.capture
	p.mu.Unlock()

	select {
	case <-complete:
	default:
		close(complete)
	}

	if metrics.Interrupted && capture != nil {
		if buf := capture.GetCapturedAudio(); buf != nil {
			metrics.CapturedAudio = buf
			metrics.CapturedSamples = buf.Samples()
		}
	}

	return metrics
}
