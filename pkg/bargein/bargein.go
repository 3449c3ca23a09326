// Package bargein implements BargeInMonitor: a one-shot voice-detection
// watcher that interrupts in-progress TTS playback. Pulled out of the
// teacher's ManagedStream.Write (which performs the same onset-detection and
// pre-roll buffering inline, but repeatedly across a whole session) into the
// standalone per-call state machine spec.md §4.2 describes.
package bargein

import (
	"sync"
	"time"

	"github.com/voicemode/voicemode/pkg/audio"
	"github.com/voicemode/voicemode/pkg/errs"
	"github.com/voicemode/voicemode/pkg/vad"
	"github.com/voicemode/voicemode/pkg/vmlog"
)

// State is the monitor's lifecycle stage.
type State string

const (
	Stopped       State = "stopped"
	Listening     State = "listening"
	VoiceDetected State = "voice_detected"
)

// Monitor consumes capture frames, runs VAD, and fires a one-shot interrupt
// callback once enough sustained speech has accumulated.
type Monitor struct {
	vad           vad.Provider
	minSpeechMS   int
	bufferWindow  time.Duration
	logger        vmlog.Logger

	mu            sync.Mutex
	state         State
	speechMS      int
	fired         bool
	preRoll       []audio.AudioFrame
	captured      []audio.AudioFrame
	source        <-chan audio.AudioFrame
	stopCh        chan struct{}
	done          chan struct{}
}

// SetCaptureSource wires the live audio-frame channel a later StartMonitoring
// call reads from. Set once at session setup (from audio.IO.Capture()),
// separate from StartMonitoring so playback code starting/stopping the
// monitor per utterance doesn't need to know about the capture device.
func (m *Monitor) SetCaptureSource(capture <-chan audio.AudioFrame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.source = capture
}

// New builds a monitor. If v is nil or unavailable, IsAvailable() reports
// false and StartMonitoring returns errs.ErrBargeInUnavailable, per spec.md §4.2's failure
// semantics (the Conversation layer then falls back to silence-terminated
// recording).
func New(v vad.Provider, minSpeechMS int, bufferWindowMS int, logger vmlog.Logger) *Monitor {
	return &Monitor{
		vad:          v,
		minSpeechMS:  minSpeechMS,
		bufferWindow: time.Duration(bufferWindowMS) * time.Millisecond,
		logger:       vmlog.OrDefault(logger),
		state:        Stopped,
	}
}

// IsAvailable reports whether VAD support exists for this monitor.
func (m *Monitor) IsAvailable() bool {
	return m.vad != nil && m.vad.IsAvailable()
}

// StartMonitoring transitions Stopped->Listening and begins consuming frames
// from capture until StopMonitoring is called; after voice is detected it
// keeps capturing frames until then. The
// callback is invoked on the monitor's own goroutine, exactly once, with no
// arguments; panics/errors from it are logged and swallowed.
func (m *Monitor) StartMonitoring(onVoiceDetected func()) error {
	if !m.IsAvailable() {
		return errs.ErrBargeInUnavailable
	}

	m.mu.Lock()
	if m.state != Stopped {
		m.mu.Unlock()
		return nil
	}
	capture := m.source
	m.state = Listening
	m.speechMS = 0
	m.fired = false
	m.preRoll = nil
	m.captured = nil
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	stopCh := m.stopCh
	done := m.done
	m.mu.Unlock()

	go m.run(capture, stopCh, done, onVoiceDetected)
	return nil
}

func (m *Monitor) run(capture <-chan audio.AudioFrame, stopCh, done chan struct{}, onVoiceDetected func()) {
	defer close(done)
	for {
		select {
		case <-stopCh:
			return
		case frame, ok := <-capture:
			if !ok {
				return
			}
			m.consume(frame, onVoiceDetected)
		}
	}
}

func (m *Monitor) consume(frame audio.AudioFrame, onVoiceDetected func()) {
	voiced := m.vad.Classify(frame.Data)

	m.mu.Lock()
	if m.state == Stopped {
		m.mu.Unlock()
		return
	}

	if m.state == VoiceDetected {
		m.captured = append(m.captured, frame)
		m.mu.Unlock()
		return
	}

	if voiced {
		m.speechMS += int(frame.DurationMS())
		m.preRoll = append(m.preRoll, frame)
		// Bound the pre-roll to the configured buffer window.
		for totalMS(m.preRoll) > int(m.bufferWindow/time.Millisecond) && len(m.preRoll) > 1 {
			m.preRoll = m.preRoll[1:]
		}
	} else {
		m.speechMS = 0
		m.preRoll = nil
	}

	fire := !m.fired && m.speechMS >= m.minSpeechMS
	if fire {
		m.fired = true
		m.state = VoiceDetected
		m.captured = append(m.captured, m.preRoll...)
		m.preRoll = nil
	}
	m.mu.Unlock()

	if fire {
		m.safeInvoke(onVoiceDetected)
	}
}

func (m *Monitor) safeInvoke(cb func()) {
	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("bargein: on_voice_detected callback panicked", "recover", r)
		}
	}()
	cb()
}

func totalMS(frames []audio.AudioFrame) int {
	ms := 0
	for _, f := range frames {
		ms += int(f.DurationMS())
	}
	return ms
}

// StopMonitoring halts frame consumption and returns the monitor to Stopped.
func (m *Monitor) StopMonitoring() {
	m.mu.Lock()
	if m.state == Stopped {
		m.mu.Unlock()
		return
	}
	stopCh, done := m.stopCh, m.done
	m.state = Stopped
	m.mu.Unlock()

	close(stopCh)
	<-done
}

// VoiceDetectedState reports whether the monitor has latched VoiceDetected.
func (m *Monitor) VoiceDetectedState() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == VoiceDetected
}

// GetCapturedAudio returns the concatenation of all buffered frames (pre-roll
// plus everything captured after the trigger) as one PCMBuffer, or nil if
// nothing was captured.
func (m *Monitor) GetCapturedAudio() *audio.PCMBuffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.captured) == 0 {
		return nil
	}
	buf := audio.NewPCMBuffer(m.captured[0].SampleRate, m.captured[0].Channels)
	for _, f := range m.captured {
		buf.Append(f)
	}
	return buf
}
