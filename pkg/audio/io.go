package audio

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/voicemode/voicemode/pkg/vmlog"
)

// IO owns the capture and playback device, adapted from the malgo duplex
// wiring in the teacher's cmd/agent/main.go onSamples callback. Capture
// frames are pushed onto a channel instead of driving VAD directly; playback
// bytes are pulled from an internal queue fed by QueueOutput.
type IO struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	logger vmlog.Logger

	sampleRate int
	channels   int
	frameBytes int // bytes per capture frame (frame_ms worth of samples)

	capture    chan AudioFrame
	captureBuf []byte // captured bytes not yet making up a whole frame

	mu      sync.Mutex
	playBuf []byte
}

// OpenConfig configures device acquisition.
type OpenConfig struct {
	SampleRate int
	Channels   int
	FrameMS    int // 10, 20, or 30ms — VAD-compatible
}

// Open acquires a duplex audio device. Failure to acquire is fatal for the
// caller per spec.md §4.1.
func Open(cfg OpenConfig, logger vmlog.Logger) (*IO, error) {
	logger = vmlog.OrDefault(logger)
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	if cfg.FrameMS != 10 && cfg.FrameMS != 20 && cfg.FrameMS != 30 {
		return nil, fmt.Errorf("audio: frame_ms must be 10, 20, or 30 (got %d)", cfg.FrameMS)
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("audio: device context init: %w", err)
	}

	io := &IO{
		ctx:        mctx,
		logger:     logger,
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		frameBytes: cfg.SampleRate * cfg.Channels * 2 * cfg.FrameMS / 1000,
		capture:    make(chan AudioFrame, 64),
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Duplex)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: io.onSamples,
	})
	if err != nil {
		mctx.Uninit()
		return nil, fmt.Errorf("audio: device init: %w", err)
	}
	io.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		mctx.Uninit()
		return nil, fmt.Errorf("audio: device start: %w", err)
	}

	return io, nil
}

func (io *IO) onSamples(pOutput, pInput []byte, frameCount uint32) {
	if pInput != nil && io.frameBytes > 0 {
		io.captureBuf = append(io.captureBuf, pInput...)
		for len(io.captureBuf) >= io.frameBytes {
			frame := AudioFrame{SampleRate: io.sampleRate, Channels: io.channels, Data: append([]byte(nil), io.captureBuf[:io.frameBytes]...)}
			io.captureBuf = io.captureBuf[io.frameBytes:]
			select {
			case io.capture <- frame:
			default:
				io.logger.Warn("audio capture queue full, dropping frame")
			}
		}
	}
	if pOutput != nil {
		io.mu.Lock()
		n := copy(pOutput, io.playBuf)
		io.playBuf = io.playBuf[n:]
		io.mu.Unlock()
		for i := n; i < len(pOutput); i++ {
			pOutput[i] = 0
		}
	}
}

// Capture returns the channel of captured AudioFrames, each exactly frame_ms long.
func (io *IO) Capture() <-chan AudioFrame {
	return io.capture
}

// QueueOutput appends PCM bytes to the playback queue; they are drained on
// the device's output callback in order.
func (io *IO) QueueOutput(pcm []byte) {
	io.mu.Lock()
	io.playBuf = append(io.playBuf, pcm...)
	io.mu.Unlock()
}

// ClearOutput empties the pending playback queue immediately.
func (io *IO) ClearOutput() {
	io.mu.Lock()
	io.playBuf = nil
	io.mu.Unlock()
}

// PendingOutput returns how many bytes remain queued for playback.
func (io *IO) PendingOutput() int {
	io.mu.Lock()
	defer io.mu.Unlock()
	return len(io.playBuf)
}

// Close releases the device and context.
func (io *IO) Close() {
	if io.device != nil {
		io.device.Uninit()
	}
	if io.ctx != nil {
		io.ctx.Uninit()
	}
}
