// Package audio holds the PCM data model and format codecs: 16-bit signed
// little-endian mono samples, the unit every STT/TTS/player component passes
// around. WAV encoding follows the teacher's pkg/audio/wav.go almost exactly;
// MP3/Opus decode and malgo device wiring are new, grounded on the other
// example repos and the teacher's cmd/agent/main.go respectively.
package audio

import "fmt"

// Format tags the wire representation of a block of audio bytes.
type Format string

const (
	FormatPCM  Format = "pcm"
	FormatWAV  Format = "wav"
	FormatMP3  Format = "mp3"
	FormatOpus Format = "opus"
)

// AudioFrame is a contiguous block of 16-bit signed little-endian mono PCM at
// a declared sample rate. Immutable once produced.
type AudioFrame struct {
	SampleRate int
	Channels   int
	Data       []byte
}

// Samples returns the number of 16-bit samples in the frame.
func (f AudioFrame) Samples() int {
	return len(f.Data) / 2
}

// DurationMS returns the frame's duration in milliseconds.
func (f AudioFrame) DurationMS() float64 {
	if f.SampleRate == 0 || f.Channels == 0 {
		return 0
	}
	samplesPerChannel := float64(f.Samples()) / float64(f.Channels)
	return samplesPerChannel / float64(f.SampleRate) * 1000
}

// PCMBuffer is an ordered sequence of AudioFrames sharing one sample rate and
// channel count.
type PCMBuffer struct {
	SampleRate int
	Channels   int
	Frames     []AudioFrame
}

// NewPCMBuffer creates an empty buffer at the given format.
func NewPCMBuffer(sampleRate, channels int) *PCMBuffer {
	return &PCMBuffer{SampleRate: sampleRate, Channels: channels}
}

// Append adds a frame, validating it matches the buffer's declared format.
func (b *PCMBuffer) Append(f AudioFrame) error {
	if len(b.Frames) > 0 {
		if f.SampleRate != b.SampleRate || f.Channels != b.Channels {
			return fmt.Errorf("audio: frame format %d/%dch does not match buffer %d/%dch",
				f.SampleRate, f.Channels, b.SampleRate, b.Channels)
		}
	}
	b.Frames = append(b.Frames, f)
	return nil
}

// Samples returns the total sample count across all frames.
func (b *PCMBuffer) Samples() int {
	total := 0
	for _, f := range b.Frames {
		total += f.Samples()
	}
	return total
}

// Bytes concatenates every frame's raw PCM data.
func (b *PCMBuffer) Bytes() []byte {
	out := make([]byte, 0, b.byteLen())
	for _, f := range b.Frames {
		out = append(out, f.Data...)
	}
	return out
}

func (b *PCMBuffer) byteLen() int {
	n := 0
	for _, f := range b.Frames {
		n += len(f.Data)
	}
	return n
}

// Empty reports whether the buffer holds no frames.
func (b *PCMBuffer) Empty() bool {
	return len(b.Frames) == 0
}

// AudioBytes is the tagged-variant wire form described in spec.md's design
// notes: format is part of the value, and only the codec layer pattern
// matches on it.
type AudioBytes struct {
	Format     Format
	SampleRate int
	Channels   int
	Data       []byte
}

// ToPCM decodes any supported format into raw 16-bit PCM bytes at the
// declared sample rate. This is the single place that switches on Format.
func (a AudioBytes) ToPCM() ([]byte, error) {
	switch a.Format {
	case FormatPCM:
		return a.Data, nil
	case FormatWAV:
		return DecodeWAV(a.Data)
	case FormatMP3:
		return DecodeMP3(a.Data)
	case FormatOpus:
		return DecodeOpus(a.Data, a.SampleRate, a.Channels)
	default:
		return nil, fmt.Errorf("audio: unsupported format %q", a.Format)
	}
}
