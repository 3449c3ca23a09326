package audio

import (
	"bytes"
	"fmt"
	"io"
	"os/exec"

	"github.com/hajimehoshi/go-mp3"
)

// DecodeMP3 decodes an MP3 byte stream to 16-bit mono PCM at the stream's own
// sample rate (d.SampleRate()); no resampling is done. Mono conversion is done
// by averaging channel pairs since every provider in this codebase speaks mono.
func DecodeMP3(data []byte) ([]byte, error) {
	d, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("audio: mp3 decode: %w", err)
	}

	raw, err := io.ReadAll(d)
	if err != nil {
		return nil, fmt.Errorf("audio: mp3 read: %w", err)
	}

	// go-mp3 always yields interleaved 16-bit stereo; downmix to mono.
	mono := make([]byte, 0, len(raw)/2)
	for i := 0; i+3 < len(raw); i += 4 {
		left := int16(raw[i]) | int16(raw[i+1])<<8
		right := int16(raw[i+2]) | int16(raw[i+3])<<8
		avg := int16((int32(left) + int32(right)) / 2)
		mono = append(mono, byte(avg), byte(avg>>8))
	}
	return mono, nil
}

// EncodeMP3 shells out to ffmpeg to compress 16-bit mono PCM at sampleRate
// into a low-bitrate MP3. No pure-Go MP3 encoder exists anywhere in the
// example corpus; the original Python implementation takes the same approach
// (invoking ffmpeg as a subprocess), so this mirrors that rather than a Go
// library.
func EncodeMP3(pcm []byte, sampleRate int) ([]byte, error) {
	wav := EncodeWAV(pcm, sampleRate)

	cmd := exec.Command("ffmpeg",
		"-f", "wav", "-i", "pipe:0",
		"-ar", "16000", "-ac", "1",
		"-b:a", "32k",
		"-f", "mp3", "pipe:1",
		"-hide_banner", "-loglevel", "error",
	)
	cmd.Stdin = bytes.NewReader(wav)
	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("audio: ffmpeg mp3 encode failed: %w (%s)", err, stderr.String())
	}
	return out.Bytes(), nil
}

// ffmpegAvailable reports whether the ffmpeg binary is on PATH. The
// compression pipeline does not consult it; it falls back to WAV when
// EncodeMP3 returns an error.
func ffmpegAvailable() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}

// FFmpegAvailable is the exported form of ffmpegAvailable for pipeline callers.
func FFmpegAvailable() bool {
	return ffmpegAvailable()
}
