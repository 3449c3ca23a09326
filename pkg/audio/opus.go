package audio

import (
	"fmt"

	"github.com/hraban/opus"
)

// DecodeOpus decodes a single Opus packet (as returned whole by a
// response_format=opus TTS call) into 16-bit mono PCM at sampleRate.
// Grounded in the hraban/opus usage seen in the harperreed-resonate-go and
// teslashibe-go-reachy example repos.
func DecodeOpus(data []byte, sampleRate, channels int) ([]byte, error) {
	if channels == 0 {
		channels = 1
	}
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("audio: opus decoder init: %w", err)
	}

	// 120ms is the largest frame Opus permits; allocate generously and trim.
	pcm := make([]int16, sampleRate*channels*120/1000)
	n, err := dec.Decode(data, pcm)
	if err != nil {
		return nil, fmt.Errorf("audio: opus decode: %w", err)
	}
	pcm = pcm[:n*channels]

	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out, nil
}
