package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// EncodeWAV builds a RIFF/WAVE container around 16-bit mono PCM, the same
// header layout as the teacher's NewWavBuffer.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	buf := new(bytes.Buffer)

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(buf, binary.LittleEndian, uint16(2))
	binary.Write(buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// NewWavBuffer is kept as an alias of EncodeWAV for callers ported directly
// from the teacher's STT clients.
func NewWavBuffer(pcm []byte, sampleRate int) []byte {
	return EncodeWAV(pcm, sampleRate)
}

// DecodeWAV strips a RIFF/WAVE container down to raw 16-bit mono PCM,
// validating the fmt chunk describes uncompressed PCM.
func DecodeWAV(data []byte) ([]byte, error) {
	if len(data) < 44 {
		return nil, fmt.Errorf("audio: wav data too short (%d bytes)", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("audio: not a RIFF/WAVE file")
	}

	offset := 12
	var audioFormat uint16
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		body := offset + 8

		switch chunkID {
		case "fmt ":
			if body+16 > len(data) {
				return nil, fmt.Errorf("audio: truncated fmt chunk")
			}
			audioFormat = binary.LittleEndian.Uint16(data[body : body+2])
			if audioFormat != 1 {
				return nil, fmt.Errorf("audio: unsupported wav codec tag %d (only PCM supported)", audioFormat)
			}
		case "data":
			end := body + int(chunkSize)
			if end > len(data) {
				end = len(data)
			}
			return data[body:end], nil
		}

		offset = body + int(chunkSize)
		if chunkSize%2 == 1 {
			offset++
		}
	}

	return nil, fmt.Errorf("audio: wav file has no data chunk")
}
