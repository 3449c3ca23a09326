// Package stt adapts the teacher's pkg/providers/stt clients to the
// provider.STTProvider interface, wired through provider.Failover instead of
// being selected once at startup.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/voicemode/voicemode/pkg/provider"
)

// GroqSTT calls Groq's OpenAI-compatible transcription endpoint.
type GroqSTT struct {
	apiKey string
	url    string
	model  string
}

func NewGroqSTT(apiKey, model string) *GroqSTT {
	if model == "" {
		model = "whisper-large-v3-turbo"
	}
	return &GroqSTT{apiKey: apiKey, url: "https://api.groq.com/openai/v1/audio/transcriptions", model: model}
}

func (s *GroqSTT) Name() string { return "groq-stt" }

func (s *GroqSTT) Transcribe(ctx context.Context, req provider.STTRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = s.model
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("model", model); err != nil {
		return "", err
	}
	if req.Language != "" {
		if err := writer.WriteField("language", string(req.Language)); err != nil {
			return "", err
		}
	}

	filename := "audio." + string(req.Audio.Format)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, bytes.NewReader(req.Audio.Data)); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", s.url, body)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", fmt.Errorf("groq stt error (status %d): %v", resp.StatusCode, errResp)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Text, nil
}
