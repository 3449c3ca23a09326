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

// OpenAISTT calls OpenAI's /v1/audio/transcriptions endpoint.
type OpenAISTT struct {
	apiKey string
	url    string
	model  string
}

func NewOpenAISTT(apiKey, model string) *OpenAISTT {
	if model == "" {
		model = "whisper-1"
	}
	return &OpenAISTT{apiKey: apiKey, url: "https://api.openai.com/v1/audio/transcriptions", model: model}
}

func (s *OpenAISTT) Name() string { return "openai-stt" }

func (s *OpenAISTT) Transcribe(ctx context.Context, req provider.STTRequest) (string, error) {
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

	part, err := writer.CreateFormFile("file", "audio."+string(req.Audio.Format))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, bytes.NewReader(req.Audio.Data)); err != nil {
		return "", err
	}
	writer.Close()

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
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("openai stt error: %s (status %d)", string(respBody), resp.StatusCode)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Text, nil
}
