// Package tts adapts the teacher's streaming lokutor client and adds an
// OpenAI-compatible HTTP client for the wire protocol spec.md §6 describes
// (JSON request, raw audio bytes response).
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/voicemode/voicemode/pkg/provider"
)

// OpenAICompatibleTTS speaks the `{model, input, voice, response_format,
// speed}` -> raw-audio-bytes protocol used by OpenAI's /v1/audio/speech and
// any locally hosted clone of it (kokoro, etc).
type OpenAICompatibleTTS struct {
	apiKey         string
	baseURL        string
	model          string
	responseFormat string
	name           string
}

// NewOpenAICompatibleTTS builds a client against baseURL+"/audio/speech".
func NewOpenAICompatibleTTS(name, apiKey, baseURL, model, responseFormat string) *OpenAICompatibleTTS {
	if responseFormat == "" {
		responseFormat = "pcm"
	}
	return &OpenAICompatibleTTS{
		apiKey:         apiKey,
		baseURL:        baseURL,
		model:          model,
		responseFormat: responseFormat,
		name:           name,
	}
}

func (t *OpenAICompatibleTTS) Name() string { return t.name }

func (t *OpenAICompatibleTTS) Synthesize(ctx context.Context, text string, voice provider.Voice, lang provider.Language) ([]byte, error) {
	payload := map[string]interface{}{
		"model":           t.model,
		"input":           text,
		"voice":           string(voice),
		"response_format": t.responseFormat,
		"speed":           1.0,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", t.baseURL+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("tts error: %s (status %d)", string(respBody), resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

func (t *OpenAICompatibleTTS) StreamSynthesize(ctx context.Context, text string, voice provider.Voice, lang provider.Language, onChunk func([]byte) error) error {
	payload := map[string]interface{}{
		"model":           t.model,
		"input":           text,
		"voice":           string(voice),
		"response_format": t.responseFormat,
		"speed":           1.0,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", t.baseURL+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("tts error: %s (status %d)", string(respBody), resp.StatusCode)
	}

	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if cbErr := onChunk(append([]byte(nil), buf[:n]...)); cbErr != nil {
				return cbErr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Abort is a no-op for a stateless HTTP client: each Synthesize call owns its
// own request and respects ctx cancellation, so there is no persistent
// in-flight call to cancel out-of-band.
func (t *OpenAICompatibleTTS) Abort() error { return nil }
