package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/storacha-rag/ragbot/pkg/stream"
)

const (
	DefaultMistralBase  = "https://api.mistral.ai/v1"
	DefaultVisionModel  = "pixtral-12b-2409"
	maxErrorBodyPreview = 4096
)

// StatusError is a non-200 reply to the completion request.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API request failed with status %d: %s", e.Status, e.Body)
}

// MistralProvider implements VisionProvider for the Mistral chat completions API.
type MistralProvider struct {
	APIKey  string
	APIBase string
	Model   string
	client  *http.Client
}

// NewMistralProvider creates a new MistralProvider.
func NewMistralProvider(apiKey, apiBase, defaultModel string) *MistralProvider {
	if apiBase == "" {
		apiBase = DefaultMistralBase
	}
	if defaultModel == "" {
		defaultModel = DefaultVisionModel
	}
	return &MistralProvider{
		APIKey:  apiKey,
		APIBase: apiBase,
		Model:   defaultModel,
		client:  &http.Client{},
	}
}

// Stream sends a chat completion request with streaming. The returned channel
// yields content deltas in arrival order and is closed when the stream ends.
// A transport or decode failure mid-stream is delivered as a final chunk with
// Err set.
func (p *MistralProvider) Stream(ctx context.Context, messages []Message, opts StreamOptions) (<-chan stream.Chunk, error) {
	model := opts.Model
	if model == "" {
		model = p.Model
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(p.APIBase, "/"))

	reqBody := map[string]interface{}{
		"model":       model,
		"messages":    messages,
		"stream":      true,
		"safe_prompt": opts.SafePrompt,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", p.APIKey))

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyPreview))
		resp.Body.Close()
		return nil, &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	ch := make(chan stream.Chunk)

	go func() {
		defer resp.Body.Close()
		defer close(ch)

		send := func(c stream.Chunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadString('\n')
			if line = strings.TrimSpace(line); strings.HasPrefix(line, "data:") {
				data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				if data == "[DONE]" {
					return
				}
				content, perr := parseDelta(data)
				if perr != nil {
					zap.S().Debugw("Skipping undecodable stream event", "err", perr)
				} else if content != "" && !send(stream.Chunk{Content: content}) {
					return
				}
			}
			if err != nil {
				if err != io.EOF {
					send(stream.Chunk{Err: fmt.Errorf("read stream: %w", err)})
				}
				return
			}
		}
	}()

	return ch, nil
}

func parseDelta(data string) (string, error) {
	var chunk struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return "", err
	}
	if len(chunk.Choices) == 0 {
		return "", nil
	}
	return chunk.Choices[0].Delta.Content, nil
}

// GetDefaultModel returns the default model.
func (p *MistralProvider) GetDefaultModel() string {
	return p.Model
}
