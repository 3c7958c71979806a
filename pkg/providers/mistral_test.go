package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storacha-rag/ragbot/pkg/config"
	"github.com/storacha-rag/ragbot/pkg/stream"
)

func sseServer(t *testing.T, events []string, got *map[string]interface{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if got != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(got))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, ev := range events {
			fmt.Fprintf(w, "data: %s\n\n", ev)
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func delta(s string) string {
	return fmt.Sprintf(`{"choices":[{"delta":{"content":%q}}]}`, s)
}

func collect(ch <-chan stream.Chunk) ([]string, error) {
	var out []string
	for c := range ch {
		if c.Err != nil {
			return out, c.Err
		}
		out = append(out, c.Content)
	}
	return out, nil
}

func TestStreamDeltasInOrder(t *testing.T) {
	var body map[string]interface{}
	srv := sseServer(t, []string{delta("Hel"), delta("lo"), `{"choices":[]}`, delta(" world"), "[DONE]", delta("late")}, &body)

	p := NewMistralProvider("test-key", srv.URL+"/v1", "")
	msgs := ImageAnalysisMessages("You are a helpful AI assistant with vision capabilities.", "Analyze this image:", "aGk=")
	ch, err := p.Stream(context.Background(), msgs, StreamOptions{SafePrompt: true})
	require.NoError(t, err)

	got, err := collect(ch)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo", " world"}, got)

	assert.Equal(t, "pixtral-12b-2409", body["model"])
	assert.Equal(t, true, body["stream"])
	assert.Equal(t, true, body["safe_prompt"])

	messages := body["messages"].([]interface{})
	require.Len(t, messages, 2)
	user := messages[1].(map[string]interface{})
	parts := user["content"].([]interface{})
	assert.Equal(t, map[string]interface{}{"type": "text", "text": "Analyze this image:"}, parts[0])
	assert.Equal(t, map[string]interface{}{"type": "image_url", "image_url": "data:image/jpeg;base64,aGk="}, parts[1])
}

func TestStreamSafePromptOff(t *testing.T) {
	var body map[string]interface{}
	srv := sseServer(t, []string{"[DONE]"}, &body)
	p := NewMistralProvider("test-key", srv.URL+"/v1", "pixtral-large-latest")

	ch, err := p.Stream(context.Background(), nil, StreamOptions{})
	require.NoError(t, err)
	_, err = collect(ch)
	require.NoError(t, err)
	assert.Equal(t, false, body["safe_prompt"])
	assert.Equal(t, "pixtral-large-latest", body["model"])
}

func TestStreamStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"Unauthorized"}`))
	}))
	defer srv.Close()

	_, err := NewMistralProvider("bad", srv.URL, "").Stream(context.Background(), nil, StreamOptions{})
	var serr *StatusError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, http.StatusUnauthorized, serr.Status)
	assert.Equal(t, `{"message":"Unauthorized"}`, serr.Body)
}

func TestStreamStopsOnCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\n", delta("partial"))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := NewMistralProvider("k", srv.URL, "").Stream(ctx, nil, StreamOptions{})
	require.NoError(t, err)

	first := <-ch
	assert.Equal(t, "partial", first.Content)
	cancel()

	for range ch {
	}
}

func TestNewVisionProviderKeyFallback(t *testing.T) {
	cfg := config.DefaultConfig()

	t.Setenv("MISTRAL_API_KEY", "")
	_, err := NewVisionProvider(cfg)
	assert.ErrorIs(t, err, ErrNoAPIKey)

	t.Setenv("MISTRAL_API_KEY", "env-key")
	p, err := NewVisionProvider(cfg)
	require.NoError(t, err)
	assert.Equal(t, "env-key", p.(*MistralProvider).APIKey)
	assert.Equal(t, "pixtral-12b-2409", p.GetDefaultModel())
}
