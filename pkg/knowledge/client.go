// Package knowledge talks to the retrieval-augmented backend: it uploads text,
// links and PDF documents and asks questions against what was uploaded.
package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/storacha-rag/ragbot/pkg/conversation"
	"github.com/storacha-rag/ragbot/pkg/media"
)

// NoAnswer is returned as the answer text when the backend reply has no answer field.
const NoAnswer = "No answer received"

// maxBody caps how much of a backend reply is kept.
const maxBody = 1 << 20

// Ack is a successful ingestion reply.
type Ack struct {
	Status int
	Body   string
}

// Answer is a successful query reply. Found is false when the backend omitted
// the answer field and Text holds NoAnswer.
type Answer struct {
	Text  string
	Found bool
}

// Client dispatches uploads and queries. Each call sends exactly one request
// and never retries.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	requestTimeout time.Duration
	uploadTimeout  time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeouts sets the default timeout and the longer PDF upload timeout.
// Zero values keep the current setting.
func WithTimeouts(request, upload time.Duration) Option {
	return func(c *Client) {
		if request > 0 {
			c.requestTimeout = request
		}
		if upload > 0 {
			c.uploadTimeout = upload
		}
	}
}

// NewClient creates a client for the backend rooted at baseURL, e.g.
// http://localhost:3000/rag.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     &http.Client{},
		requestTimeout: 30 * time.Second,
		uploadTimeout:  10 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend root.
func (c *Client) BaseURL() string { return c.baseURL }

// Upload sends one payload to {base}/upload. Text and URL payloads are sent
// as JSON; PDF payloads as multipart/form-data with the extended timeout.
func (c *Client) Upload(ctx context.Context, p conversation.Payload) (Ack, error) {
	var (
		body        []byte
		contentType string
		timeout     = c.requestTimeout
	)

	switch p.Kind {
	case conversation.KindText:
		b, err := json.Marshal(map[string]string{"type": "text", "content": p.Content})
		if err != nil {
			return Ack{}, &UploadError{Kind: p.Kind, Err: err}
		}
		body, contentType = b, "application/json"
	case conversation.KindURL:
		b, err := json.Marshal(map[string]string{"type": "url", "url": p.Href})
		if err != nil {
			return Ack{}, &UploadError{Kind: p.Kind, Err: err}
		}
		body, contentType = b, "application/json"
	case conversation.KindPDF:
		mp, err := media.BuildMultipart(p.FileName, p.Data, media.MIMEPDF, map[string]string{"type": "pdf"})
		if err != nil {
			return Ack{}, &UploadError{Kind: p.Kind, Err: err}
		}
		body, contentType = mp.Body, mp.ContentType
		timeout = c.uploadTimeout
	default:
		return Ack{}, &UploadError{Kind: p.Kind, Err: fmt.Errorf("unsupported payload kind %s", p.Kind)}
	}

	status, respBody, err := c.post(ctx, "/upload", contentType, body, timeout)
	if err != nil {
		zap.S().Warnw("Upload request failed", "kind", p.Kind.String(), "err", err)
		return Ack{}, &UploadError{Kind: p.Kind, Err: err}
	}
	if status != http.StatusOK {
		zap.S().Warnw("Upload rejected", "kind", p.Kind.String(), "status", status)
		return Ack{}, &UploadError{Kind: p.Kind, Status: status, Body: respBody}
	}

	zap.S().Infow("Upload accepted", "kind", p.Kind.String(), "item", p.Describe())
	return Ack{Status: status, Body: respBody}, nil
}

// Query asks the backend a question via {base}/query.
func (c *Client) Query(ctx context.Context, question string) (Answer, error) {
	body, err := json.Marshal(map[string]string{"question": question})
	if err != nil {
		return Answer{}, &QueryError{Err: err}
	}

	status, respBody, err := c.post(ctx, "/query", "application/json", body, c.requestTimeout)
	if err != nil {
		zap.S().Warnw("Query request failed", "err", err)
		return Answer{}, &QueryError{Err: err}
	}
	if status != http.StatusOK {
		zap.S().Warnw("Query rejected", "status", status)
		return Answer{}, &QueryError{Status: status, Body: respBody}
	}

	var reply struct {
		Answer *string `json:"answer"`
	}
	if err := json.Unmarshal([]byte(respBody), &reply); err != nil {
		return Answer{}, &QueryError{Status: status, Body: respBody, Err: fmt.Errorf("decode reply: %w", err)}
	}
	if reply.Answer == nil {
		return Answer{Text: NoAnswer}, nil
	}
	return Answer{Text: *reply.Answer, Found: true}, nil
}

func (c *Client) post(ctx context.Context, path, contentType string, body []byte, timeout time.Duration) (int, string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, "", fmt.Errorf("no response within %s: %w", timeout, err)
		}
		return 0, "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return 0, "", fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, string(data), nil
}
