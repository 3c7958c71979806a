package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storacha-rag/ragbot/pkg/conversation"
)

type recorded struct {
	path        string
	contentType string
	body        []byte
	form        map[string]string
	fileName    string
	fileType    string
	fileData    []byte
}

func newBackend(t *testing.T, status int, reply string) (*httptest.Server, *recorded, *int32) {
	t.Helper()
	rec := &recorded{}
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		rec.path = r.URL.Path
		rec.contentType = r.Header.Get("Content-Type")
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if err := r.ParseMultipartForm(1 << 20); err == nil {
			rec.form = map[string]string{}
			for k, v := range r.MultipartForm.Value {
				rec.form[k] = v[0]
			}
			if fh := r.MultipartForm.File["file"]; len(fh) == 1 {
				rec.fileName = fh[0].Filename
				rec.fileType = fh[0].Header.Get("Content-Type")
				f, _ := fh[0].Open()
				rec.fileData, _ = io.ReadAll(f)
				f.Close()
			}
		} else {
			rec.body, _ = io.ReadAll(r.Body)
		}
		w.WriteHeader(status)
		io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, rec, &calls
}

func TestUploadText(t *testing.T) {
	srv, rec, calls := newBackend(t, http.StatusOK, `{"ok":true}`)
	c := NewClient(srv.URL + "/rag/")

	ack, err := c.Upload(context.Background(), conversation.TextPayload("Storacha is decentralized storage."))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, ack.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
	assert.Equal(t, "/rag/upload", rec.path)
	assert.Equal(t, "application/json", rec.contentType)

	var got map[string]string
	require.NoError(t, json.Unmarshal(rec.body, &got))
	assert.Equal(t, map[string]string{"type": "text", "content": "Storacha is decentralized storage."}, got)
}

func TestUploadURL(t *testing.T) {
	srv, rec, _ := newBackend(t, http.StatusOK, "")
	c := NewClient(srv.URL + "/rag")

	_, err := c.Upload(context.Background(), conversation.URLPayload("https://docs.storacha.network"))
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, json.Unmarshal(rec.body, &got))
	assert.Equal(t, map[string]string{"type": "url", "url": "https://docs.storacha.network"}, got)
}

func TestUploadPDFMultipart(t *testing.T) {
	srv, rec, _ := newBackend(t, http.StatusOK, "stored")
	c := NewClient(srv.URL + "/rag")
	pdf := []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\n%%EOF")

	_, err := c.Upload(context.Background(), conversation.PDFPayload("spec.pdf", pdf))
	require.NoError(t, err)

	assert.Contains(t, rec.contentType, "multipart/form-data")
	assert.Equal(t, "pdf", rec.form["type"])
	assert.Equal(t, "spec.pdf", rec.fileName)
	assert.Equal(t, "application/pdf", rec.fileType)
	assert.Equal(t, pdf, rec.fileData)
}

func TestUploadFailureKeepsBodyVerbatim(t *testing.T) {
	srv, _, calls := newBackend(t, http.StatusUnprocessableEntity, "  invalid pdf: no xref table\n")
	c := NewClient(srv.URL)

	_, err := c.Upload(context.Background(), conversation.PDFPayload("x.pdf", []byte("nope")))
	var uerr *UploadError
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, http.StatusUnprocessableEntity, uerr.Status)
	assert.Equal(t, "  invalid pdf: no xref table\n", uerr.Body)
	assert.False(t, uerr.Transport())
	assert.Equal(t, int32(1), atomic.LoadInt32(calls), "no retries")
}

func TestUploadTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	_, err := NewClient(srv.URL).Upload(context.Background(), conversation.TextPayload("x"))
	var uerr *UploadError
	require.True(t, errors.As(err, &uerr))
	assert.True(t, uerr.Transport())
	assert.Zero(t, uerr.Status)
}

func TestUploadRejectsUnknownKind(t *testing.T) {
	_, err := NewClient("http://unused").Upload(context.Background(), conversation.Payload{})
	var uerr *UploadError
	require.True(t, errors.As(err, &uerr))
}

func TestUploadTimeouts(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	c := NewClient(srv.URL, WithTimeouts(50*time.Millisecond, time.Hour))
	_, err := c.Upload(context.Background(), conversation.TextPayload("slow"))
	var uerr *UploadError
	require.True(t, errors.As(err, &uerr))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQuery(t *testing.T) {
	srv, rec, _ := newBackend(t, http.StatusOK, `{"answer":"A decentralized storage network."}`)
	c := NewClient(srv.URL + "/rag")

	ans, err := c.Query(context.Background(), "What is Storacha?")
	require.NoError(t, err)
	assert.True(t, ans.Found)
	assert.Equal(t, "A decentralized storage network.", ans.Text)
	assert.Equal(t, "/rag/query", rec.path)
	assert.JSONEq(t, `{"question":"What is Storacha?"}`, string(rec.body))
}

func TestQueryMissingAnswer(t *testing.T) {
	srv, _, _ := newBackend(t, http.StatusOK, `{}`)
	ans, err := NewClient(srv.URL).Query(context.Background(), "anything")
	require.NoError(t, err)
	assert.False(t, ans.Found)
	assert.Equal(t, NoAnswer, ans.Text)
	assert.Equal(t, "No answer received", ans.Text)
}

func TestQueryFailure(t *testing.T) {
	srv, _, _ := newBackend(t, http.StatusInternalServerError, "index not ready")
	_, err := NewClient(srv.URL).Query(context.Background(), "q")
	var qerr *QueryError
	require.True(t, errors.As(err, &qerr))
	assert.Equal(t, http.StatusInternalServerError, qerr.Status)
	assert.Equal(t, "index not ready", qerr.Body)
}

func TestQueryUndecodableReply(t *testing.T) {
	srv, _, _ := newBackend(t, http.StatusOK, `<html>`)
	_, err := NewClient(srv.URL).Query(context.Background(), "q")
	var qerr *QueryError
	require.True(t, errors.As(err, &qerr))
	assert.Equal(t, "<html>", qerr.Body)
	assert.False(t, qerr.Transport())
}
