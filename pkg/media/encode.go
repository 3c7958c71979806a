package media

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// MIME types used on the wire.
const (
	MIMEPDF  = "application/pdf"
	MIMEJPEG = "image/jpeg"
)

// imageExtensions are the file types the chat image path accepts.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// EncodeImage returns the standard base64 encoding of raw image bytes.
func EncodeImage(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeImage reverses EncodeImage.
func DecodeImage(encoded string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return data, nil
}

// ImageDataURL wraps an encoded image in the inline reference the vision API expects.
// The media type is always declared as JPEG, which the completion service tolerates for PNG input.
func ImageDataURL(encoded string) string {
	return "data:" + MIMEJPEG + ";base64," + encoded
}

// DetectMIME sniffs the content type of a payload.
func DetectMIME(data []byte) string {
	return mimetype.Detect(data).String()
}

// IsImage reports whether a file is acceptable on the image path. Both the
// extension and the sniffed content must agree that it is an image.
func IsImage(filename string, data []byte) bool {
	if len(data) == 0 {
		return false
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if ext != "" && !imageExtensions[ext] {
		return false
	}
	return strings.HasPrefix(mimetype.Detect(data).String(), "image/")
}

// IsPDF reports whether the payload looks like a PDF document.
func IsPDF(filename string, data []byte) bool {
	if strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return true
	}
	return len(data) > 0 && mimetype.Detect(data).Is(MIMEPDF)
}

// MultipartBody is an encoded multipart/form-data request body.
type MultipartBody struct {
	Body        []byte
	ContentType string
}

// BuildMultipart encodes one file part named "file" plus plain form fields.
// Output is deterministic: fields are written in key order and the boundary is
// derived from the file content.
func BuildMultipart(filename string, data []byte, mimeType string, fields map[string]string) (*MultipartBody, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.SetBoundary(boundaryFor(filename, data)); err != nil {
		return nil, fmt.Errorf("set boundary: %w", err)
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := w.WriteField(k, fields[k]); err != nil {
			return nil, fmt.Errorf("write field %s: %w", k, err)
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(filename)))
	h.Set("Content-Type", mimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write file part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	return &MultipartBody{
		Body:        buf.Bytes(),
		ContentType: w.FormDataContentType(),
	}, nil
}

func boundaryFor(filename string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(filename))
	h.Write(data)
	return "ragbot" + hex.EncodeToString(h.Sum(nil))[:40]
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
