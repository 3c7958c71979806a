package media

import (
	"bytes"
	"io"
	"math/rand"
	"mime"
	"mime/multipart"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	inputs := [][]byte{nil, {}, {0}, {0xff, 0x00, 0xfe}, pngHeader}
	for i := 0; i < 200; i++ {
		b := make([]byte, rng.Intn(4096))
		rng.Read(b)
		inputs = append(inputs, b)
	}

	for _, in := range inputs {
		out, err := DecodeImage(EncodeImage(in))
		require.NoError(t, err)
		assert.True(t, bytes.Equal(in, out), "round trip mismatch for %d bytes", len(in))
	}
}

func TestDecodeImageRejectsGarbage(t *testing.T) {
	_, err := DecodeImage("not base64!!")
	assert.Error(t, err)
}

func TestImageDataURL(t *testing.T) {
	assert.Equal(t, "data:image/jpeg;base64,QUJD", ImageDataURL(EncodeImage([]byte("ABC"))))
}

func TestIsImage(t *testing.T) {
	assert.True(t, IsImage("cat.png", pngHeader))
	assert.True(t, IsImage("cat", []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00")))
	assert.False(t, IsImage("notes.txt", []byte("hello world")))
	assert.False(t, IsImage("doc.pdf", []byte("%PDF-1.4\n")))
	assert.False(t, IsImage("fake.png", []byte("plain text pretending")))
	assert.False(t, IsImage("empty.png", nil))
}

func TestIsPDF(t *testing.T) {
	assert.True(t, IsPDF("paper.PDF", []byte("anything")))
	assert.True(t, IsPDF("upload.bin", []byte("%PDF-1.7\n%âãÏÓ\n")))
	assert.False(t, IsPDF("notes.txt", []byte("hello")))
}

func TestBuildMultipart(t *testing.T) {
	data := []byte("%PDF-1.4 body")
	mp, err := BuildMultipart(`report "q1".pdf`, data, MIMEPDF, map[string]string{"type": "pdf"})
	require.NoError(t, err)

	mediaType, params, err := mime.ParseMediaType(mp.ContentType)
	require.NoError(t, err)
	assert.Equal(t, "multipart/form-data", mediaType)

	r := multipart.NewReader(bytes.NewReader(mp.Body), params["boundary"])

	field, err := r.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "type", field.FormName())
	v, _ := io.ReadAll(field)
	assert.Equal(t, "pdf", string(v))

	file, err := r.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "file", file.FormName())
	assert.Equal(t, `report "q1".pdf`, file.FileName())
	assert.Equal(t, MIMEPDF, file.Header.Get("Content-Type"))
	got, _ := io.ReadAll(file)
	assert.Equal(t, data, got)

	_, err = r.NextPart()
	assert.ErrorIs(t, err, io.EOF)
}

func TestBuildMultipartIsDeterministic(t *testing.T) {
	fields := map[string]string{"type": "pdf", "source": "telegram"}
	a, err := BuildMultipart("a.pdf", []byte("same"), MIMEPDF, fields)
	require.NoError(t, err)
	b, err := BuildMultipart("a.pdf", []byte("same"), MIMEPDF, fields)
	require.NoError(t, err)
	assert.Equal(t, a.Body, b.Body)
	assert.Equal(t, a.ContentType, b.ContentType)
}
