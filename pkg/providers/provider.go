package providers

import (
	"context"

	"github.com/storacha-rag/ragbot/pkg/media"
	"github.com/storacha-rag/ragbot/pkg/stream"
)

// ContentPart is one element of a multi-part user turn.
type ContentPart struct {
	Type     string `json:"type"` // text, image_url
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// Message is one chat turn. Content is a string or a []ContentPart.
type Message struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

// StreamOptions tune a single completion request.
type StreamOptions struct {
	Model      string
	SafePrompt bool
}

// VisionProvider streams completions for prompts that may include images.
type VisionProvider interface {
	Stream(ctx context.Context, messages []Message, opts StreamOptions) (<-chan stream.Chunk, error)
	GetDefaultModel() string
}

// ImageAnalysisMessages builds the system turn and a single user turn carrying
// the prompt text and the base64 image as a JPEG data URL.
func ImageAnalysisMessages(systemPrompt, prompt, encodedImage string) []Message {
	return []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: []ContentPart{
			{Type: "text", Text: prompt},
			{Type: "image_url", ImageURL: media.ImageDataURL(encodedImage)},
		}},
	}
}
