// Package vision describes images with a Gemini vision-language model.
//
// It speaks the REST generateContent API directly: one prompt part and one
// inline JPEG part in, the first candidate's text out.
//
// Example usage:
//
//	g, _ := vision.NewGemini(vision.WithAPIKey(os.Getenv("GEMINI_API_KEY")))
//	defer g.Close()
//
//	resp, err := g.Describe(ctx, vision.NewRequest(prompt, encoded))
package vision

import (
	"encoding/json"

	"github.com/teslashibe/go-envision/pkg/camera"
)

// Request is one analysis request. It is built fresh for every cycle and
// not modified after it is sent.
type Request struct {
	Prompt   string
	Image    string // base64, standard encoding, no line breaks
	MIMEType string
}

// NewRequest pairs a prompt with an encoded frame.
func NewRequest(prompt string, enc *camera.Encoded) Request {
	return Request{
		Prompt:   prompt,
		Image:    enc.Base64,
		MIMEType: camera.MIMEType,
	}
}

// Response is the outcome of a successful call.
type Response struct {
	// Text is the trimmed first candidate text; empty when the model
	// returned nothing usable.
	Text string

	Model        string
	StatusCode   int
	PayloadChars int
	LatencyMs    int64
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []any `json:"parts"`
}

type textPart struct {
	Text string `json:"text"`
}

type dataPart struct {
	InlineData inlineData `json:"inline_data"`
}

type inlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

// MarshalJSON renders the generateContent body:
// {"contents":[{"parts":[{"text":...},{"inline_data":{"mime_type":...,"data":...}}]}]}
func (r Request) MarshalJSON() ([]byte, error) {
	mime := r.MIMEType
	if mime == "" {
		mime = camera.MIMEType
	}
	return json.Marshal(generateRequest{
		Contents: []content{{
			Parts: []any{
				textPart{Text: r.Prompt},
				dataPart{InlineData: inlineData{MIMEType: mime, Data: r.Image}},
			},
		}},
	})
}
