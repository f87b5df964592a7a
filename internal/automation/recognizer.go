// internal/automation/recognizer.go
package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Recognizer converts raw transcript text into a typed proposal. The actual
// pattern matching lives outside this service; this interface is the seam.
type Recognizer interface {
	Recognize(ctx context.Context, text, source string) (Proposal, error)
}

// RecognizerFunc adapts a function to the Recognizer interface.
type RecognizerFunc func(ctx context.Context, text, source string) (Proposal, error)

// Recognize implements Recognizer.
func (f RecognizerFunc) Recognize(ctx context.Context, text, source string) (Proposal, error) {
	return f(ctx, text, source)
}

// NoopRecognizer proposes ignore for every transcript. Used when no external
// recognizer is configured.
func NoopRecognizer() Recognizer {
	return RecognizerFunc(func(context.Context, string, string) (Proposal, error) {
		return Proposal{Action: ActionIgnore}, nil
	})
}

// HTTPRecognizer calls an external recognizer service over HTTP.
type HTTPRecognizer struct {
	BaseURL string
	HTTP    *http.Client
}

// NewHTTPRecognizer returns a client for the recognizer at base.
func NewHTTPRecognizer(base string) *HTTPRecognizer {
	return &HTTPRecognizer{
		BaseURL: base,
		HTTP:    &http.Client{Timeout: 5 * time.Second},
	}
}

type recognizeRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

// Recognize implements Recognizer by POSTing the transcript and decoding the
// proposal from the response body.
func (c *HTTPRecognizer) Recognize(ctx context.Context, text, source string) (Proposal, error) {
	body, err := json.Marshal(recognizeRequest{Text: text, Source: source})
	if err != nil {
		return Proposal{}, fmt.Errorf("recognizer: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/recognize", bytes.NewReader(body))
	if err != nil {
		return Proposal{}, fmt.Errorf("recognizer: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.HTTP.Do(req)
	if err != nil {
		return Proposal{}, fmt.Errorf("recognizer: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return Proposal{}, fmt.Errorf("recognizer: http %d", res.StatusCode)
	}

	var p Proposal
	if err := json.NewDecoder(res.Body).Decode(&p); err != nil {
		return Proposal{}, fmt.Errorf("recognizer: decode proposal: %w", err)
	}
	return p, nil
}
