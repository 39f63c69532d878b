package ai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// codec describes how one vendor is addressed on the wire.
type codec interface {
	endpoint(baseURL, model string) string
	headers(h http.Header, apiKey string)
	body(model string, req *ChatRequest) ([]byte, error)
}

// extractor is implemented by codecs whose stream goes through Normalize.
type extractor interface {
	extract(payload []byte) string
}

// streamDecoder is implemented by codecs that need their own read loop.
type streamDecoder interface {
	decode(body io.Reader, onGrowth GrowthFunc) (string, error)
}

// HTTPProvider talks to a vendor's streaming HTTP API.
type HTTPProvider struct {
	id      string
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
	codec   codec
}

func newHTTPProvider(id string, s Settings, c codec) *HTTPProvider {
	client := s.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProvider{
		id:      id,
		baseURL: strings.TrimRight(s.BaseURL, "/"),
		model:   s.Model,
		apiKey:  s.APIKey,
		client:  client,
		codec:   c,
	}
}

func (p *HTTPProvider) ID() string    { return p.id }
func (p *HTTPProvider) Model() string { return p.model }

func (p *HTTPProvider) StreamChat(ctx context.Context, req *ChatRequest, onGrowth GrowthFunc) (string, error) {
	if req == nil {
		return "", fmt.Errorf("%s: chat request required", p.id)
	}
	payload, err := p.codec.body(p.model, req)
	if err != nil {
		return "", fmt.Errorf("encode %s request: %w", p.id, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.codec.endpoint(p.baseURL, p.model), bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build %s request: %w", p.id, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	p.codec.headers(httpReq.Header, p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%s request: %w", p.id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", errorFromResponse(p.id, resp)
	}

	if dec, ok := p.codec.(streamDecoder); ok {
		return dec.decode(resp.Body, onGrowth)
	}
	ex, ok := p.codec.(extractor)
	if !ok {
		return "", fmt.Errorf("%s: codec cannot decode streams", p.id)
	}
	return Normalize(resp.Body, ex.extract, onGrowth)
}
