package verify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hubenschmidt/preboard/internal/onboarding"
	"github.com/hubenschmidt/preboard/internal/pipeline"
)

// OracleRequest is the JSON contract of a remote verification oracle.
type OracleRequest struct {
	DocumentBytesBase64 string `json:"documentBytesBase64"`
	DeclaredCategory    string `json:"declaredCategory"`
	ExpectedName        string `json:"expectedName"`
	FileName            string `json:"fileName,omitempty"`
	ContentType         string `json:"contentType,omitempty"`
}

// Request converts the wire form into a verification request.
func (r OracleRequest) Request() (Request, error) {
	doc, uriType, err := DecodeDocument(r.DocumentBytesBase64)
	if err != nil {
		return Request{}, err
	}
	ct := r.ContentType
	if ct == "" {
		ct = uriType
	}
	return Request{
		Document:     doc,
		Category:     onboarding.Stage(r.DeclaredCategory),
		ExpectedName: r.ExpectedName,
		FileName:     r.FileName,
		ContentType:  ct,
	}, nil
}

// --- HTTP oracle backend ---

type httpBackend struct {
	url    string
	client *http.Client
}

// NewHTTPBackend posts OracleRequest JSON to url and decodes a Verdict.
func NewHTTPBackend(url string, client *http.Client) Backend {
	return &httpBackend{url: url, client: client}
}

func (h *httpBackend) Verify(ctx context.Context, req Request) (onboarding.Verdict, error) {
	body, err := json.Marshal(OracleRequest{
		DocumentBytesBase64: base64.StdEncoding.EncodeToString(req.Document),
		DeclaredCategory:    string(req.Category),
		ExpectedName:        req.ExpectedName,
		FileName:            req.FileName,
		ContentType:         req.ContentType,
	})
	if err != nil {
		return onboarding.Verdict{}, fmt.Errorf("marshal oracle request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return onboarding.Verdict{}, fmt.Errorf("create oracle request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return onboarding.Verdict{}, fmt.Errorf("oracle request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return onboarding.Verdict{}, pipeline.StatusError("oracle", resp)
	}

	var v onboarding.Verdict
	if err = json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return onboarding.Verdict{}, fmt.Errorf("decode oracle response: %w", err)
	}
	if v.ExtractedData == nil {
		v.ExtractedData = onboarding.Fields{}
	}
	return v.Clamp(), nil
}
