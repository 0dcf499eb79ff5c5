package verify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/preboard/internal/onboarding"
	"github.com/hubenschmidt/preboard/internal/pipeline"
)

var pngDoc = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)

func httpClient(t *testing.T, handler http.HandlerFunc) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		Backends: map[string]Backend{"http": NewHTTPBackend(srv.URL, srv.Client())},
		Engine:   "http",
		Timeout:  2 * time.Second,
	})
}

func identityRequest() Request {
	return Request{Document: pngDoc, Category: onboarding.StageIdentity, ExpectedName: "John Smith"}
}

func TestHTTPBackendPassingVerdict(t *testing.T) {
	var got OracleRequest
	c := httpClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"isValid":true,"confidence":0.92,"nameMatch":true,"extractedName":"John Smith",
			"extractedData":{"name":"John Smith","idNumber":"D123"},"issues":[],"aiAnalysis":"clear"}`)
	})

	v, err := c.Verify(context.Background(), identityRequest())
	require.NoError(t, err)

	assert.True(t, v.Passed())
	assert.Equal(t, "D123", v.ExtractedData["idNumber"])
	assert.False(t, v.Timestamp.IsZero())
	assert.Equal(t, "identity", got.DeclaredCategory)
	assert.Equal(t, "John Smith", got.ExpectedName)
	assert.Equal(t, base64.StdEncoding.EncodeToString(pngDoc), got.DocumentBytesBase64)
	assert.Equal(t, "image/png", got.ContentType)
}

func TestNamePolicyOverridesOracle(t *testing.T) {
	c := httpClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"isValid":true,"confidence":0.97,"nameMatch":true,"extractedName":"Jane Doe","issues":[]}`)
	})

	v, err := c.Verify(context.Background(), identityRequest())
	require.NoError(t, err)

	assert.False(t, v.NameMatch)
	assert.False(t, v.IsValid)
	assert.LessOrEqual(t, v.Confidence, 0.5)
	assert.Equal(t, onboarding.NameMismatchIssue("John Smith", "Jane Doe"), v.Issues[0])
}

func TestBackendFailuresBecomeTechnicalVerdicts(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		},
		"malformed json": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"isValid": tru`)
		},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			v, err := httpClient(t, h).Verify(context.Background(), identityRequest())
			require.NoError(t, err)

			assert.True(t, v.IsTechnicalFailure())
			assert.False(t, v.IsValid)
			assert.False(t, v.NameMatch)
			assert.Zero(t, v.Confidence)
			assert.Equal(t, []string{onboarding.TechnicalErrorIssue}, v.Issues)
		})
	}
}

func TestBackendTimeoutBecomesTechnicalVerdict(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c := NewClient(Config{
		Backends: map[string]Backend{"http": NewHTTPBackend(srv.URL, srv.Client())},
		Engine:   "http",
		Timeout:  50 * time.Millisecond,
	})

	v, err := c.Verify(context.Background(), identityRequest())
	require.NoError(t, err)
	assert.True(t, v.IsTechnicalFailure())
}

func TestCheckReportsMissingEngine(t *testing.T) {
	c := NewClient(Config{
		Backends: map[string]Backend{"http": NewHTTPBackend("http://oracle.internal", nil)},
		Engine:   "openai",
	})
	err := c.Check()
	assert.ErrorIs(t, err, pipeline.ErrNoBackend)
	assert.Contains(t, err.Error(), "registered: http")

	assert.NoError(t, httpClient(t, func(http.ResponseWriter, *http.Request) {}).Check())
}

func TestInvalidRequests(t *testing.T) {
	c := httpClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("oracle must not be called for invalid input")
	})

	cases := map[string]Request{
		"empty document":   {Document: []byte{}, Category: onboarding.StageIdentity, ExpectedName: "John"},
		"unknown category": {Document: pngDoc, Category: "passport", ExpectedName: "John"},
		"complete stage":   {Document: pngDoc, Category: onboarding.StageComplete, ExpectedName: "John"},
		"no name":          {Document: pngDoc, Category: onboarding.StageIdentity, ExpectedName: "  "},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := c.Verify(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestOpenAIBackendSendsImageAndParsesFencedJSON(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		content := "```json\n{\"isValid\":true,\"confidence\":0.88,\"nameMatch\":true,\"extractedName\":\"John Smith\",\"extractedData\":{\"name\":\"John Smith\"},\"issues\":[],\"aiAnalysis\":\"ok\"}\n```"
		resp := map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	oai := pipeline.NewOpenAIClient("sk-test", srv.URL+"/v1/", srv.Client())
	c := NewClient(Config{
		Backends: map[string]Backend{"openai": NewOpenAIBackend(oai, "gpt-4o-mini", 1000)},
		Engine:   "openai",
	})

	v, err := c.Verify(context.Background(), identityRequest())
	require.NoError(t, err)

	assert.True(t, v.Passed())
	assert.InDelta(t, 0.88, v.Confidence, 1e-9)
	assert.Contains(t, body, "image_url")
	assert.Contains(t, body, "data:image/png;base64,")
	assert.Contains(t, body, "json_object")
}

func TestOpenAIBackendRejectsUnsupportedType(t *testing.T) {
	oai := pipeline.NewOpenAIClient("sk-test", "http://127.0.0.1:0/v1/", nil)
	c := NewClient(Config{
		Backends: map[string]Backend{"openai": NewOpenAIBackend(oai, "gpt-4o-mini", 1000)},
		Engine:   "openai",
	})

	req := identityRequest()
	req.Document = []byte("just some plain text that is not a document image")
	_, err := c.Verify(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.ErrorIs(t, err, ErrUnsupportedDocument)
}

func TestDecodeDocument(t *testing.T) {
	raw := base64.StdEncoding.EncodeToString([]byte("%PDF-1.4"))

	data, ct, err := DecodeDocument("data:application/pdf;base64," + raw)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", ct)
	assert.Equal(t, "%PDF-1.4", string(data))

	data, ct, err = DecodeDocument(raw)
	require.NoError(t, err)
	assert.Empty(t, ct)
	assert.Equal(t, "%PDF-1.4", string(data))

	_, _, err = DecodeDocument("not base64 !!")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestDecodeVerdictClampsConfidence(t *testing.T) {
	v, err := DecodeVerdict(`{"isValid":true,"confidence":1.7,"nameMatch":true}`)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v.Confidence)
	assert.NotNil(t, v.ExtractedData)

	_, err = DecodeVerdict("I cannot read this document")
	assert.Error(t, err)
}
