package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/preboard/internal/audit"
	"github.com/hubenschmidt/preboard/internal/blob"
	"github.com/hubenschmidt/preboard/internal/onboarding"
	"github.com/hubenschmidt/preboard/internal/orchestrator"
	"github.com/hubenschmidt/preboard/internal/records"
	"github.com/hubenschmidt/preboard/internal/verify"
)

type fakeVerifier struct {
	got     verify.Request
	verdict onboarding.Verdict
}

func (f *fakeVerifier) Verify(_ context.Context, req verify.Request) (onboarding.Verdict, error) {
	f.got = req
	return f.verdict, nil
}

type fakeRecords struct {
	candidates map[string]records.Candidate
	attached   map[onboarding.Stage]records.Attachment
	videos     []string
}

func (f *fakeRecords) Candidate(_ context.Context, id string) (*records.Candidate, error) {
	c, ok := f.candidates[id]
	if !ok {
		return nil, records.ErrNotFound
	}
	return &c, nil
}

func (f *fakeRecords) AttachDocument(_ context.Context, id string, c onboarding.Stage, a records.Attachment) error {
	if f.attached == nil {
		f.attached = map[onboarding.Stage]records.Attachment{}
	}
	f.attached[c] = a
	return nil
}

func (f *fakeRecords) ConfirmVideo(_ context.Context, id string) error {
	if _, ok := f.candidates[id]; !ok {
		return records.ErrNotFound
	}
	f.videos = append(f.videos, id)
	return nil
}

type fakeBlobs struct {
	data []byte
}

func (f *fakeBlobs) Put(_ context.Context, recordID, documentType, filename, _ string, data []byte) (blob.Object, error) {
	f.data = data
	key := blob.ObjectKey(recordID, documentType, filename, time.UnixMilli(1))
	return blob.Object{Key: key, URL: "https://cdn.example.com/" + key}, nil
}

func (f *fakeBlobs) MaxBytes() int64 { return 1 << 20 }

type fakeAudit struct{}

func (fakeAudit) ListSessions(context.Context, int, int) ([]audit.Session, int, error) {
	return []audit.Session{{ID: "s1", RecordID: "recA1"}}, 1, nil
}

func (fakeAudit) GetSession(_ context.Context, id string) (*audit.Session, []audit.Verdict, error) {
	if id != "s1" {
		return nil, nil, audit.ErrNotFound
	}
	return &audit.Session{ID: "s1"}, nil, nil
}

func newMux(d deps) *http.ServeMux {
	mux := http.NewServeMux()
	registerRoutes(mux, d)
	return mux
}

func do(t *testing.T, mux http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func passingVerdict() onboarding.Verdict {
	return onboarding.Verdict{IsValid: true, Confidence: 0.9, NameMatch: true, ExtractedName: "John Smith", Issues: []string{}}
}

func TestVerifyDocumentWithoutSession(t *testing.T) {
	v := &fakeVerifier{verdict: passingVerdict()}
	mux := newMux(deps{verifier: v})

	rec := do(t, mux, http.MethodPost, "/api/verify-document", map[string]string{
		"recordId":      "recA1",
		"documentType":  "identity",
		"candidateName": "John Smith",
		"fileData":      "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("\x89PNG")),
		"fileName":      "id.png",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var got verifyDocumentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.IsValid)
	assert.Empty(t, got.Stage)
	assert.Equal(t, "image/png", v.got.ContentType)
	assert.Equal(t, onboarding.StageIdentity, v.got.Category)
	assert.Equal(t, "John Smith", v.got.ExpectedName)
}

func TestVerifyDocumentSubmitsToLiveSession(t *testing.T) {
	reg := orchestrator.NewRegistry()
	o := orchestrator.New(orchestrator.Config{SessionID: "recA1", CandidateName: "John Smith"}, func(orchestrator.Event) {})
	o.Start(context.Background())
	unregister := reg.Register(o)
	t.Cleanup(func() {
		o.Close()
		unregister()
	})

	v := &fakeVerifier{verdict: passingVerdict()}
	mux := newMux(deps{verifier: v, sessions: reg})

	rec := do(t, mux, http.MethodPost, "/api/verify-document", map[string]string{
		"recordId":     "recA1",
		"documentType": "identity",
		"fileData":     base64.StdEncoding.EncodeToString([]byte("%PDF-1.4")),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var got verifyDocumentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, onboarding.StageAddress, got.Stage)
	assert.True(t, got.Advanced)
	assert.Equal(t, 1, got.AttemptNumber)
	assert.Equal(t, "John Smith", v.got.ExpectedName)
}

func TestVerifyDocumentUsesLiveSessionName(t *testing.T) {
	reg := orchestrator.NewRegistry()
	o := orchestrator.New(orchestrator.Config{SessionID: "recA1", CandidateName: "John Smith"}, func(orchestrator.Event) {})
	o.Start(context.Background())
	unregister := reg.Register(o)
	t.Cleanup(func() {
		o.Close()
		unregister()
	})

	v := &fakeVerifier{verdict: passingVerdict()}
	mux := newMux(deps{verifier: v, sessions: reg})

	rec := do(t, mux, http.MethodPost, "/api/verify-document", map[string]string{
		"recordId":      "recA1",
		"documentType":  "identity",
		"candidateName": "Someone Else",
		"fileData":      base64.StdEncoding.EncodeToString([]byte("%PDF-1.4")),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "John Smith", v.got.ExpectedName)
}

func TestVerifyDocumentValidation(t *testing.T) {
	mux := newMux(deps{verifier: &fakeVerifier{}})

	cases := map[string]map[string]string{
		"missing record":   {"documentType": "identity", "candidateName": "John", "fileData": "QUJD"},
		"bad category":     {"recordId": "recA1", "documentType": "passport", "candidateName": "John", "fileData": "QUJD"},
		"bad base64":       {"recordId": "recA1", "documentType": "identity", "candidateName": "John", "fileData": "!!"},
		"no name anywhere": {"recordId": "recA1", "documentType": "identity", "fileData": "QUJD"},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := do(t, mux, http.MethodPost, "/api/verify-document", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "error")
		})
	}
}

func TestVerifyDocumentLooksUpCandidateName(t *testing.T) {
	v := &fakeVerifier{verdict: passingVerdict()}
	recs := &fakeRecords{candidates: map[string]records.Candidate{"recA1": {Name: "Maria Garcia"}}}
	mux := newMux(deps{verifier: v, records: recs})

	rec := do(t, mux, http.MethodPost, "/api/verify-document", map[string]string{
		"recordId": "recA1", "documentType": "offer", "fileData": "QUJD",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Maria Garcia", v.got.ExpectedName)
}

func TestOracleVerify(t *testing.T) {
	v := &fakeVerifier{verdict: passingVerdict()}
	mux := newMux(deps{verifier: v})

	rec := do(t, mux, http.MethodPost, "/api/oracle/verify", verify.OracleRequest{
		DocumentBytesBase64: "QUJD",
		DeclaredCategory:    "address",
		ExpectedName:        "John Smith",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, onboarding.StageAddress, v.got.Category)
	assert.Equal(t, "ABC", string(v.got.Document))
}

func multipartUpload(t *testing.T, fields map[string]string, file []byte) *http.Request {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		fw, err := mw.CreateFormFile("file", "my bill.pdf")
		require.NoError(t, err)
		fw.Write(file)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUploadStoresAndAttaches(t *testing.T) {
	blobs := &fakeBlobs{}
	recs := &fakeRecords{}
	mux := newMux(deps{blobs: blobs, records: recs})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, multipartUpload(t, map[string]string{"recordId": "recA1", "documentType": "address"}, []byte("%PDF-1.4")))
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Success bool   `json:"success"`
		URL     string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Success)
	assert.Equal(t, "https://cdn.example.com/recA1_address_1_my_bill.pdf", got.URL)
	assert.Equal(t, "%PDF-1.4", string(blobs.data))
	assert.Equal(t, got.URL, recs.attached[onboarding.StageAddress].URL)
	assert.Equal(t, "my bill.pdf", recs.attached[onboarding.StageAddress].Filename)
}

func TestUploadRejectsBadInput(t *testing.T) {
	mux := newMux(deps{blobs: &fakeBlobs{}})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, multipartUpload(t, map[string]string{"recordId": "recA1", "documentType": "resume"}, []byte("x")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, multipartUpload(t, map[string]string{"recordId": "recA1", "documentType": "offer"}, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadWithoutBlobStore(t *testing.T) {
	rec := httptest.NewRecorder()
	newMux(deps{}).ServeHTTP(rec, multipartUpload(t, map[string]string{"recordId": "recA1", "documentType": "offer"}, []byte("x")))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestVideoConfirmation(t *testing.T) {
	recs := &fakeRecords{candidates: map[string]records.Candidate{"recA1": {Name: "John"}}}
	mux := newMux(deps{records: recs})

	rec := do(t, mux, http.MethodPost, "/api/submit-video-confirmation", map[string]string{"recordId": "recA1"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"recA1"}, recs.videos)

	rec = do(t, mux, http.MethodPost, "/api/submit-video-confirmation", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, mux, http.MethodPost, "/api/submit-video-confirmation", map[string]string{"recordId": "recNope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCandidateRoute(t *testing.T) {
	recs := &fakeRecords{candidates: map[string]records.Candidate{"recA1": {RecordID: "recA1", Name: "John Smith", Position: "Engineer"}}}
	mux := newMux(deps{records: recs})

	rec := do(t, mux, http.MethodGet, "/api/candidates/recA1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"position":"Engineer"`)

	rec = do(t, mux, http.MethodGet, "/api/candidates/recB2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, newMux(deps{}), http.MethodGet, "/api/candidates/recA1", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSessionsRoutes(t *testing.T) {
	mux := newMux(deps{})
	rec := do(t, mux, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"active":0`)

	rec = do(t, mux, http.MethodGet, "/api/sessions/recA1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuditRoutes(t *testing.T) {
	rec := do(t, newMux(deps{}), http.MethodGet, "/api/audit/sessions", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	mux := newMux(deps{audit: fakeAudit{}})
	rec = do(t, mux, http.MethodGet, "/api/audit/sessions?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":1`)

	rec = do(t, mux, http.MethodGet, "/api/audit/sessions/s1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, mux, http.MethodGet, "/api/audit/sessions/s2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	mux := newMux(deps{})
	rec := do(t, mux, http.MethodGet, "/health", nil)
	assert.Equal(t, "ok", rec.Body.String())

	rec = do(t, mux, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "go_goroutines"))
}
