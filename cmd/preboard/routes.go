package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hubenschmidt/preboard/internal/audit"
	"github.com/hubenschmidt/preboard/internal/blob"
	"github.com/hubenschmidt/preboard/internal/onboarding"
	"github.com/hubenschmidt/preboard/internal/orchestrator"
	"github.com/hubenschmidt/preboard/internal/records"
	"github.com/hubenschmidt/preboard/internal/verify"
)

const (
	// defaultAuditSessionLimit is how many audit sessions are returned
	// when the caller omits the ?limit= query parameter.
	defaultAuditSessionLimit = 20

	// multipartOverhead is allowed on top of the file limit for form fields.
	multipartOverhead = 1 << 20
)

type verifier interface {
	Verify(ctx context.Context, req verify.Request) (onboarding.Verdict, error)
}

type candidateStore interface {
	Candidate(ctx context.Context, recordID string) (*records.Candidate, error)
	AttachDocument(ctx context.Context, recordID string, category onboarding.Stage, a records.Attachment) error
	ConfirmVideo(ctx context.Context, recordID string) error
}

type blobStore interface {
	Put(ctx context.Context, recordID, documentType, filename, contentType string, data []byte) (blob.Object, error)
	MaxBytes() int64
}

type auditReader interface {
	ListSessions(ctx context.Context, limit, offset int) ([]audit.Session, int, error)
	GetSession(ctx context.Context, id string) (*audit.Session, []audit.Verdict, error)
}

type deps struct {
	verifier  verifier
	records   candidateStore
	blobs     blobStore
	audit     auditReader
	sessions  *orchestrator.Registry
	wsHandler http.Handler
}

var validate = validator.New()

// registerRoutes wires all HTTP endpoints to the shared mux.
func registerRoutes(mux *http.ServeMux, d deps) {
	if d.sessions == nil {
		d.sessions = orchestrator.NewRegistry()
	}
	if d.wsHandler != nil {
		mux.Handle("/ws/onboard", d.wsHandler)
	}
	mux.HandleFunc("/health", handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /api/verify-document", d.handleVerifyDocument)
	mux.HandleFunc("POST /api/oracle/verify", d.handleOracleVerify)
	mux.HandleFunc("POST /api/upload", d.handleUpload)
	mux.HandleFunc("POST /api/submit-video-confirmation", d.handleVideoConfirmation)
	mux.HandleFunc("GET /api/candidates/{recordId}", d.handleCandidate)
	mux.HandleFunc("GET /api/sessions", d.handleSessions)
	mux.HandleFunc("GET /api/sessions/{id}", d.handleSession)
	registerAuditRoutes(mux, d.audit)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type verifyDocumentRequest struct {
	RecordID      string `json:"recordId" validate:"required"`
	DocumentType  string `json:"documentType" validate:"required,oneof=identity address offer"`
	CandidateName string `json:"candidateName"`
	FileData      string `json:"fileData" validate:"required"`
	FileName      string `json:"fileName"`
	FileType      string `json:"fileType"`
}

type verifyDocumentResponse struct {
	onboarding.Verdict
	Stage    onboarding.Stage `json:"stage,omitempty"`
	Advanced bool             `json:"advanced,omitempty"`
	Stale    bool             `json:"stale,omitempty"`
}

// handleVerifyDocument judges an uploaded document. When the candidate has
// a live session the verdict is submitted to it.
func (d deps) handleVerifyDocument(w http.ResponseWriter, r *http.Request) {
	var req verifyDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	doc, uriType, err := verify.DecodeDocument(req.FileData)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	contentType := req.FileType
	if contentType == "" {
		contentType = uriType
	}

	session, live := d.sessions.Lookup(req.RecordID)
	name := d.candidateName(r.Context(), req.RecordID, req.CandidateName, session)
	if name == "" {
		writeError(w, http.StatusBadRequest, "candidate name is required")
		return
	}

	category := onboarding.Stage(req.DocumentType)
	v, err := d.verifier.Verify(r.Context(), verify.Request{
		Document:     doc,
		Category:     category,
		ExpectedName: name,
		FileName:     req.FileName,
		ContentType:  contentType,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := verifyDocumentResponse{Verdict: v}
	if live {
		out, err := session.Submit(r.Context(), category, v)
		switch {
		case errors.Is(err, orchestrator.ErrClosed):
			slog.Info("session closed before verdict", "record_id", req.RecordID)
		case err != nil:
			slog.Warn("submit verdict", "record_id", req.RecordID, "error", err)
		default:
			resp = verifyDocumentResponse{Verdict: out.Verdict, Stage: out.Stage, Advanced: out.Advanced, Stale: out.Stale}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// candidateName prefers the live session's name, then the name given with
// the request, then the candidate record's.
func (d deps) candidateName(ctx context.Context, recordID, given string, session *orchestrator.Orchestrator) string {
	if session != nil {
		return session.CandidateName()
	}
	if name := strings.TrimSpace(given); name != "" {
		return name
	}
	if d.records == nil {
		return ""
	}
	cand, err := d.records.Candidate(ctx, recordID)
	if err != nil {
		slog.Warn("candidate lookup failed", "record_id", recordID, "error", err)
		return ""
	}
	return cand.Name
}

// handleOracleVerify serves the oracle contract directly.
func (d deps) handleOracleVerify(w http.ResponseWriter, r *http.Request) {
	var body verify.OracleRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	req, err := body.Request()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, err := d.verifier.Verify(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (d deps) handleUpload(w http.ResponseWriter, r *http.Request) {
	if d.blobs == nil {
		writeError(w, http.StatusServiceUnavailable, "uploads are not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, d.blobs.MaxBytes()+multipartOverhead)
	if err := r.ParseMultipartForm(d.blobs.MaxBytes()); err != nil {
		writeError(w, http.StatusBadRequest, "file too large or malformed form")
		return
	}

	recordID := r.FormValue("recordId")
	documentType := r.FormValue("documentType")
	if recordID == "" || documentType == "" {
		writeError(w, http.StatusBadRequest, "recordId and documentType are required")
		return
	}
	category, err := onboarding.ParseCategory(documentType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read file")
		return
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	obj, err := d.blobs.Put(r.Context(), recordID, documentType, header.Filename, contentType, data)
	switch {
	case errors.Is(err, blob.ErrTooLarge), errors.Is(err, blob.ErrEmpty):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		slog.Error("store upload", "record_id", recordID, "error", err)
		writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}

	if d.records != nil {
		err = d.records.AttachDocument(r.Context(), recordID, category, records.Attachment{URL: obj.URL, Filename: header.Filename})
		if err != nil {
			slog.Error("attach document", "record_id", recordID, "category", category, "error", err)
			writeError(w, http.StatusBadGateway, "upload stored but record update failed")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "url": obj.URL})
}

func (d deps) handleVideoConfirmation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RecordID string `json:"recordId" validate:"required"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || validate.Struct(req) != nil {
		writeError(w, http.StatusBadRequest, "recordId is required")
		return
	}
	if d.records == nil {
		writeError(w, http.StatusServiceUnavailable, "candidate records are not configured")
		return
	}
	if err := d.records.ConfirmVideo(r.Context(), req.RecordID); err != nil {
		d.recordError(w, req.RecordID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (d deps) handleCandidate(w http.ResponseWriter, r *http.Request) {
	if d.records == nil {
		writeError(w, http.StatusServiceUnavailable, "candidate records are not configured")
		return
	}
	recordID := r.PathValue("recordId")
	cand, err := d.records.Candidate(r.Context(), recordID)
	if err != nil {
		d.recordError(w, recordID, err)
		return
	}
	writeJSON(w, http.StatusOK, cand)
}

func (d deps) recordError(w http.ResponseWriter, recordID string, err error) {
	switch {
	case errors.Is(err, records.ErrNotFound):
		writeError(w, http.StatusNotFound, "record not found")
	case errors.Is(err, records.ErrInvalidRecordID):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("airtable request", "record_id", recordID, "error", err)
		writeError(w, http.StatusBadGateway, "candidate records unavailable")
	}
}

func (d deps) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active":   d.sessions.Count(),
		"sessions": d.sessions.List(),
	})
}

func (d deps) handleSession(w http.ResponseWriter, r *http.Request) {
	session, ok := d.sessions.Lookup(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "no live session")
		return
	}
	snap, err := session.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusNotFound, "no live session")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func registerAuditRoutes(mux *http.ServeMux, store auditReader) {
	mux.HandleFunc("GET /api/audit/sessions", func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "audit disabled", http.StatusNotFound)
			return
		}
		limit := queryInt(r, "limit", defaultAuditSessionLimit)
		offset := queryInt(r, "offset", 0)
		sessions, total, err := store.ListSessions(r.Context(), limit, offset)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "total": total})
	})

	mux.HandleFunc("GET /api/audit/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "audit disabled", http.StatusNotFound)
			return
		}
		sess, verdicts, err := store.GetSession(r.Context(), r.PathValue("id"))
		if err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"session": sess, "verdicts": verdicts})
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
