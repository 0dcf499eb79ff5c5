// Package records reads and patches candidate rows in Airtable.
package records

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/patrickmn/go-cache"

	"github.com/hubenschmidt/preboard/internal/metrics"
	"github.com/hubenschmidt/preboard/internal/onboarding"
)

var (
	// ErrNotFound is returned when Airtable has no record for the id.
	ErrNotFound = errors.New("candidate record not found")
	// ErrInvalidRecordID is returned for ids that cannot name a record.
	ErrInvalidRecordID = errors.New("invalid record id")
	// ErrRateLimited is returned when every retry was answered with 429.
	ErrRateLimited = errors.New("airtable rate limited")
)

// Airtable column names.
const (
	FieldName         = "Name"
	FieldEmail        = "Email"
	FieldPhone        = "Phone"
	FieldPosition     = "Position"
	FieldDepartment   = "Department"
	FieldStartDate    = "Start Date"
	FieldBuddy        = "Buddy"
	FieldBuddyEmail   = "Buddy Email"
	FieldHRRep        = "HR Rep"
	FieldFormURL      = "Form URL"
	FieldVideoWatched = "Video Watched"
)

// AttachmentFields maps a document category to its attachment column.
var AttachmentFields = map[onboarding.Stage]string{
	onboarding.StageIdentity: "Identity Proof",
	onboarding.StageAddress:  "Address Proof",
	onboarding.StageOffer:    "Offer Letter",
}

// Candidate is the subset of a record the gateway uses.
type Candidate struct {
	RecordID         string `json:"recordId"`
	Name             string `json:"candidateName"`
	Email            string `json:"candidateEmail,omitempty"`
	Phone            string `json:"candidatePhone,omitempty"`
	Position         string `json:"position,omitempty"`
	Department       string `json:"department,omitempty"`
	StartDate        string `json:"startDate,omitempty"`
	Buddy            string `json:"buddyName,omitempty"`
	BuddyEmail       string `json:"buddyEmail,omitempty"`
	HRRep            string `json:"hrRep,omitempty"`
	FormURL          string `json:"formUrl,omitempty"`
	IdentityProofURL string `json:"identityProofUrl,omitempty"`
	AddressProofURL  string `json:"addressProofUrl,omitempty"`
	OfferLetterURL   string `json:"offerLetterUrl,omitempty"`
	VideoWatched     bool   `json:"videoWatched"`
}

// Attachment is an Airtable attachment cell entry.
type Attachment struct {
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
}

// Config locates the candidate table.
type Config struct {
	BaseURL    string
	Token      string
	BaseID     string
	TableID    string
	HTTPClient *http.Client
	CacheTTL   time.Duration
	MaxRetries int
	Backoff    time.Duration
}

// Client talks to the Airtable REST API. Reads are cached.
type Client struct {
	cfg   Config
	http  *http.Client
	cache *cache.Cache
}

// NewClient creates an Airtable client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.airtable.com/v0"
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		cfg:   cfg,
		http:  hc,
		cache: cache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
	}
}

type record struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

type patchBody struct {
	Fields map[string]any `json:"fields"`
}

// Candidate returns the record for recordID.
func (c *Client) Candidate(ctx context.Context, recordID string) (*Candidate, error) {
	if cached, ok := c.cache.Get(recordID); ok {
		cand := cached.(Candidate)
		return &cand, nil
	}

	var rec record
	if err := c.do(ctx, http.MethodGet, recordID, nil, &rec); err != nil {
		return nil, err
	}
	cand := toCandidate(rec)
	c.cache.Set(recordID, cand, cache.DefaultExpiration)
	return &cand, nil
}

// AttachDocument stores a blob URL in the category's attachment column.
func (c *Client) AttachDocument(ctx context.Context, recordID string, category onboarding.Stage, a Attachment) error {
	field, ok := AttachmentFields[category]
	if !ok {
		return fmt.Errorf("attach document: unknown category %q", category)
	}
	return c.patch(ctx, recordID, map[string]any{field: []Attachment{a}})
}

// ConfirmVideo marks the orientation video as watched.
func (c *Client) ConfirmVideo(ctx context.Context, recordID string) error {
	return c.patch(ctx, recordID, map[string]any{FieldVideoWatched: "Yes"})
}

func (c *Client) patch(ctx context.Context, recordID string, fields map[string]any) error {
	if err := c.do(ctx, http.MethodPatch, recordID, patchBody{Fields: fields}, nil); err != nil {
		return err
	}
	c.cache.Delete(recordID)
	slog.Info("airtable record updated", "record_id", recordID, "fields", len(fields))
	return nil
}

// do sends one request, retrying 429 answers with exponential backoff.
func (c *Client) do(ctx context.Context, method, recordID string, body, out any) error {
	endpoint, err := c.recordURL(recordID)
	if err != nil {
		return err
	}

	var payload []byte
	if body != nil {
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("airtable marshal: %w", err)
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.Backoff
	policy.Multiplier = 2

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		resp, err := c.send(ctx, method, endpoint, payload)
		if err != nil {
			metrics.Errors.WithLabelValues("airtable", "request").Inc()
			return struct{}{}, backoff.Permanent(fmt.Errorf("airtable %s: %w", strings.ToLower(method), err))
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			return struct{}{}, ErrRateLimited
		}
		return struct{}{}, backoff.Permanent(c.decode(resp, out))
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(c.cfg.MaxRetries)+1),
		backoff.WithNotify(func(_ error, delay time.Duration) {
			slog.Warn("airtable rate limited, backing off", "record_id", recordID, "delay", delay)
		}),
	)
	if errors.Is(err, ErrRateLimited) {
		metrics.Errors.WithLabelValues("airtable", "rate_limited").Inc()
	}
	return err
}

func (c *Client) send(ctx context.Context, method, endpoint string, payload []byte) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

func (c *Client) decode(resp *http.Response, out any) error {
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 300:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		metrics.Errors.WithLabelValues("airtable", "status").Inc()
		return fmt.Errorf("airtable status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	case out == nil:
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("airtable decode: %w", err)
	}
	return nil
}

func (c *Client) recordURL(recordID string) (string, error) {
	if recordID == "" || strings.ContainsAny(recordID, "/?#") {
		return "", ErrInvalidRecordID
	}
	return fmt.Sprintf("%s/%s/%s/%s",
		strings.TrimRight(c.cfg.BaseURL, "/"),
		url.PathEscape(c.cfg.BaseID),
		url.PathEscape(c.cfg.TableID),
		url.PathEscape(recordID),
	), nil
}

func toCandidate(rec record) Candidate {
	f := rec.Fields
	return Candidate{
		RecordID:         rec.ID,
		Name:             text(f, FieldName),
		Email:            text(f, FieldEmail),
		Phone:            text(f, FieldPhone),
		Position:         text(f, FieldPosition),
		Department:       text(f, FieldDepartment),
		StartDate:        text(f, FieldStartDate),
		Buddy:            text(f, FieldBuddy),
		BuddyEmail:       text(f, FieldBuddyEmail),
		HRRep:            text(f, FieldHRRep),
		FormURL:          text(f, FieldFormURL),
		IdentityProofURL: attachmentURL(f, AttachmentFields[onboarding.StageIdentity]),
		AddressProofURL:  attachmentURL(f, AttachmentFields[onboarding.StageAddress]),
		OfferLetterURL:   attachmentURL(f, AttachmentFields[onboarding.StageOffer]),
		VideoWatched:     strings.EqualFold(text(f, FieldVideoWatched), "yes"),
	}
}

func text(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprint(v)
	case bool:
		return fmt.Sprint(v)
	default:
		return ""
	}
}

func attachmentURL(fields map[string]any, key string) string {
	list, ok := fields[key].([]any)
	if !ok || len(list) == 0 {
		return ""
	}
	first, ok := list[0].(map[string]any)
	if !ok {
		return ""
	}
	u, _ := first["url"].(string)
	return u
}
