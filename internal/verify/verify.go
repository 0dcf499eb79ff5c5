package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/hubenschmidt/preboard/internal/metrics"
	"github.com/hubenschmidt/preboard/internal/onboarding"
	"github.com/hubenschmidt/preboard/internal/pipeline"
)

// ErrInvalidRequest is returned for requests the oracle is never asked about.
var ErrInvalidRequest = errors.New("invalid verification request")

// Request is one document submitted for judgment.
type Request struct {
	Document     []byte           `validate:"required,min=1"`
	Category     onboarding.Stage `validate:"required,oneof=identity address offer"`
	ExpectedName string           `validate:"required"`
	FileName     string
	ContentType  string
}

// Backend produces a raw verdict for a document.
type Backend interface {
	Verify(ctx context.Context, req Request) (onboarding.Verdict, error)
}

// Config selects and bounds the oracle backend.
type Config struct {
	Backends map[string]Backend
	Engine   string
	Timeout  time.Duration
}

// Client validates requests, calls the selected backend and applies the
// name policy to whatever comes back. Backend failures become a failing
// technical verdict, never an error.
type Client struct {
	router   *pipeline.Router[Backend]
	engine   string
	timeout  time.Duration
	validate *validator.Validate
}

// NewClient creates an oracle client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		router:   pipeline.NewRouter(cfg.Backends, cfg.Engine),
		engine:   cfg.Engine,
		timeout:  timeout,
		validate: validator.New(),
	}
}

// Check reports whether the configured engine has a backend registered.
func (c *Client) Check() error {
	if !c.router.Has(c.engine) {
		return fmt.Errorf("%w: oracle engine %q, registered: %s",
			pipeline.ErrNoBackend, c.engine, strings.Join(c.router.Engines(), ", "))
	}
	return nil
}

// Verify judges one document. The returned error is non-nil only for
// invalid input.
func (c *Client) Verify(ctx context.Context, req Request) (onboarding.Verdict, error) {
	if req.ContentType == "" && len(req.Document) > 0 {
		req.ContentType = http.DetectContentType(req.Document)
	}
	req.ContentType = baseContentType(req.ContentType)
	req.ExpectedName = strings.TrimSpace(req.ExpectedName)

	if err := c.validate.Struct(req); err != nil {
		return onboarding.Verdict{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	backend, err := c.router.Route(c.engine)
	if err != nil {
		return c.technical(req, "route", err), nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	v, err := backend.Verify(ctx, req)
	metrics.OracleDuration.WithLabelValues(c.engine).Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, ErrUnsupportedDocument) {
			return onboarding.Verdict{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		return c.technical(req, "backend", err), nil
	}

	v.Timestamp = time.Now().UTC()
	v = onboarding.EnforceNamePolicy(v, req.ExpectedName)
	slog.Info("document verified",
		"category", req.Category,
		"valid", v.IsValid,
		"name_match", v.NameMatch,
		"confidence", v.Confidence,
		"engine", c.engine,
	)
	return v, nil
}

func (c *Client) technical(req Request, errType string, err error) onboarding.Verdict {
	metrics.Errors.WithLabelValues("oracle", errType).Inc()
	slog.Warn("oracle unavailable", "category", req.Category, "engine", c.engine, "error", err)
	v := onboarding.TechnicalFailure(err)
	v.Timestamp = time.Now().UTC()
	return v
}

func baseContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}
