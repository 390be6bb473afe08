package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/udhaarlabs/udhaar-core/internal/capture"
	"github.com/udhaarlabs/udhaar-core/internal/config"
	"github.com/udhaarlabs/udhaar-core/internal/protocol"
)

// ErrServiceUnavailable reports a network failure or 5xx from the extraction
// service. The caller absorbs it into the fallback intent.
var ErrServiceUnavailable = errors.New("extraction service unavailable")

// ErrMalformed reports a payload the service returned that could not be
// validated into a LoanIntent.
var ErrMalformed = errors.New("malformed extraction response")

// Client uploads finished clips to the extraction service and validates the
// response into a typed LoanIntent at the boundary.
type Client struct {
	cfg    config.ExtractorConfig
	http   *http.Client
	cookie string
	log    *slog.Logger
}

func NewClient(cfg config.ExtractorConfig, sessionCookie string, log *slog.Logger) *Client {
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		},
		cookie: sessionCookie,
		log:    log.With(slog.String("component", "extractor")),
	}
}

type analysisEnvelope struct {
	Success  bool             `json:"success"`
	Error    string           `json:"error,omitempty"`
	Analysis *analysisPayload `json:"analysis,omitempty"`
}

type analysisPayload struct {
	BorrowerName  *string  `json:"borrower_name"`
	BorrowerPhone *string  `json:"borrower_phone"`
	Amount        *float64 `json:"amount"`
	Purpose       *string  `json:"purpose"`
	DueDate       *string  `json:"due_date"`
	Confidence    float64  `json:"confidence"`
	Transcript    string   `json:"transcript"`
}

// Extract uploads the clip and returns the structured intent. Failures are
// typed: ErrServiceUnavailable for transport/5xx, ErrMalformed for payloads
// that cannot be validated.
func (c *Client) Extract(ctx context.Context, clip capture.Clip) (protocol.LoanIntent, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("voice_file", clip.SessionID+".wav")
	if err != nil {
		return protocol.LoanIntent{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(clip.WAV); err != nil {
		return protocol.LoanIntent{}, fmt.Errorf("write clip: %w", err)
	}
	if err := writer.Close(); err != nil {
		return protocol.LoanIntent{}, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/udhaar/voice-analyze", &body)
	if err != nil {
		return protocol.LoanIntent{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return protocol.LoanIntent{}, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return protocol.LoanIntent{}, fmt.Errorf("%w: status %s", ErrServiceUnavailable, resp.Status)
	}
	if resp.StatusCode >= 300 {
		return protocol.LoanIntent{}, fmt.Errorf("%w: status %s", ErrMalformed, resp.Status)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return protocol.LoanIntent{}, fmt.Errorf("%w: read response: %v", ErrServiceUnavailable, err)
	}

	var envelope analysisEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return protocol.LoanIntent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !envelope.Success || envelope.Analysis == nil {
		if envelope.Error != "" {
			return protocol.LoanIntent{}, fmt.Errorf("%w: %s", ErrMalformed, envelope.Error)
		}
		return protocol.LoanIntent{}, fmt.Errorf("%w: missing analysis", ErrMalformed)
	}

	intent, err := validateIntent(envelope.Analysis)
	if err != nil {
		return protocol.LoanIntent{}, err
	}

	c.log.Info("clip analyzed",
		slog.String("session_id", clip.SessionID),
		slog.Float64("confidence", intent.Confidence),
		slog.Duration("latency", time.Since(start)))
	return intent, nil
}

// validateIntent maps the duck-typed server payload into the typed intent:
// blank strings become nil, confidence is clamped to [0,1].
func validateIntent(payload *analysisPayload) (protocol.LoanIntent, error) {
	intent := protocol.LoanIntent{
		BorrowerName:  cleanString(payload.BorrowerName),
		BorrowerPhone: cleanString(payload.BorrowerPhone),
		Amount:        payload.Amount,
		Purpose:       cleanString(payload.Purpose),
		Transcript:    strings.TrimSpace(payload.Transcript),
		Confidence:    payload.Confidence,
	}
	if intent.Amount != nil && *intent.Amount <= 0 {
		intent.Amount = nil
	}
	if intent.Confidence < 0 {
		intent.Confidence = 0
	}
	if intent.Confidence > 1 {
		intent.Confidence = 1
	}
	if payload.DueDate != nil && strings.TrimSpace(*payload.DueDate) != "" {
		due, err := time.Parse("2006-01-02", strings.TrimSpace(*payload.DueDate))
		if err != nil {
			return protocol.LoanIntent{}, fmt.Errorf("%w: due_date %q: %v", ErrMalformed, *payload.DueDate, err)
		}
		intent.DueDate = &due
	}
	return intent, nil
}

func cleanString(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
