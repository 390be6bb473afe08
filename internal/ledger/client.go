package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/udhaarlabs/udhaar-core/internal/config"
	"github.com/udhaarlabs/udhaar-core/internal/protocol"
)

// ErrServiceUnavailable reports a network failure or 5xx from the ledger
// backend. Submissions are not retried; the user re-triggers the action.
var ErrServiceUnavailable = errors.New("ledger service unavailable")

// Lending statuses as reported by the backend.
const (
	StatusActive  = "active"
	StatusRepaid  = "repaid"
	StatusOverdue = "overdue"
)

// Trust levels accepted on repayment.
const (
	TrustExcellent = "excellent"
	TrustGood      = "good"
	TrustPoor      = "poor"
)

type LendRequest struct {
	BorrowerPhone string               `json:"borrower_phone"`
	BorrowerName  string               `json:"borrower_name"`
	Amount        float64              `json:"amount"`
	Description   string               `json:"description"`
	DueDate       string               `json:"due_date,omitempty"`
	VoiceNoteURL  string               `json:"voice_note_url,omitempty"`
	VoiceAnalysis *protocol.LoanIntent `json:"voice_analysis,omitempty"`
}

type RepayRequest struct {
	LendingID      string `json:"lending_id"`
	TrustLevel     string `json:"trust_level"`
	RepaymentNotes string `json:"repayment_notes,omitempty"`
}

type AnalysisRequest struct {
	BorrowerPhone string  `json:"borrower_phone"`
	Amount        float64 `json:"amount"`
}

type Lending struct {
	ID            string  `json:"id"`
	BorrowerPhone string  `json:"borrower_phone"`
	BorrowerName  string  `json:"borrower_name"`
	Amount        float64 `json:"amount"`
	Description   string  `json:"description"`
	DueDate       string  `json:"due_date"`
	Status        string  `json:"status"`
}

type successEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Client is the CRUD surface of the external lending ledger. Credentials are
// ambient: the configured session cookie rides on every request.
type Client struct {
	cfg  config.LedgerConfig
	http *http.Client
	log  *slog.Logger
}

func NewClient(cfg config.LedgerConfig, log *slog.Logger) *Client {
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		},
		log: log.With(slog.String("component", "ledger")),
	}
}

// Lend records a loan.
func (c *Client) Lend(ctx context.Context, req LendRequest) error {
	return c.post(ctx, "/udhaar/lend", req, nil)
}

// Repay marks a loan repaid with a trust rating for the borrower.
func (c *Client) Repay(ctx context.Context, req RepayRequest) error {
	switch req.TrustLevel {
	case TrustExcellent, TrustGood, TrustPoor:
	default:
		return fmt.Errorf("invalid trust level %q", req.TrustLevel)
	}
	return c.post(ctx, "/udhaar/repay", req, nil)
}

// RequestAnalysis asks the backend for a lending risk analysis. The payload
// is opaque to this service and handed to the caller verbatim.
func (c *Client) RequestAnalysis(ctx context.Context, req AnalysisRequest) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.post(ctx, "/udhaar/lending-analysis", req, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Lendings fetches the full ledger list for display.
func (c *Client) Lendings(ctx context.Context) ([]Lending, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/udhaar/lendings", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.decorate(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %s", ErrServiceUnavailable, resp.Status)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("ledger returned status %s", resp.Status)
	}

	var payload struct {
		Success  bool      `json:"success"`
		Lendings []Lending `json:"lendings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode lendings: %w", err)
	}
	return payload.Lendings, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out *json.RawMessage) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.decorate(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %s", ErrServiceUnavailable, resp.Status)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("ledger returned status %s", resp.Status)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrServiceUnavailable, err)
	}
	var envelope successEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !envelope.Success {
		if envelope.Error != "" {
			return fmt.Errorf("ledger rejected request: %s", envelope.Error)
		}
		return fmt.Errorf("ledger rejected request")
	}
	if out != nil {
		*out = raw
	}
	return nil
}

func (c *Client) decorate(req *http.Request) {
	if c.cfg.SessionCookie != "" {
		req.Header.Set("Cookie", c.cfg.SessionCookie)
	}
}
