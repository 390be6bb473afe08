package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/udhaarlabs/udhaar-core/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestLedger(serverURL string) *Client {
	return NewClient(config.LedgerConfig{BaseURL: serverURL, TimeoutMS: 2000, SessionCookie: "session=xyz"}, testLogger())
}

func TestLend(t *testing.T) {
	var gotPath, gotCookie string
	var gotBody LendRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotCookie = r.Header.Get("Cookie")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		io.WriteString(w, `{"success": true}`)
	}))
	defer server.Close()

	err := newTestLedger(server.URL).Lend(context.Background(), LendRequest{
		BorrowerName: "Rahul",
		Amount:       500,
		Description:  "medical bills",
	})
	if err != nil {
		t.Fatalf("lend: %v", err)
	}
	if gotPath != "/udhaar/lend" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotCookie != "session=xyz" {
		t.Fatalf("expected session cookie forwarded, got %q", gotCookie)
	}
	if gotBody.BorrowerName != "Rahul" || gotBody.Amount != 500 {
		t.Fatalf("unexpected body %+v", gotBody)
	}
}

func TestLendRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `{"success": false, "error": "phone required"}`)
	}))
	defer server.Close()

	err := newTestLedger(server.URL).Lend(context.Background(), LendRequest{BorrowerName: "Rahul", Amount: 500})
	if err == nil {
		t.Fatal("expected error for rejected request")
	}
	if errors.Is(err, ErrServiceUnavailable) {
		t.Fatal("a rejection is not an availability failure")
	}
}

func TestLendServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	err := newTestLedger(server.URL).Lend(context.Background(), LendRequest{BorrowerName: "Rahul", Amount: 500})
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}
}

func TestRepayValidatesTrustLevel(t *testing.T) {
	client := newTestLedger("http://localhost:0")
	err := client.Repay(context.Background(), RepayRequest{LendingID: "l1", TrustLevel: "amazing"})
	if err == nil {
		t.Fatal("expected trust level validation error")
	}
}

func TestRepay(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		io.WriteString(w, `{"success": true}`)
	}))
	defer server.Close()

	err := newTestLedger(server.URL).Repay(context.Background(), RepayRequest{LendingID: "l1", TrustLevel: TrustGood})
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if gotPath != "/udhaar/repay" {
		t.Fatalf("unexpected path %q", gotPath)
	}
}

func TestRequestAnalysisReturnsRawPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/udhaar/lending-analysis" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		io.WriteString(w, `{"success": true, "analysis": {"risk": "low", "score": 82}}`)
	}))
	defer server.Close()

	raw, err := newTestLedger(server.URL).RequestAnalysis(context.Background(), AnalysisRequest{BorrowerPhone: "9999999999", Amount: 500})
	if err != nil {
		t.Fatalf("request analysis: %v", err)
	}
	var payload struct {
		Analysis struct {
			Risk string `json:"risk"`
		} `json:"analysis"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("decode raw payload: %v", err)
	}
	if payload.Analysis.Risk != "low" {
		t.Fatalf("expected analysis passed through verbatim, got %s", raw)
	}
}

func TestLendings(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/udhaar/lendings" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		io.WriteString(w, `{"success": true, "lendings": [{"id": "l1", "borrower_name": "Rahul", "amount": 500, "status": "active"}]}`)
	}))
	defer server.Close()

	lendings, err := newTestLedger(server.URL).Lendings(context.Background())
	if err != nil {
		t.Fatalf("lendings: %v", err)
	}
	if len(lendings) != 1 {
		t.Fatalf("expected 1 lending, got %d", len(lendings))
	}
	if lendings[0].Status != StatusActive {
		t.Fatalf("unexpected status %q", lendings[0].Status)
	}
}
