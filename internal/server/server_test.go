package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rorp/rebalance-eclair/internal/config"
	"github.com/rorp/rebalance-eclair/internal/rebalance"
)

type stubNode struct{}

func (stubNode) ListChannels(ctx context.Context) ([]rebalance.Channel, error) {
	return nil, nil
}

func (stubNode) CreateInvoice(ctx context.Context, amountSat int64, description string) (rebalance.Invoice, error) {
	return rebalance.Invoice{ID: "inv", PaymentHash: "hash"}, nil
}

func (stubNode) PayInvoice(ctx context.Context, invoiceID string, maxFeeSat int64, externalID string, hints rebalance.RouteHints) (string, error) {
	return "payment", nil
}

func (stubNode) GetPaymentStatus(ctx context.Context, paymentID, paymentHash string) (rebalance.PaymentStatus, error) {
	return rebalance.PaymentStatus{State: rebalance.PaymentPending}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Config{
		PollInterval:       10 * time.Minute,
		MaxCandidates:      3,
		RatioLow:           0.4,
		RatioHigh:          0.6,
		MaxAmountSat:       1_000_000,
		MinAmountSat:       10_000,
		FeeCapSat:          100,
		FeeCapPct:          0.05,
		EpochBudgetSat:     2_000,
		EpochLength:        24 * time.Hour,
		MinViableFeeSat:    1,
		CooldownBase:       10 * time.Minute,
		CooldownMax:        24 * time.Hour,
		FailureCap:         5,
		StatusPollInterval: time.Second,
		StatusPollTimeout:  2 * time.Second,
		ReconcileInterval:  time.Second,
	}
	worker := rebalance.NewWorker(cfg, stubNode{}, nil, zerolog.Nop())
	return New("127.0.0.1:0", worker, zerolog.Nop())
}

func TestOverviewEndpoint(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/overview", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var overview rebalance.Overview
	if err := json.NewDecoder(rec.Body).Decode(&overview); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if overview.PassCount != 0 || overview.Budget.EpochCapSat != 2_000 {
		t.Fatalf("unexpected overview: %+v", overview)
	}
}

func TestChannelsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/channels", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var channels []rebalance.Channel
	if err := json.NewDecoder(rec.Body).Decode(&channels); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestExclusionResetValidation(t *testing.T) {
	srv := newTestServer(t)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{`, http.StatusBadRequest},
		{"unknown field", `{"pair":"a->b"}`, http.StatusBadRequest},
		{"missing target", `{"source":"a"}`, http.StatusBadRequest},
		{"unknown pair", `{"source":"a","target":"b"}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/exclusions/reset", strings.NewReader(tc.body))
			srv.routes().ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestTriggerPassEndpoint(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/pass", nil))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestExclusionsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/exclusions", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var entries []rebalance.ExclusionEntry
	if err := json.NewDecoder(rec.Body).Decode(&entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no exclusions, got %d", len(entries))
	}
}
