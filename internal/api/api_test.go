package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/consolidate"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/observability"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// createTestServer builds a server over a temp SQLite store seeded with
// a small population and alert set.
func createTestServer(t *testing.T) *Server {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	ctx := context.Background()
	detectedAt := time.Now().UTC().Truncate(time.Second)

	txns := []*domain.Transaction{
		{Step: 1, Type: domain.TypeTransfer, Amount: 4000, OriginID: "C_FLAGGED", DestinationID: "C_X"},
		{Step: 2, Type: domain.TypeTransfer, Amount: 8000, OriginID: "C_FLAGGED", DestinationID: "C_Y"},
		{Step: 1, Type: domain.TypePayment, Amount: 50, OriginID: "C_QUIET", DestinationID: "M_SHOP"},
	}
	if err := repo.InsertTransactions(ctx, txns); err != nil {
		t.Fatalf("InsertTransactions failed: %v", err)
	}

	ruleAlerts := []*domain.RuleAlert{
		{ID: "r-1", CustomerID: "C_FLAGGED", RuleName: "structuring", DetectedAt: detectedAt,
			Amount: 12000, TxnCount: 2, RiskScore: 75, Description: "split transfers"},
	}
	if err := repo.ReplaceRuleAlerts(ctx, "structuring", ruleAlerts); err != nil {
		t.Fatalf("ReplaceRuleAlerts failed: %v", err)
	}

	mlAlerts := []*domain.MLAlert{
		{ID: "m-1", CustomerID: "C_ODD", Step: 3, DetectedAt: detectedAt,
			AnomalyScore: 0.91, RiskScore: 90, SchemaHash: "deadbeef"},
	}
	if err := repo.ReplaceMLAlerts(ctx, mlAlerts); err != nil {
		t.Fatalf("ReplaceMLAlerts failed: %v", err)
	}

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}
	queries := consolidate.NewService(repo, nil)

	return NewServer(cfg, repo, nil, queries, nil, "test-v1")
}

func doGet(t *testing.T, server *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoint(t *testing.T) {
	server := createTestServer(t)

	rr := doGet(t, server, "/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("expected healthy status, got %q", resp["status"])
	}
	if resp["version"] != "test-v1" {
		t.Errorf("expected version test-v1, got %q", resp["version"])
	}
}

func TestReadyEndpoint(t *testing.T) {
	server := createTestServer(t)

	rr := doGet(t, server, "/ready")
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
}

func TestAlertsEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("MergedView", func(t *testing.T) {
		rr := doGet(t, server, "/alerts")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			Count  int             `json:"count"`
			Alerts []*domain.Alert `json:"alerts"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Count != 2 || len(resp.Alerts) != 2 {
			t.Fatalf("expected 2 alerts, got %+v", resp)
		}
		// ML alert has the higher risk score, so it leads the view.
		if resp.Alerts[0].Source != domain.SourceML {
			t.Errorf("expected ML alert first, got %+v", resp.Alerts[0])
		}
	})

	t.Run("RuleFilter", func(t *testing.T) {
		rr := doGet(t, server, "/alerts?rule=structuring&customerId=C_FLAGGED")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Count  int             `json:"count"`
			Alerts []*domain.Alert `json:"alerts"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Count != 1 || resp.Alerts[0].ID != "r-1" {
			t.Errorf("expected only the structuring alert, got %+v", resp)
		}
	})

	t.Run("NoMatchesReturnsEmptyArray", func(t *testing.T) {
		rr := doGet(t, server, "/alerts?customerId=C_NOBODY")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Count  int             `json:"count"`
			Alerts []*domain.Alert `json:"alerts"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Count != 0 || resp.Alerts == nil {
			t.Errorf("expected empty array, got %s", rr.Body.String())
		}
	})

	t.Run("BadQueryParams", func(t *testing.T) {
		for _, path := range []string{
			"/alerts?limit=0",
			"/alerts?limit=abc",
			"/alerts?minRisk=101",
			"/alerts?minRisk=-1",
		} {
			rr := doGet(t, server, path)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("%s: expected status 400, got %d", path, rr.Code)
			}
		}
	})
}

func TestMLAlertsEndpoint(t *testing.T) {
	server := createTestServer(t)

	rr := doGet(t, server, "/alerts/ml")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Count  int               `json:"count"`
		Alerts []*domain.MLAlert `json:"alerts"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Count != 1 || resp.Alerts[0].AnomalyScore != 0.91 {
		t.Errorf("unexpected ML alert listing: %+v", resp)
	}
}

func TestCustomerEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("WithAlerts", func(t *testing.T) {
		rr := doGet(t, server, "/customers/C_FLAGGED")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var profile domain.CustomerProfile
		if err := json.Unmarshal(rr.Body.Bytes(), &profile); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if profile.TotalTransactions != 2 || len(profile.Alerts) != 1 {
			t.Errorf("unexpected profile: %+v", profile)
		}
	})

	t.Run("ActivityButNoAlerts", func(t *testing.T) {
		rr := doGet(t, server, "/customers/C_QUIET")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			Alerts []json.RawMessage `json:"alerts"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Alerts == nil || len(resp.Alerts) != 0 {
			t.Errorf("expected empty alerts array, got %s", rr.Body.String())
		}
	})

	t.Run("UnknownCustomer", func(t *testing.T) {
		rr := doGet(t, server, "/customers/C_NOBODY")
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d: %s", rr.Code, rr.Body.String())
		}
	})
}

func TestSummaryEndpoint(t *testing.T) {
	server := createTestServer(t)

	rr := doGet(t, server, "/summary")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var summary domain.Summary
	if err := json.Unmarshal(rr.Body.Bytes(), &summary); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if summary.TotalTransactions != 3 || summary.TotalRuleAlerts != 1 || summary.TotalMLAlerts != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}
}

func TestMetricsRecordRequests(t *testing.T) {
	metrics := observability.NewMetrics()
	cfg := domain.ServerConfig{Host: "localhost", Port: 8080}
	server := NewServer(cfg, nil, nil, nil, metrics, "test-v1")

	for i := 0; i < 3; i++ {
		if rr := doGet(t, server, "/health"); rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
	}

	rr := doGet(t, server, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 from /metrics, got %d", rr.Code)
	}

	body := rr.Body.String()
	if !strings.Contains(body, `kestrel_http_requests_total{route="/health",status="200"} 3`) {
		t.Errorf("expected request counter samples for /health, got:\n%s", body)
	}
	if !strings.Contains(body, `kestrel_http_request_duration_seconds_count{route="/health"} 3`) {
		t.Errorf("expected latency samples for /health, got:\n%s", body)
	}
}

func TestRequestIDHeader(t *testing.T) {
	server := createTestServer(t)

	rr := doGet(t, server, "/health")
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID response header")
	}
}
