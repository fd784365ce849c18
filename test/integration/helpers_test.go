//go:build integration

// Package integration provides end-to-end integration tests for the RiskForge
// risk service. These tests require running PostgreSQL, Redis, and the risk
// service itself.
// Run with: go test -v -tags=integration ./test/integration/...
package integration

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

// Service URL (configurable via environment variable)
var riskURL = envOrDefault("RISK_URL", "http://localhost:8090")

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// httpClient is a shared HTTP client with reasonable timeouts
var httpClient = &http.Client{
	Timeout: 10 * time.Second,
}

// apiRequest makes an HTTP request and returns status code and body
func apiRequest(t *testing.T, method, url string, body string) (int, map[string]interface{}) {
	t.Helper()

	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}

	var result map[string]interface{}
	if len(respBody) > 0 {
		json.Unmarshal(respBody, &result) // Ignore errors for non-JSON responses
	}

	return resp.StatusCode, result
}

// newTestUserID returns a unique user ID so test runs never collide
func newTestUserID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

// scoreLogin posts a login attempt and returns status and assessment body
func scoreLogin(t *testing.T, userID, ip, seed string, passwordOK bool) (int, map[string]interface{}) {
	t.Helper()

	body := fmt.Sprintf(`{
		"user_id": %q,
		"ip": %q,
		"device_seed": %q,
		"password_ok": %t
	}`, userID, ip, seed, passwordOK)

	return apiRequest(t, "POST", riskURL+"/v1/score/login", body)
}

// recordTransaction posts a transaction for an account
func recordTransaction(t *testing.T, accountID string, amount float64, currency, category, merchant string) {
	t.Helper()

	body := fmt.Sprintf(`{
		"account_id": %q,
		"amount": %g,
		"currency": %q,
		"category": %q,
		"merchant": %q
	}`, accountID, amount, currency, category, merchant)

	status, respBody := apiRequest(t, "POST", riskURL+"/v1/transactions", body)
	if status != 201 {
		t.Fatalf("Failed to record transaction: status %d, body %v", status, respBody)
	}
}
