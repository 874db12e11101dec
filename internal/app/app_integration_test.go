package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/circularops/api/internal/auth"
	"github.com/circularops/api/internal/config"
	"github.com/circularops/api/internal/domain"
	"github.com/circularops/api/internal/objectstore"
	"github.com/circularops/api/internal/store"
)

const cookieName = "co_sess"

type testEnv struct {
	store  *store.Memory
	router http.Handler
}

func setupTestEnv(t *testing.T) testEnv {
	t.Helper()
	mem := store.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{
		Addr:               ":0",
		SessionCookieName:  cookieName,
		SessionTTL:         12 * time.Hour,
		CSRFEnforce:        true,
		Env:                "test",
		APIMaxBodyBytes:    1 << 20,
		ImportMaxFileBytes: 1 << 20,
		ImportMaxRows:      100,
		ImportMaxFiles:     5,
		QuantityCeiling:    domain.MaxQuantity,
		ResolveParallelism: 3,
		PhotoMaxBytes:      1 << 20,
		RateLimitPerMinute: 100,
		RateLimitMaxIPs:    100,
	}

	router, err := NewRouter(cfg, mem, objectstore.NewMemory("https://files.test"), logger)
	if err != nil {
		t.Fatalf("create router: %v", err)
	}
	return testEnv{store: mem, router: router}
}

var cheapHash = auth.Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 8, KeyLength: 16}

func seedOperator(t *testing.T, s *store.Memory, email, password, role string) {
	t.Helper()
	hash, err := cheapHash.Hash(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if _, err := s.CreateOperator(context.Background(), domain.Operator{
		Email:        email,
		FullName:     email,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}); err != nil {
		t.Fatalf("seed operator: %v", err)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := setupTestEnv(t)
	seedOperator(t, env.store, "admin@example.com", "Password123!", domain.RoleAdmin)

	payload, _ := json.Marshal(map[string]string{"email": "admin@example.com", "password": "wrong"})
	status, body := request(t, env.router, http.MethodPost, "/api/auth/login", payload, nil, "")
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d (%s)", status, body)
	}

	payload, _ = json.Marshal(map[string]string{"email": "admin@example.com"})
	status, body = request(t, env.router, http.MethodPost, "/api/auth/login", payload, nil, "")
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing password, got %d (%s)", status, body)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	env := setupTestEnv(t)
	seedOperator(t, env.store, "session@example.com", "Password123!", domain.RoleViewer)

	cookie := login(t, env.router, "session@example.com", "Password123!")
	status, _ := request(t, env.router, http.MethodGet, "/api/auth/me", nil, cookie, "")
	if status != http.StatusOK {
		t.Fatalf("expected 200 before logout, got %d", status)
	}

	status, _ = request(t, env.router, http.MethodPost, "/api/auth/logout", nil, cookie, "")
	if status != http.StatusForbidden {
		t.Fatalf("expected 403 logout without csrf, got %d", status)
	}

	csrf := csrfToken(t, env.router, cookie)
	status, _ = request(t, env.router, http.MethodPost, "/api/auth/logout", nil, cookie, csrf)
	if status != http.StatusNoContent {
		t.Fatalf("expected 204 logout response, got %d", status)
	}

	status, _ = request(t, env.router, http.MethodGet, "/api/auth/me", nil, cookie, "")
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", status)
	}
}

func TestViewerIsReadOnly(t *testing.T) {
	env := setupTestEnv(t)
	seedOperator(t, env.store, "viewer@example.com", "Password123!", domain.RoleViewer)

	cookie := login(t, env.router, "viewer@example.com", "Password123!")
	csrf := csrfToken(t, env.router, cookie)

	status, _ := request(t, env.router, http.MethodGet, "/api/products", nil, cookie, "")
	if status != http.StatusOK {
		t.Fatalf("expected 200 product list for viewer, got %d", status)
	}

	payload, _ := json.Marshal(map[string]string{"name": "Sam"})
	status, _ = request(t, env.router, http.MethodPost, "/api/drivers", payload, cookie, csrf)
	if status != http.StatusForbidden {
		t.Fatalf("expected 403 driver create for viewer, got %d", status)
	}

	status, _ = upload(t, env.router, "/api/imports/inventory", cookie, csrf, "stock.csv", inventoryCSV("kale,1"))
	if status != http.StatusForbidden {
		t.Fatalf("expected 403 import for viewer, got %d", status)
	}
}

func TestRequestValidation(t *testing.T) {
	env := setupTestEnv(t)
	seedOperator(t, env.store, "admin@example.com", "Password123!", domain.RoleAdmin)
	cookie := login(t, env.router, "admin@example.com", "Password123!")
	csrf := csrfToken(t, env.router, cookie)

	payload, _ := json.Marshal(map[string]any{"email": "x@example.com"})
	status, body := request(t, env.router, http.MethodPost, "/api/customers", payload, cookie, csrf)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing companyName, got %d (%s)", status, body)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("parse error body: %v", err)
	}
	if envelope.Error.Code != "validation_error" {
		t.Fatalf("expected validation_error, got %q", envelope.Error.Code)
	}

	payload, _ = json.Marshal(map[string]any{"productName": "kale", "quantity": 0})
	status, body = request(t, env.router, http.MethodPost, "/api/processing-requests", payload, cookie, csrf)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero quantity, got %d (%s)", status, body)
	}
}

func TestImportThenExportInventory(t *testing.T) {
	env := setupTestEnv(t)
	seedOperator(t, env.store, "admin@example.com", "Password123!", domain.RoleAdmin)
	cookie := login(t, env.router, "admin@example.com", "Password123!")
	csrf := csrfToken(t, env.router, cookie)

	status, body := upload(t, env.router, "/api/imports/inventory", cookie, csrf, "stock.csv", inventoryCSV("kale,5", "spinach,2", "kale,1"))
	if status != http.StatusOK {
		t.Fatalf("expected 200 import, got %d (%s)", status, body)
	}

	status, body = request(t, env.router, http.MethodGet, "/api/products", nil, cookie, "")
	if status != http.StatusOK {
		t.Fatalf("expected 200 product list, got %d", status)
	}
	var list struct {
		Items []struct {
			Name     string `json:"name"`
			Quantity int64  `json:"quantity"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("parse products: %v", err)
	}
	if len(list.Items) != 2 || list.Items[0].Name != "kale" || list.Items[0].Quantity != 6 {
		t.Fatalf("unexpected products after import: %+v", list.Items)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/exports/products.csv", nil)
	req.AddCookie(cookie)
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 export, got %d (%s)", rec.Code, rec.Body.String())
	}
	disposition := rec.Header().Get("Content-Disposition")
	if !strings.HasPrefix(disposition, `attachment; filename="inventory_`) {
		t.Fatalf("unexpected Content-Disposition %q", disposition)
	}
	if !strings.Contains(rec.Body.String(), "kale,6,") {
		t.Fatalf("export is missing the merged kale row: %s", rec.Body.String())
	}

	entries := env.store.AuditEntries()
	actions := map[string]int{}
	for _, e := range entries {
		actions[e.Action]++
	}
	if actions["import.completed"] != 1 || actions["export.download"] != 1 {
		t.Fatalf("unexpected audit trail: %v", actions)
	}
}

func TestLoginRateLimit(t *testing.T) {
	mem := store.NewMemory()
	cfg := config.Config{
		SessionCookieName:  cookieName,
		SessionTTL:         time.Hour,
		QuantityCeiling:    domain.MaxQuantity,
		ImportMaxFiles:     1,
		RateLimitPerMinute: 2,
		RateLimitMaxIPs:    10,
	}
	router, err := NewRouter(cfg, mem, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("create router: %v", err)
	}

	payload, _ := json.Marshal(map[string]string{"email": "nobody@example.com", "password": "x"})
	var last int
	for i := 0; i < 3; i++ {
		last, _ = request(t, router, http.MethodPost, "/api/auth/login", payload, nil, "")
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after limit, got %d", last)
	}
}

func inventoryCSV(rows ...string) string {
	return "Product Name,Quantity (kg),Product Description,Reserved Location,Created Date,Last Updated Date\n" +
		strings.Join(rows, ",,,,\n") + ",,,,\n"
}

func login(t *testing.T, router http.Handler, email, password string) *http.Cookie {
	t.Helper()
	payload, _ := json.Marshal(map[string]string{"email": email, "password": password})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "127.0.0.1:12345"
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		body, _ := io.ReadAll(rec.Result().Body)
		t.Fatalf("login expected 200, got %d with body: %s", rec.Code, string(body))
	}

	for _, c := range rec.Result().Cookies() {
		if c.Name == cookieName {
			return c
		}
	}
	t.Fatal("session cookie not set")
	return nil
}

func csrfToken(t *testing.T, router http.Handler, session *http.Cookie) string {
	t.Helper()
	status, body := request(t, router, http.MethodGet, "/api/auth/csrf", nil, session, "")
	if status != http.StatusOK {
		t.Fatalf("csrf expected 200, got %d (%s)", status, string(body))
	}
	var payload map[string]string
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("parse csrf body: %v", err)
	}
	return payload["csrfToken"]
}

func request(t *testing.T, router http.Handler, method, path string, body []byte, session *http.Cookie, csrf string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.RemoteAddr = "127.0.0.1:12345"
	if session != nil {
		req.AddCookie(session)
	}
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	respBody, _ := io.ReadAll(rec.Result().Body)
	return rec.Code, respBody
}

func upload(t *testing.T, router http.Handler, path string, session *http.Cookie, csrf, filename, content string) (int, []byte) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := io.WriteString(part, content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-CSRF-Token", csrf)
	req.AddCookie(session)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	respBody, _ := io.ReadAll(rec.Result().Body)
	return rec.Code, respBody
}
