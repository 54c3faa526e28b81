package auth

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware_NoToken(t *testing.T) {
	secret := []byte("test-secret")
	mw := NewMiddleware(secret, NewDefaultPolicy(nil, nil))
	handler := mw.Wrap(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/plants/basil/state", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestAuthMiddleware_ExemptPaths(t *testing.T) {
	mw := NewMiddleware([]byte("test-secret"), NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ingest/"}))
	handler := mw.Wrap(okHandler())

	for _, path := range []string{"/healthz", "/metrics", "/ingest/v1/telemetry"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		assert.Equal(t, http.StatusOK, resp.Code, path)
	}
}

func TestAuthMiddleware_RoleMatrix(t *testing.T) {
	secret := []byte("test-secret")
	mw := NewMiddleware(secret, NewDefaultPolicy(nil, nil))
	handler := mw.Wrap(okHandler())

	cases := []struct {
		role   string
		method string
		path   string
		want   int
	}{
		{"viewer", http.MethodGet, "/api/v1/plants/basil/history", http.StatusOK},
		{"viewer", http.MethodPost, "/api/v1/plants/basil/observations", http.StatusForbidden},
		{"operator", http.MethodPost, "/api/v1/plants/basil/observations", http.StatusOK},
		{"viewer", http.MethodGet, "/api/v1/anomalies/stream", http.StatusOK},
		{"operator", http.MethodPost, "/api/v1/calibration/reload", http.StatusForbidden},
		{"admin", http.MethodPost, "/api/v1/calibration/reload", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.role+" "+tc.method+" "+tc.path, func(t *testing.T) {
			token := mustToken(t, secret, tc.role, nil)
			req := httptest.NewRequest(tc.method, tc.path, nil)
			req.Header.Set("Authorization", "Bearer "+token)
			resp := httptest.NewRecorder()
			handler.ServeHTTP(resp, req)
			assert.Equal(t, tc.want, resp.Code)
		})
	}
}

func TestAuthMiddleware_RejectsWrongSecret(t *testing.T) {
	mw := NewMiddleware([]byte("test-secret"), NewDefaultPolicy(nil, nil))
	handler := mw.Wrap(okHandler())

	token := mustToken(t, []byte("other-secret"), "admin", nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/plants", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestAuthMiddleware_CarriesPlantScope(t *testing.T) {
	secret := []byte("test-secret")
	mw := NewMiddleware(secret, NewDefaultPolicy(nil, nil))
	var seen context.Context
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Context()
		w.WriteHeader(http.StatusOK)
	}))

	token := mustToken(t, secret, "viewer", []string{"basil"})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/plants/basil/state", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)

	assert.Equal(t, RoleViewer, RoleFromContext(seen))
	assert.Equal(t, "user-1", SubjectFromContext(seen))
	assert.NoError(t, EnsurePlantAccess(seen, "basil"))
	assert.ErrorIs(t, EnsurePlantAccess(seen, "tomato"), ErrForbidden)
	assert.True(t, PlantAllowed(context.Background(), "tomato"))
}

func TestIssueJWTRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	token, err := IssueJWT(secret, "ops", RoleOperator, []string{"basil"}, time.Hour)
	require.NoError(t, err)

	claims, err := ParseJWT(token, secret)
	require.NoError(t, err)
	assert.Equal(t, "operator", claims.Role)
	assert.Equal(t, []string{"basil"}, claims.Plants)

	_, err = IssueJWT(secret, "ops", Role("root"), nil, time.Hour)
	assert.Error(t, err)
	_, err = ParseJWT("", secret)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIngestAuthMiddleware(t *testing.T) {
	secret := []byte("ingest-secret")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mw := NewIngestAuthMiddleware(secret, 5*time.Minute)
	mw.now = func() time.Time { return now }
	var body string
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.WriteHeader(http.StatusAccepted)
	}))

	payload := `{"plant_id":"basil"}`
	ts := strconv.FormatInt(now.Unix(), 10)

	req := httptest.NewRequest(http.MethodPost, "/ingest/v1/telemetry", strings.NewReader(payload))
	req.Header.Set(HeaderIngestTimestamp, ts)
	req.Header.Set(HeaderIngestSignature, SignIngest(secret, ts, []byte(payload)))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusAccepted, resp.Code)
	assert.Equal(t, payload, body)

	req = httptest.NewRequest(http.MethodPost, "/ingest/v1/telemetry", strings.NewReader(payload))
	req.Header.Set(HeaderIngestTimestamp, ts)
	req.Header.Set(HeaderIngestSignature, SignIngest([]byte("wrong"), ts, []byte(payload)))
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	stale := strconv.FormatInt(now.Add(-time.Hour).Unix(), 10)
	req = httptest.NewRequest(http.MethodPost, "/ingest/v1/telemetry", strings.NewReader(payload))
	req.Header.Set(HeaderIngestTimestamp, stale)
	req.Header.Set(HeaderIngestSignature, SignIngest(secret, stale, []byte(payload)))
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func mustToken(t *testing.T, secret []byte, role string, plants []string) string {
	t.Helper()
	claims := Claims{
		Role:   role,
		Plants: plants,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestNormalizeRole(t *testing.T) {
	role, ok := NormalizeRole(" Operator ")
	require.True(t, ok)
	assert.Equal(t, RoleOperator, role)

	_, ok = NormalizeRole("root")
	assert.False(t, ok)

	assert.True(t, RoleAtLeast(RoleAdmin, RoleOperator))
	assert.False(t, RoleAtLeast(RoleViewer, RoleOperator))
	assert.False(t, RoleAtLeast(Role(""), Role("")))
	assert.Equal(t, []Role{RoleViewer, RoleOperator, RoleAdmin}, Roles())
}
