package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"campusconnect/internal/approval"
	"campusconnect/internal/auth"
	"campusconnect/internal/config"
	"campusconnect/internal/model"
	"campusconnect/internal/repository"
)

func testConfig() config.Config {
	return config.Config{
		JWTSecret:              "unit-test-secret",
		JWTIssuer:              "campusconnect",
		AccessTokenTTL:         time.Minute,
		RefreshTokenTTL:        time.Hour,
		BootstrapAdminEmail:    "admin@campus.local",
		BootstrapAdminPassword: "bootstrap-password",
	}
}

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"Bearer abc123", "abc123"},
		{"bearer abc123", "abc123"},
		{"Basic abc123", ""},
		{"Bearer", ""},
		{"Bearer  spaced ", "spaced"},
	}
	for _, tc := range cases {
		if got := bearerToken(tc.header); got != tc.want {
			t.Errorf("bearerToken(%q) = %q, want %q", tc.header, got, tc.want)
		}
	}
}

func TestParseLimit(t *testing.T) {
	cases := []struct {
		query string
		want  int
	}{
		{"", 50},
		{"limit=10", 10},
		{"limit=0", 50},
		{"limit=-5", 50},
		{"limit=abc", 50},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/posts?"+tc.query, nil)
		if got := parseLimit(r, 50); got != tc.want {
			t.Errorf("parseLimit(%q) = %d, want %d", tc.query, got, tc.want)
		}
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Forwarded-For", "10.1.2.3, 172.16.0.1")
	if got := clientIP(r); got != "10.1.2.3" {
		t.Fatalf("expected first forwarded address, got %q", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Real-IP", "10.9.8.7")
	if got := clientIP(r); got != "10.9.8.7" {
		t.Fatalf("expected real ip header, got %q", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	if got := clientIP(r); got != "" {
		t.Fatalf("expected empty ip, got %q", got)
	}
}

func TestAuthMiddleware(t *testing.T) {
	s := NewServer(testConfig(), nil, nil)
	var gotClaims *auth.Claims
	handler := s.authMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims = claimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer not-a-token")
	handler.ServeHTTP(rec, r)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with garbage token, got %d", rec.Code)
	}

	token, err := auth.NewAccessToken("unit-test-secret", "campusconnect", time.Minute, auth.Claims{
		UserID:   "u1",
		UserType: "student",
		Branch:   "CSE",
	})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	rec = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(rec, r)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d", rec.Code)
	}
	if gotClaims == nil || gotClaims.UserID != "u1" || gotClaims.UserType != "student" {
		t.Fatalf("unexpected claims: %+v", gotClaims)
	}
}

func TestOptionalAuthMiddlewareAllowsAnonymous(t *testing.T) {
	s := NewServer(testConfig(), nil, nil)
	handler := s.optionalAuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claimsFromContext(r.Context()) != nil {
			t.Fatalf("expected no claims for anonymous request")
		}
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/posts", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected anonymous request to pass, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/posts", nil)
	r.Header.Set("Authorization", "Bearer junk")
	handler.ServeHTTP(rec, r)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected bad token to be rejected, got %d", rec.Code)
	}
}

func TestRequireAdmin(t *testing.T) {
	s := NewServer(testConfig(), nil, nil)
	protected := s.requireAdmin(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	chain := s.authMiddleware(protected)

	studentToken, err := auth.NewAccessToken("unit-test-secret", "campusconnect", time.Minute, auth.Claims{
		UserID:   "u1",
		UserType: "student",
	})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/users", nil)
	r.Header.Set("Authorization", "Bearer "+studentToken)
	chain.ServeHTTP(rec, r)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for student, got %d", rec.Code)
	}

	adminToken, err := auth.NewAccessToken("unit-test-secret", "campusconnect", time.Minute, auth.Claims{
		UserID:   "a1",
		UserType: "admin",
	})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	rec = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/users", nil)
	r.Header.Set("Authorization", "Bearer "+adminToken)
	chain.ServeHTTP(rec, r)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", rec.Code)
	}
}

func TestBootstrapAdminLogin(t *testing.T) {
	s := NewServer(testConfig(), nil, nil)

	rec := httptest.NewRecorder()
	handled := s.bootstrapAdminLogin(rec, httptest.NewRequest(http.MethodPost, "/auth/login", nil), loginRequest{
		Email:    "admin@campus.local",
		Password: "bootstrap-password",
	})
	if !handled {
		t.Fatalf("expected bootstrap credentials to be handled")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp authResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp.RefreshToken != "" {
		t.Fatalf("bootstrap admin must not get a refresh token")
	}
	claims, err := auth.ParseToken("unit-test-secret", "campusconnect", resp.AccessToken)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if claims.UserType != "admin" || claims.UserID != bootstrapAdminID {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	rec = httptest.NewRecorder()
	handled = s.bootstrapAdminLogin(rec, httptest.NewRequest(http.MethodPost, "/auth/login", nil), loginRequest{
		Email:    "admin@campus.local",
		Password: "wrong",
	})
	if handled {
		t.Fatalf("expected wrong password to fall through")
	}
}

func TestMapUserSummary(t *testing.T) {
	usn := "1AP23CS042"
	branch := "CSE"
	semester := 3
	approvedBy := "a1"
	approvedAt := time.Unix(1700000000, 0).UTC()

	identity := model.Identity{
		ID:          "s1",
		USN:         &usn,
		Email:       "student@campus.local",
		DisplayName: "Test Student",
		Status:      model.StatusApproved,
		ApprovedBy:  &approvedBy,
		ApprovedAt:  &approvedAt,
		Version:     2,
	}
	role := model.Role{UserID: "s1", UserType: "student", Branch: &branch, Semester: &semester}

	summary := mapUserSummary(identity, role)
	if summary.USN != usn || summary.Branch != "CSE" || summary.Semester != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.Role != "student" || summary.Status != "approved" {
		t.Fatalf("unexpected role/status: %+v", summary)
	}
	if summary.ApprovedAt == nil || *summary.ApprovedAt != approvedAt.Unix() {
		t.Fatalf("unexpected approvedAt: %+v", summary.ApprovedAt)
	}
	if summary.RejectedAt != nil || summary.RejectionReason != nil {
		t.Fatalf("expected no rejection fields: %+v", summary)
	}
}

func TestSummaryFromSessionMatchesStoreView(t *testing.T) {
	usn := "1AP23CS042"
	branch := "CSE"
	semester := 3
	rejectedBy := "a1"
	rejectedByName := "Portal Admin"
	reason := "usn does not match college records"
	rejectedAt := time.Unix(1700000000, 0).UTC()

	identity := model.Identity{
		ID:              "s1",
		USN:             &usn,
		Email:           "student@campus.local",
		DisplayName:     "Test Student",
		Status:          model.StatusRejected,
		RejectedBy:      &rejectedBy,
		RejectedByName:  &rejectedByName,
		RejectedAt:      &rejectedAt,
		RejectionReason: &reason,
		Version:         3,
	}
	role := model.Role{UserID: "s1", UserType: "pending", Branch: &branch, Semester: &semester}

	fromCache := summaryFromSession(sessionSummary(identity, role))
	fromStore := mapUserSummary(identity, role)
	if !reflect.DeepEqual(fromCache, fromStore) {
		t.Fatalf("cache hit and store read diverge:\ncache: %+v\nstore: %+v", fromCache, fromStore)
	}
	if fromCache.RejectionReason == nil || *fromCache.RejectionReason != reason {
		t.Fatalf("expected rejection reason to survive the cache, got %+v", fromCache.RejectionReason)
	}
}

func TestWriteApprovalError(t *testing.T) {
	cases := []struct {
		err  error
		code int
		body string
	}{
		{approval.ErrNotFound, http.StatusNotFound, "user_not_found"},
		{approval.ErrUnauthorized, http.StatusForbidden, "forbidden"},
		{approval.ErrReasonTooShort, http.StatusBadRequest, "reason_too_short"},
		{approval.ErrReasonTooLong, http.StatusBadRequest, "reason_too_long"},
		{approval.ErrNotReviewable, http.StatusBadRequest, "not_reviewable"},
		{repository.ErrVersionConflict, http.StatusConflict, "version_conflict"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeApprovalError(rec, tc.err)
		if rec.Code != tc.code {
			t.Errorf("%v: expected status %d, got %d", tc.err, tc.code, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), tc.body) {
			t.Errorf("%v: expected body to contain %q, got %s", tc.err, tc.body, rec.Body.String())
		}
	}
}
