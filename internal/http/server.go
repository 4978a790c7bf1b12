package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"campusconnect/internal/approval"
	"campusconnect/internal/auth"
	"campusconnect/internal/config"
	"campusconnect/internal/crypto"
	"campusconnect/internal/model"
	"campusconnect/internal/repository"
	"campusconnect/internal/session"
)

const bootstrapAdminID = "00000000-0000-0000-0000-000000000000"

type Server struct {
	cfg       config.Config
	store     *repository.Store
	approvals *approval.Service
	sessions  *session.Manager
}

func NewServer(cfg config.Config, store *repository.Store, sessions *session.Manager) *Server {
	return &Server{
		cfg:       cfg,
		store:     store,
		approvals: approval.NewService(store),
		sessions:  sessions,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/auth/register", s.handleRegister)
	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/refresh", s.handleRefresh)
	r.With(s.authMiddleware).Post("/auth/logout", s.handleLogout)
	r.With(s.authMiddleware).Get("/auth/me", s.handleGetMe)

	r.With(s.authMiddleware, s.requireAdmin).Get("/users", s.handleListUsers)
	r.With(s.authMiddleware).Get("/user/{userID}", s.handleGetUser)
	r.With(s.authMiddleware).Patch("/user/{userID}", s.handleUpdateUser)
	r.With(s.authMiddleware, s.requireAdmin).Delete("/user/{userID}", s.handleDeleteUser)

	r.With(s.authMiddleware, s.requireAdmin).Post("/faculty", s.handleCreateFaculty)
	r.With(s.authMiddleware, s.requireAdmin).Post("/admin", s.handleCreateAdmin)

	r.With(s.authMiddleware).Get("/approvals/pending", s.handleListPending)
	r.With(s.authMiddleware).Post("/approvals/{userID}/approve", s.handleApprove)
	r.With(s.authMiddleware).Post("/approvals/{userID}/reject", s.handleReject)

	r.With(s.optionalAuthMiddleware).Get("/posts", s.handleListPosts)
	r.With(s.optionalAuthMiddleware).Get("/post/{postID}", s.handleGetPost)
	r.With(s.authMiddleware).Post("/post", s.handleCreatePost)
	r.With(s.authMiddleware).Patch("/post/{postID}", s.handlePatchPost)
	r.With(s.authMiddleware).Delete("/post/{postID}", s.handleDeletePost)
	r.With(s.authMiddleware).Post("/post/{postID}/like", s.handleToggleLike)

	return r
}

// Auth

type claimsKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		claims, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// optionalAuthMiddleware attaches claims when a valid token is present but
// lets anonymous requests through; the visibility filter handles the rest.
func (s *Server) optionalAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFromContext(r.Context())
		if claims == nil || claims.UserType != "admin" {
			writeError(w, http.StatusForbidden, "admin_only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

// Models

type registerRequest struct {
	USN         string `json:"usn"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
	Semester    int    `json:"semester"`
}

type loginRequest struct {
	USN      string `json:"usn,omitempty"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}

type authResponse struct {
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken,omitempty"`
	User         userSummary `json:"user"`
}

type userSummary struct {
	ID               string   `json:"id"`
	USN              string   `json:"usn,omitempty"`
	Email            string   `json:"email"`
	DisplayName      string   `json:"displayName"`
	Role             string   `json:"role"`
	Branch           string   `json:"branch,omitempty"`
	Semester         int      `json:"semester,omitempty"`
	AssignedBranches []string `json:"assignedBranches,omitempty"`
	Status           string   `json:"status"`
	ApprovedBy       *string  `json:"approvedBy,omitempty"`
	ApprovedByName   *string  `json:"approvedByName,omitempty"`
	ApprovedAt       *int64   `json:"approvedAt,omitempty"`
	RejectedBy       *string  `json:"rejectedBy,omitempty"`
	RejectedByName   *string  `json:"rejectedByName,omitempty"`
	RejectedAt       *int64   `json:"rejectedAt,omitempty"`
	RejectionReason  *string  `json:"rejectionReason,omitempty"`
}

// Handlers

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if req.USN == "" || req.Email == "" || req.Password == "" || req.DisplayName == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}
	usn, err := model.NormalizeUSN(req.USN)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_usn")
		return
	}
	branch, err := model.BranchFromUSN(usn)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_usn")
		return
	}
	if !model.IsValidSemester(req.Semester) {
		writeError(w, http.StatusBadRequest, "invalid_semester")
		return
	}

	if _, err := s.store.GetIdentityByUSN(r.Context(), usn); err == nil {
		writeError(w, http.StatusConflict, "usn_taken")
		return
	}
	if _, err := s.store.GetIdentityByEmail(r.Context(), req.Email); err == nil {
		writeError(w, http.StatusConflict, "email_taken")
		return
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "password_hash_failed")
		return
	}

	now := time.Now().UTC()
	identity := model.Identity{
		ID:           uuid.NewString(),
		USN:          &usn,
		Email:        req.Email,
		PasswordHash: hash,
		DisplayName:  req.DisplayName,
		Status:       model.StatusPending,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	profile := model.StudentProfile{
		UserID:   identity.ID,
		USN:      usn,
		Branch:   branch,
		Semester: req.Semester,
	}
	if err := s.store.CreateStudentRegistration(r.Context(), identity, profile); err != nil {
		writeError(w, http.StatusBadRequest, "registration_failed")
		return
	}

	summary, err := s.buildUserSummary(r.Context(), identity)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if (req.USN == "" && req.Email == "") || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_credentials")
		return
	}

	var identity model.Identity
	var err error
	if req.USN != "" {
		usn, usnErr := model.NormalizeUSN(req.USN)
		if usnErr != nil {
			writeError(w, http.StatusBadRequest, "invalid_usn")
			return
		}
		identity, err = s.store.GetIdentityByUSN(r.Context(), usn)
	} else {
		identity, err = s.store.GetIdentityByEmail(r.Context(), req.Email)
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if req.USN == "" && s.bootstrapAdminLogin(w, r, req) {
				return
			}
			writeError(w, http.StatusNotFound, "user_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	// Password is verified on every path, including pending and rejected
	// accounts signing in to check their status.
	if err := crypto.CheckPassword(identity.PasswordHash, req.Password); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	role, err := s.store.GetRole(r.Context(), identity.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	accessToken, refreshToken, err := s.issueTokens(r.Context(), identity, role, r.UserAgent(), clientIP(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}

	summary := mapUserSummary(identity, role)
	_ = s.sessions.Put(r.Context(), sessionSummary(identity, role))

	writeJSON(w, http.StatusOK, authResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         summary,
	})
}

// bootstrapAdminLogin handles the hard-coded admin credential pair from the
// environment; it only applies when no stored identity matches the email.
func (s *Server) bootstrapAdminLogin(w http.ResponseWriter, r *http.Request, req loginRequest) bool {
	if s.cfg.BootstrapAdminEmail == "" || s.cfg.BootstrapAdminPassword == "" {
		return false
	}
	if req.Email != strings.ToLower(s.cfg.BootstrapAdminEmail) || req.Password != s.cfg.BootstrapAdminPassword {
		return false
	}

	accessToken, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.AccessTokenTTL, auth.Claims{
		UserID:   bootstrapAdminID,
		UserType: "admin",
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_error")
		return true
	}
	writeJSON(w, http.StatusOK, authResponse{
		AccessToken: accessToken,
		User: userSummary{
			ID:          bootstrapAdminID,
			Email:       req.Email,
			DisplayName: "Administrator",
			Role:        "admin",
			Status:      string(model.StatusApproved),
		},
	})
	return true
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "missing_refresh_token")
		return
	}

	tokenHash := crypto.HashToken(req.RefreshToken)
	stored, err := s.store.GetRefreshSession(r.Context(), tokenHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "invalid_refresh_token")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if stored.RevokedAt != nil || stored.ExpiresAt.Before(time.Now().UTC()) {
		writeError(w, http.StatusUnauthorized, "refresh_token_expired")
		return
	}

	identity, err := s.store.GetIdentityByID(r.Context(), stored.UserID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "user_not_found")
		return
	}
	role, err := s.store.GetRole(r.Context(), identity.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	if err := s.store.RevokeRefreshSession(r.Context(), stored.ID, time.Now().UTC()); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	accessToken, refreshToken, err := s.issueTokens(r.Context(), identity, role, r.UserAgent(), clientIP(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}

	_ = s.sessions.Put(r.Context(), sessionSummary(identity, role))
	writeJSON(w, http.StatusOK, authResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         mapUserSummary(identity, role),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	_ = s.store.RevokeRefreshSessionsByUser(r.Context(), claims.UserID, time.Now().UTC())
	_ = s.sessions.Clear(r.Context(), claims.UserID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	if claims.UserID == bootstrapAdminID {
		writeJSON(w, http.StatusOK, userSummary{
			ID:          bootstrapAdminID,
			Email:       strings.ToLower(s.cfg.BootstrapAdminEmail),
			DisplayName: "Administrator",
			Role:        "admin",
			Status:      string(model.StatusApproved),
		})
		return
	}

	// Serve the cached session when present; it is cleared on sign-out and
	// approval transitions, so a hit is current enough to answer from.
	if cached, ok, err := s.sessions.Get(r.Context(), claims.UserID); err == nil && ok {
		writeJSON(w, http.StatusOK, summaryFromSession(cached))
		return
	}

	identity, err := s.store.GetIdentityByID(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, http.StatusNotFound, "user_not_found")
		return
	}
	role, err := s.store.GetRole(r.Context(), identity.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	_ = s.sessions.Put(r.Context(), sessionSummary(identity, role))
	writeJSON(w, http.StatusOK, mapUserSummary(identity, role))
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 100)

	var identities []model.Identity
	var err error
	if status := r.URL.Query().Get("status"); status != "" {
		switch model.IdentityStatus(status) {
		case model.StatusPending, model.StatusApproved, model.StatusRejected:
		default:
			writeError(w, http.StatusBadRequest, "invalid_status")
			return
		}
		identities, err = s.store.ListIdentitiesByStatus(r.Context(), model.IdentityStatus(status), limit)
	} else {
		identities, err = s.store.ListIdentities(r.Context(), limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	roleFilter := r.URL.Query().Get("role")
	summaries := make([]userSummary, 0, len(identities))
	for _, identity := range identities {
		role, err := s.store.GetRole(r.Context(), identity.ID)
		if err != nil {
			continue
		}
		if roleFilter != "" && role.UserType != roleFilter {
			continue
		}
		summaries = append(summaries, mapUserSummary(identity, role))
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing_user_id")
		return
	}
	if claims.UserType != "admin" && claims.UserID != userID {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	identity, err := s.store.GetIdentityByID(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusNotFound, "user_not_found")
		return
	}
	role, err := s.store.GetRole(r.Context(), identity.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, mapUserSummary(identity, role))
}

type updateUserRequest struct {
	Email       *string `json:"email,omitempty"`
	Password    *string `json:"password,omitempty"`
	DisplayName *string `json:"displayName,omitempty"`
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing_user_id")
		return
	}

	isAdmin := claims.UserType == "admin"
	if !isAdmin && claims.UserID != userID {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	var req updateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	update := repository.IdentityUpdate{}
	if req.Email != nil && isAdmin {
		email := strings.TrimSpace(strings.ToLower(*req.Email))
		if email != "" {
			update.Email = &email
		}
	}
	if req.DisplayName != nil {
		name := strings.TrimSpace(*req.DisplayName)
		if name != "" {
			update.DisplayName = &name
		}
	}
	if req.Password != nil && strings.TrimSpace(*req.Password) != "" {
		hash, err := crypto.HashPassword(*req.Password)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "password_hash_failed")
			return
		}
		update.PasswordHash = &hash
	}

	identity, err := s.store.UpdateIdentity(r.Context(), userID, update)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "user_not_found")
			return
		}
		writeError(w, http.StatusBadRequest, "update_failed")
		return
	}
	role, err := s.store.GetRole(r.Context(), identity.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	// Keep the cached session in step with the durable record.
	_ = s.sessions.Put(r.Context(), sessionSummary(identity, role))
	writeJSON(w, http.StatusOK, mapUserSummary(identity, role))
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing_user_id")
		return
	}

	deleted, err := s.store.DeleteIdentity(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "user_not_found")
		return
	}

	_ = s.sessions.Clear(r.Context(), userID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type createFacultyRequest struct {
	Email            string   `json:"email"`
	Password         string   `json:"password"`
	DisplayName      string   `json:"displayName"`
	AssignedBranches []string `json:"assignedBranches"`
}

func (s *Server) handleCreateFaculty(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	var req createFacultyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if req.Email == "" || req.Password == "" || req.DisplayName == "" || len(req.AssignedBranches) == 0 {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}
	for _, branch := range req.AssignedBranches {
		if !model.IsValidBranch(branch) {
			writeError(w, http.StatusBadRequest, "invalid_branch")
			return
		}
	}
	if _, err := s.store.GetIdentityByEmail(r.Context(), req.Email); err == nil {
		writeError(w, http.StatusConflict, "email_taken")
		return
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "password_hash_failed")
		return
	}

	now := time.Now().UTC()
	actorID := claims.UserID
	actorName := "Administrator"
	if actor, err := s.store.GetIdentityByID(r.Context(), claims.UserID); err == nil {
		actorName = actor.DisplayName
	}
	identity := model.Identity{
		ID:             uuid.NewString(),
		Email:          req.Email,
		PasswordHash:   hash,
		DisplayName:    req.DisplayName,
		Status:         model.StatusApproved,
		ApprovedBy:     &actorID,
		ApprovedByName: &actorName,
		ApprovedAt:     &now,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	profile := model.FacultyProfile{UserID: identity.ID, AssignedBranches: req.AssignedBranches}
	if err := s.store.CreateFaculty(r.Context(), identity, profile); err != nil {
		writeError(w, http.StatusBadRequest, "faculty_create_failed")
		return
	}

	role := model.Role{UserID: identity.ID, UserType: "faculty", AssignedBranches: req.AssignedBranches}
	writeJSON(w, http.StatusCreated, mapUserSummary(identity, role))
}

type createAdminRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

func (s *Server) handleCreateAdmin(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	var req createAdminRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if req.Email == "" || req.Password == "" || req.DisplayName == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}
	if _, err := s.store.GetIdentityByEmail(r.Context(), req.Email); err == nil {
		writeError(w, http.StatusConflict, "email_taken")
		return
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "password_hash_failed")
		return
	}

	now := time.Now().UTC()
	actorID := claims.UserID
	actorName := "Administrator"
	if actor, err := s.store.GetIdentityByID(r.Context(), claims.UserID); err == nil {
		actorName = actor.DisplayName
	}
	identity := model.Identity{
		ID:             uuid.NewString(),
		Email:          req.Email,
		PasswordHash:   hash,
		DisplayName:    req.DisplayName,
		Status:         model.StatusApproved,
		ApprovedBy:     &actorID,
		ApprovedByName: &actorName,
		ApprovedAt:     &now,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateAdmin(r.Context(), identity); err != nil {
		writeError(w, http.StatusBadRequest, "admin_create_failed")
		return
	}

	role := model.Role{UserID: identity.ID, UserType: "admin"}
	writeJSON(w, http.StatusCreated, mapUserSummary(identity, role))
}

// Approval workflow

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	if claims.UserType != "admin" && claims.UserType != "faculty" {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	status := model.StatusPending
	if raw := r.URL.Query().Get("status"); raw != "" {
		switch model.IdentityStatus(raw) {
		case model.StatusPending, model.StatusRejected:
			status = model.IdentityStatus(raw)
		default:
			writeError(w, http.StatusBadRequest, "invalid_status")
			return
		}
	}
	limit := parseLimit(r, 100)

	identities, err := s.store.ListIdentitiesByStatus(r.Context(), status, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	// Faculty only review registrations for their assigned branches.
	var assigned []string
	if claims.UserType == "faculty" {
		role, err := s.store.GetRole(r.Context(), claims.UserID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server_error")
			return
		}
		assigned = role.AssignedBranches
	}

	summaries := make([]userSummary, 0, len(identities))
	for _, identity := range identities {
		role, err := s.store.GetRole(r.Context(), identity.ID)
		if err != nil || role.Branch == nil {
			continue
		}
		if claims.UserType == "faculty" && !containsString(assigned, *role.Branch) {
			continue
		}
		summaries = append(summaries, mapUserSummary(identity, role))
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.approvalActor(w, r)
	if !ok {
		return
	}
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing_user_id")
		return
	}

	identity, err := s.approvals.Approve(r.Context(), userID, actor)
	if err != nil {
		writeApprovalError(w, err)
		return
	}

	_ = s.sessions.Clear(r.Context(), userID)
	role, err := s.store.GetRole(r.Context(), identity.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, mapUserSummary(identity, role))
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.approvalActor(w, r)
	if !ok {
		return
	}
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing_user_id")
		return
	}

	var req rejectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	identity, err := s.approvals.Reject(r.Context(), userID, actor, req.Reason)
	if err != nil {
		writeApprovalError(w, err)
		return
	}

	_ = s.sessions.Clear(r.Context(), userID)
	role, err := s.store.GetRole(r.Context(), identity.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, mapUserSummary(identity, role))
}

// approvalActor resolves the acting identity against the store rather than
// trusting branch assignments baked into a possibly stale token.
func (s *Server) approvalActor(w http.ResponseWriter, r *http.Request) (approval.Actor, bool) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return approval.Actor{}, false
	}
	if claims.UserType != "admin" && claims.UserType != "faculty" {
		writeError(w, http.StatusForbidden, "forbidden")
		return approval.Actor{}, false
	}
	if claims.UserID == bootstrapAdminID {
		return approval.Actor{ID: bootstrapAdminID, Name: "Administrator", Role: "admin"}, true
	}

	identity, err := s.store.GetIdentityByID(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token")
		return approval.Actor{}, false
	}
	role, err := s.store.GetRole(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return approval.Actor{}, false
	}
	if role.UserType != "admin" && role.UserType != "faculty" {
		writeError(w, http.StatusForbidden, "forbidden")
		return approval.Actor{}, false
	}
	return approval.Actor{
		ID:               identity.ID,
		Name:             identity.DisplayName,
		Role:             role.UserType,
		AssignedBranches: role.AssignedBranches,
	}, true
}

func writeApprovalError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, approval.ErrNotFound):
		writeError(w, http.StatusNotFound, "user_not_found")
	case errors.Is(err, approval.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, approval.ErrReasonTooShort):
		writeError(w, http.StatusBadRequest, "reason_too_short")
	case errors.Is(err, approval.ErrReasonTooLong):
		writeError(w, http.StatusBadRequest, "reason_too_long")
	case errors.Is(err, approval.ErrNotReviewable):
		writeError(w, http.StatusBadRequest, "not_reviewable")
	case errors.Is(err, repository.ErrVersionConflict):
		writeError(w, http.StatusConflict, "version_conflict")
	default:
		writeError(w, http.StatusInternalServerError, "server_error")
	}
}

// Helpers

func (s *Server) issueTokens(ctx context.Context, identity model.Identity, role model.Role, userAgent, ip string) (string, string, error) {
	claims := auth.Claims{
		UserID:   identity.ID,
		UserType: role.UserType,
	}
	if role.Branch != nil {
		claims.Branch = *role.Branch
	}
	claims.AssignedBranches = role.AssignedBranches

	accessToken, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.AccessTokenTTL, claims)
	if err != nil {
		return "", "", err
	}

	refreshToken, err := crypto.NewRefreshToken()
	if err != nil {
		return "", "", err
	}

	now := time.Now().UTC()
	stored := model.RefreshSession{
		ID:        uuid.NewString(),
		UserID:    identity.ID,
		TokenHash: crypto.HashToken(refreshToken),
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
	}
	if userAgent != "" {
		stored.UserAgent = &userAgent
	}
	if ip != "" {
		stored.IPAddress = &ip
	}
	if err := s.store.CreateRefreshSession(ctx, stored); err != nil {
		return "", "", err
	}

	return accessToken, refreshToken, nil
}

func (s *Server) buildUserSummary(ctx context.Context, identity model.Identity) (userSummary, error) {
	role, err := s.store.GetRole(ctx, identity.ID)
	if err != nil {
		return userSummary{}, err
	}
	return mapUserSummary(identity, role), nil
}

func mapUserSummary(identity model.Identity, role model.Role) userSummary {
	summary := userSummary{
		ID:               identity.ID,
		Email:            identity.Email,
		DisplayName:      identity.DisplayName,
		Role:             role.UserType,
		AssignedBranches: role.AssignedBranches,
		Status:           string(identity.Status),
		ApprovedBy:       identity.ApprovedBy,
		ApprovedByName:   identity.ApprovedByName,
		RejectedBy:       identity.RejectedBy,
		RejectedByName:   identity.RejectedByName,
		RejectionReason:  identity.RejectionReason,
	}
	if identity.USN != nil {
		summary.USN = *identity.USN
	}
	if role.Branch != nil {
		summary.Branch = *role.Branch
	}
	if role.Semester != nil {
		summary.Semester = *role.Semester
	}
	if identity.ApprovedAt != nil {
		at := identity.ApprovedAt.Unix()
		summary.ApprovedAt = &at
	}
	if identity.RejectedAt != nil {
		at := identity.RejectedAt.Unix()
		summary.RejectedAt = &at
	}
	return summary
}

func sessionSummary(identity model.Identity, role model.Role) session.Summary {
	summary := session.Summary{
		UserID:           identity.ID,
		Email:            identity.Email,
		DisplayName:      identity.DisplayName,
		Role:             role.UserType,
		AssignedBranches: role.AssignedBranches,
		Status:           string(identity.Status),
		ApprovedBy:       identity.ApprovedBy,
		ApprovedByName:   identity.ApprovedByName,
		RejectedBy:       identity.RejectedBy,
		RejectedByName:   identity.RejectedByName,
		RejectionReason:  identity.RejectionReason,
		SignedInAt:       time.Now().UTC().Unix(),
	}
	if identity.USN != nil {
		summary.USN = *identity.USN
	}
	if role.Branch != nil {
		summary.Branch = *role.Branch
	}
	if role.Semester != nil {
		summary.Semester = *role.Semester
	}
	if identity.ApprovedAt != nil {
		at := identity.ApprovedAt.Unix()
		summary.ApprovedAt = &at
	}
	if identity.RejectedAt != nil {
		at := identity.RejectedAt.Unix()
		summary.RejectedAt = &at
	}
	return summary
}

// summaryFromSession rebuilds the API view from a cached session so cache
// hits and store reads answer with the same shape.
func summaryFromSession(cached session.Summary) userSummary {
	return userSummary{
		ID:               cached.UserID,
		USN:              cached.USN,
		Email:            cached.Email,
		DisplayName:      cached.DisplayName,
		Role:             cached.Role,
		Branch:           cached.Branch,
		Semester:         cached.Semester,
		AssignedBranches: cached.AssignedBranches,
		Status:           cached.Status,
		ApprovedBy:       cached.ApprovedBy,
		ApprovedByName:   cached.ApprovedByName,
		ApprovedAt:       cached.ApprovedAt,
		RejectedBy:       cached.RejectedBy,
		RejectedByName:   cached.RejectedByName,
		RejectedAt:       cached.RejectedAt,
		RejectionReason:  cached.RejectionReason,
	}
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

func parseLimit(r *http.Request, fallback int) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return ""
}
