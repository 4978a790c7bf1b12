package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"campusconnect/internal/auth"
	"campusconnect/internal/model"
	"campusconnect/internal/repository"
	"campusconnect/internal/visibility"
)

type postResponse struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Body           string   `json:"body"`
	Category       string   `json:"category"`
	AuthorID       string   `json:"authorId"`
	AuthorRole     string   `json:"authorRole"`
	TargetBranches []string `json:"targetBranches,omitempty"`
	Version        int64    `json:"version"`
	CreatedAt      int64    `json:"createdAt"`
	UpdatedAt      int64    `json:"updatedAt"`
	LikeCount      int64    `json:"likeCount"`
	Liked          bool     `json:"liked"`
}

func mapPostResponse(post model.Post, likeCount int64, liked bool) postResponse {
	return postResponse{
		ID:             post.ID,
		Title:          post.Title,
		Body:           post.Body,
		Category:       string(post.Category),
		AuthorID:       post.AuthorID,
		AuthorRole:     post.AuthorRole,
		TargetBranches: post.TargetBranches,
		Version:        post.Version,
		CreatedAt:      post.CreatedAt.Unix(),
		UpdatedAt:      post.UpdatedAt.Unix(),
		LikeCount:      likeCount,
		Liked:          liked,
	}
}

func viewerFromClaims(claims *auth.Claims) *visibility.Viewer {
	if claims == nil {
		return nil
	}
	return &visibility.Viewer{
		ID:               claims.UserID,
		Role:             claims.UserType,
		Branch:           claims.Branch,
		AssignedBranches: claims.AssignedBranches,
	}
}

func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	if category != "" && !model.IsValidCategory(category) {
		writeError(w, http.StatusBadRequest, "invalid_category")
		return
	}
	limit := parseLimit(r, 50)

	posts, err := s.store.ListPosts(r.Context(), category, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	claims := claimsFromContext(r.Context())
	viewer := viewerFromClaims(claims)

	responses := make([]postResponse, 0, len(posts))
	for _, post := range posts {
		if !visibility.IsVisible(viewer, post) {
			continue
		}
		likeCount, err := s.store.CountLikes(r.Context(), post.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server_error")
			return
		}
		liked := false
		if viewer != nil {
			liked, _ = s.store.HasLiked(r.Context(), post.ID, viewer.ID)
		}
		responses = append(responses, mapPostResponse(post, likeCount, liked))
	}
	writeJSON(w, http.StatusOK, responses)
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "postID")
	if postID == "" {
		writeError(w, http.StatusBadRequest, "missing_post_id")
		return
	}

	post, err := s.store.GetPost(r.Context(), postID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "post_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	viewer := viewerFromClaims(claimsFromContext(r.Context()))
	// A targeted post outside the viewer's scope reads as absent, not as
	// forbidden, so its existence is not leaked.
	if !visibility.IsVisible(viewer, post) {
		writeError(w, http.StatusNotFound, "post_not_found")
		return
	}

	likeCount, err := s.store.CountLikes(r.Context(), post.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	liked := false
	if viewer != nil {
		liked, _ = s.store.HasLiked(r.Context(), post.ID, viewer.ID)
	}
	writeJSON(w, http.StatusOK, mapPostResponse(post, likeCount, liked))
}

type createPostRequest struct {
	Title          string   `json:"title"`
	Body           string   `json:"body"`
	Category       string   `json:"category"`
	TargetBranches []string `json:"targetBranches,omitempty"`
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	if claims.UserType != "admin" && claims.UserType != "faculty" {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	var req createPostRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	req.Body = strings.TrimSpace(req.Body)
	if req.Title == "" || req.Body == "" || req.Category == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}
	if !model.IsValidCategory(req.Category) {
		writeError(w, http.StatusBadRequest, "invalid_category")
		return
	}
	for _, branch := range req.TargetBranches {
		if !model.IsValidBranch(branch) {
			writeError(w, http.StatusBadRequest, "invalid_branch")
			return
		}
	}

	now := time.Now().UTC()
	post := model.Post{
		ID:             uuid.NewString(),
		Title:          req.Title,
		Body:           req.Body,
		Category:       model.PostCategory(req.Category),
		AuthorID:       claims.UserID,
		AuthorRole:     claims.UserType,
		TargetBranches: req.TargetBranches,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreatePost(r.Context(), post); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusCreated, mapPostResponse(post, 0, false))
}

type updatePostRequest struct {
	Title          *string   `json:"title,omitempty"`
	Body           *string   `json:"body,omitempty"`
	Category       *string   `json:"category,omitempty"`
	TargetBranches *[]string `json:"targetBranches,omitempty"`
	Version        int64     `json:"version"`
}

func (s *Server) handlePatchPost(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	postID := chi.URLParam(r, "postID")
	if postID == "" {
		writeError(w, http.StatusBadRequest, "missing_post_id")
		return
	}

	var req updatePostRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.Version <= 0 {
		writeError(w, http.StatusBadRequest, "missing_version")
		return
	}

	post, err := s.store.GetPost(r.Context(), postID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "post_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !visibility.CanModify(viewerFromClaims(claims), post) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	update := repository.PostUpdate{}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			writeError(w, http.StatusBadRequest, "missing_fields")
			return
		}
		update.Title = &title
	}
	if req.Body != nil {
		body := strings.TrimSpace(*req.Body)
		if body == "" {
			writeError(w, http.StatusBadRequest, "missing_fields")
			return
		}
		update.Body = &body
	}
	if req.Category != nil {
		if !model.IsValidCategory(*req.Category) {
			writeError(w, http.StatusBadRequest, "invalid_category")
			return
		}
		update.Category = req.Category
	}
	if req.TargetBranches != nil {
		for _, branch := range *req.TargetBranches {
			if !model.IsValidBranch(branch) {
				writeError(w, http.StatusBadRequest, "invalid_branch")
				return
			}
		}
		update.TargetBranches = req.TargetBranches
	}

	updated, err := s.store.UpdatePost(r.Context(), postID, req.Version, update)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrVersionConflict):
			writeError(w, http.StatusConflict, "version_conflict")
		case errors.Is(err, pgx.ErrNoRows):
			writeError(w, http.StatusNotFound, "post_not_found")
		default:
			writeError(w, http.StatusInternalServerError, "server_error")
		}
		return
	}

	likeCount, _ := s.store.CountLikes(r.Context(), updated.ID)
	liked, _ := s.store.HasLiked(r.Context(), updated.ID, claims.UserID)
	writeJSON(w, http.StatusOK, mapPostResponse(updated, likeCount, liked))
}

func (s *Server) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	postID := chi.URLParam(r, "postID")
	if postID == "" {
		writeError(w, http.StatusBadRequest, "missing_post_id")
		return
	}

	post, err := s.store.GetPost(r.Context(), postID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "post_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !visibility.CanModify(viewerFromClaims(claims), post) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	deleted, err := s.store.DeletePost(r.Context(), postID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "post_not_found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type likeResponse struct {
	Liked     bool  `json:"liked"`
	LikeCount int64 `json:"likeCount"`
}

func (s *Server) handleToggleLike(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	postID := chi.URLParam(r, "postID")
	if postID == "" {
		writeError(w, http.StatusBadRequest, "missing_post_id")
		return
	}

	post, err := s.store.GetPost(r.Context(), postID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "post_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !visibility.IsVisible(viewerFromClaims(claims), post) {
		writeError(w, http.StatusNotFound, "post_not_found")
		return
	}

	liked, count, err := s.store.ToggleLike(r.Context(), postID, claims.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, likeResponse{Liked: liked, LikeCount: count})
}
