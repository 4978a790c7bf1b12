package approval

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"campusconnect/internal/model"
)

const (
	MinReasonLength = 10
	MaxReasonLength = 500
)

var (
	ErrNotFound       = errors.New("identity not found")
	ErrUnauthorized   = errors.New("actor not authorized")
	ErrReasonTooShort = errors.New("rejection reason too short")
	ErrReasonTooLong  = errors.New("rejection reason too long")
	ErrNotReviewable  = errors.New("identity not reviewable")
)

// Store is the slice of the identity repository the workflow needs.
type Store interface {
	GetIdentityByID(ctx context.Context, userID string) (model.Identity, error)
	GetStudentProfile(ctx context.Context, userID string) (model.StudentProfile, error)
	SetApproved(ctx context.Context, userID, actorID, actorName string, at time.Time, version int64) (model.Identity, error)
	SetRejected(ctx context.Context, userID, actorID, actorName, reason string, at time.Time, version int64) (model.Identity, error)
}

// Actor is the identity performing a transition.
type Actor struct {
	ID               string
	Name             string
	Role             string
	AssignedBranches []string
}

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// Approve moves a registered student identity to approved, stamping the actor
// and clearing rejection metadata. Re-approval after a rejection is allowed.
func (s *Service) Approve(ctx context.Context, userID string, actor Actor) (model.Identity, error) {
	identity, profile, err := s.loadReviewable(ctx, userID)
	if err != nil {
		return model.Identity{}, err
	}
	if err := authorize(actor, profile.Branch); err != nil {
		return model.Identity{}, err
	}
	return s.store.SetApproved(ctx, userID, actor.ID, actor.Name, time.Now().UTC(), identity.Version)
}

// Reject moves the identity to rejected with a mandatory reason, clearing
// approval metadata. Rejecting an already-approved student demotes it.
func (s *Service) Reject(ctx context.Context, userID string, actor Actor, reason string) (model.Identity, error) {
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) < MinReasonLength {
		return model.Identity{}, ErrReasonTooShort
	}
	if utf8.RuneCountInString(reason) > MaxReasonLength {
		return model.Identity{}, ErrReasonTooLong
	}

	identity, profile, err := s.loadReviewable(ctx, userID)
	if err != nil {
		return model.Identity{}, err
	}
	if err := authorize(actor, profile.Branch); err != nil {
		return model.Identity{}, err
	}
	return s.store.SetRejected(ctx, userID, actor.ID, actor.Name, reason, time.Now().UTC(), identity.Version)
}

// loadReviewable resolves the target identity and its student profile. Only
// student registrations go through the workflow; faculty and admin accounts
// are created already approved and removed via explicit deletion.
func (s *Service) loadReviewable(ctx context.Context, userID string) (model.Identity, model.StudentProfile, error) {
	identity, err := s.store.GetIdentityByID(ctx, userID)
	if err != nil {
		return model.Identity{}, model.StudentProfile{}, ErrNotFound
	}
	profile, err := s.store.GetStudentProfile(ctx, userID)
	if err != nil {
		return model.Identity{}, model.StudentProfile{}, ErrNotReviewable
	}
	return identity, profile, nil
}

func authorize(actor Actor, targetBranch string) error {
	switch actor.Role {
	case "admin":
		return nil
	case "faculty":
		for _, branch := range actor.AssignedBranches {
			if branch == targetBranch {
				return nil
			}
		}
		return ErrUnauthorized
	default:
		return ErrUnauthorized
	}
}
