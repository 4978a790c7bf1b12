package model

import "time"

type IdentityStatus string

const (
	StatusPending  IdentityStatus = "pending"
	StatusApproved IdentityStatus = "approved"
	StatusRejected IdentityStatus = "rejected"
)

type Identity struct {
	ID              string
	USN             *string
	Email           string
	PasswordHash    string
	DisplayName     string
	Status          IdentityStatus
	ApprovedBy      *string
	ApprovedByName  *string
	ApprovedAt      *time.Time
	RejectedBy      *string
	RejectedByName  *string
	RejectedAt      *time.Time
	RejectionReason *string
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Role is the effective authorization level of an identity. It collapses to
// "pending" while the identity's status is anything but approved.
type Role struct {
	UserID           string
	UserType         string
	Branch           *string
	Semester         *int
	AssignedBranches []string
}

type StudentProfile struct {
	UserID   string
	USN      string
	Branch   string
	Semester int
}

type FacultyProfile struct {
	UserID           string
	AssignedBranches []string
}

type PostCategory string

const (
	CategoryEvent    PostCategory = "event"
	CategoryNews     PostCategory = "news"
	CategoryLink     PostCategory = "link"
	CategoryNote     PostCategory = "note"
	CategorySchedule PostCategory = "schedule"
)

type Post struct {
	ID             string
	Title          string
	Body           string
	Category       PostCategory
	AuthorID       string
	AuthorRole     string
	TargetBranches []string
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type RefreshSession struct {
	ID        string
	UserID    string
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
	UserAgent *string
	IPAddress *string
}
