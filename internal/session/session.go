package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Summary is the cached public view of the authenticated identity. It is
// written on sign-in, replaced after profile edits, cleared on sign-out and
// approval transitions, and served directly on identity reads; readers must
// treat a miss as "not cached here" and fall back to the record store.
type Summary struct {
	UserID           string   `json:"user_id"`
	USN              string   `json:"usn,omitempty"`
	Email            string   `json:"email"`
	DisplayName      string   `json:"display_name"`
	Role             string   `json:"role"`
	Branch           string   `json:"branch,omitempty"`
	Semester         int      `json:"semester,omitempty"`
	AssignedBranches []string `json:"assigned_branches,omitempty"`
	Status           string   `json:"status"`
	ApprovedBy       *string  `json:"approved_by,omitempty"`
	ApprovedByName   *string  `json:"approved_by_name,omitempty"`
	ApprovedAt       *int64   `json:"approved_at,omitempty"`
	RejectedBy       *string  `json:"rejected_by,omitempty"`
	RejectedByName   *string  `json:"rejected_by_name,omitempty"`
	RejectedAt       *int64   `json:"rejected_at,omitempty"`
	RejectionReason  *string  `json:"rejection_reason,omitempty"`
	SignedInAt       int64    `json:"signed_in_at"`
}

type Manager struct {
	client *redis.Client
	ttl    time.Duration
}

func NewManager(client *redis.Client, ttl time.Duration) *Manager {
	return &Manager{client: client, ttl: ttl}
}

func (m *Manager) Put(ctx context.Context, summary Summary) error {
	if m == nil || m.client == nil {
		return nil
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return m.client.Set(ctx, sessionKey(summary.UserID), data, m.ttl).Err()
}

func (m *Manager) Get(ctx context.Context, userID string) (Summary, bool, error) {
	if m == nil || m.client == nil {
		return Summary{}, false, nil
	}
	value, err := m.client.Get(ctx, sessionKey(userID)).Result()
	if err == redis.Nil {
		return Summary{}, false, nil
	}
	if err != nil {
		return Summary{}, false, err
	}
	var summary Summary
	if err := json.Unmarshal([]byte(value), &summary); err != nil {
		// Malformed cache entries count as absent, not fatal.
		return Summary{}, false, nil
	}
	return summary, true, nil
}

// Clear is idempotent: clearing a session that does not exist is not an error.
func (m *Manager) Clear(ctx context.Context, userID string) error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Del(ctx, sessionKey(userID)).Err()
}

func sessionKey(userID string) string {
	return "session:" + userID
}
