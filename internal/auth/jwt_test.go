package auth

import (
	"testing"
	"time"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	token, err := NewAccessToken("secret", "issuer", time.Minute, Claims{
		UserID:           "user-1",
		UserType:         "faculty",
		AssignedBranches: []string{"CSE", "ISE"},
	})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}

	claims, err := ParseToken("secret", "issuer", token)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if claims.UserID != "user-1" || claims.UserType != "faculty" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if len(claims.AssignedBranches) != 2 {
		t.Fatalf("expected assigned branches to survive, got %v", claims.AssignedBranches)
	}

	if _, err := ParseToken("wrong", "issuer", token); err == nil {
		t.Fatalf("expected parse failure with wrong secret")
	}
	if _, err := ParseToken("secret", "other", token); err == nil {
		t.Fatalf("expected parse failure with wrong issuer")
	}
}
