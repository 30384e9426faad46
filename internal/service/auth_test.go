package service

import (
	"testing"
	"time"
)

func TestAuthService_RoundTrip(t *testing.T) {
	auth := NewAuthService("secret", time.Hour)

	token, err := auth.GenerateJWT("user-42")
	if err != nil {
		t.Fatal(err)
	}
	id, err := auth.UploaderID(token)
	if err != nil || id != "user-42" {
		t.Fatalf("UploaderID = %q, %v", id, err)
	}

	other := NewAuthService("other-secret", time.Hour)
	if _, err := other.UploaderID(token); err == nil {
		t.Error("token signed with another secret must be rejected")
	}

	expired := NewAuthService("secret", -time.Minute)
	old, _ := expired.GenerateJWT("user-42")
	if _, err := auth.UploaderID(old); err == nil {
		t.Error("expired token must be rejected")
	}
}
