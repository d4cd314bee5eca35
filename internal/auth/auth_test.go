package auth

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/4xmen/cafemeet/internal/apperr"
	"github.com/4xmen/cafemeet/internal/db"
	"github.com/4xmen/cafemeet/internal/models"
)

func newService(t *testing.T) *Service {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return New(database.GetConn(), "test-secret")
}

func TestRegisterAndLogin(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "Sofia Chen", "Sofia@Example.com", "secret1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.ID == "" || user.Email != "sofia@example.com" || user.Language != "en" {
		t.Fatalf("unexpected user %+v", user)
	}

	token, got, err := svc.Login(ctx, "sofia@example.com", "secret1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("login user = %s, want %s", got.ID, user.ID)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.UserID != user.ID || claims.Name != "Sofia Chen" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name     string
		userName string
		email    string
		password string
	}{
		{name: "empty name", userName: "  ", email: "a@b.co", password: "secret1"},
		{name: "bad email", userName: "A", email: "not-an-email", password: "secret1"},
		{name: "display-name email", userName: "A", email: "A <a@b.co>", password: "secret1"},
		{name: "short password", userName: "A", email: "a@b.co", password: "123"},
	}

	svc := newService(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.userName, tt.email, tt.password)
			if !errors.Is(err, apperr.ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "A", "a@b.co", "secret1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := svc.Register(ctx, "B", "A@B.co", "secret2"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("err = %v, want ErrEmailTaken", err)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	_, _ = svc.Register(ctx, "A", "a@b.co", "secret1")

	if _, _, err := svc.Login(ctx, "a@b.co", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password err = %v", err)
	}
	if _, _, err := svc.Login(ctx, "nobody@b.co", "secret1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email err = %v", err)
	}
}

func TestValidateTokenRejectsForeignAndExpired(t *testing.T) {
	svc := newService(t)
	other := New(svc.db, "another-secret")

	token, err := other.GenerateToken("u1", "A")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := svc.ValidateToken(token); err == nil {
		t.Fatalf("token signed with another secret accepted")
	}

	expired := NewWithTokenTTL(svc.db, "test-secret", time.Nanosecond)
	token, _ = expired.GenerateToken("u1", "A")
	time.Sleep(10 * time.Millisecond)
	if _, err := svc.ValidateToken(token); err == nil {
		t.Fatalf("expired token accepted")
	}
}

func TestUpdateProfile(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	user, _ := svc.Register(ctx, "A", "a@b.co", "secret1")

	name, avatar, lang := "Marco Rossi", "https://example.com/a.jpg", "it"
	updated, err := svc.UpdateProfile(ctx, user.ID, ProfileUpdate{Name: &name, AvatarURL: &avatar, Language: &lang})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if updated.Name != name || updated.AvatarURL == nil || *updated.AvatarURL != avatar || updated.Language != "it" {
		t.Fatalf("updated = %+v", updated)
	}

	stored, err := svc.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if stored.Name != name || stored.Language != "it" {
		t.Fatalf("stored = %+v", stored)
	}

	bad := "klingon"
	if _, err := svc.UpdateProfile(ctx, user.ID, ProfileUpdate{Language: &bad}); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("unsupported language err = %v", err)
	}
	if _, err := svc.UpdateProfile(ctx, "missing", ProfileUpdate{Name: &name}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("missing user err = %v", err)
	}
}

func TestUserExists(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	user, _ := svc.Register(ctx, "A", "a@b.co", "secret1")

	exists, err := svc.UserExists(ctx, user.ID)
	if err != nil || !exists {
		t.Fatalf("UserExists(%s) = %v, %v", user.ID, exists, err)
	}
	exists, err = svc.UserExists(ctx, "ghost")
	if err != nil || exists {
		t.Fatalf("UserExists(ghost) = %v, %v", exists, err)
	}
}

func TestSeedUsers(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	avatar := "https://example.com/a.jpg"
	demo := []models.User{{ID: "1", Name: "Sofia Chen", AvatarURL: &avatar}, {ID: "2", Name: "Marco Rossi"}}

	if err := svc.SeedUsers(ctx, demo); err != nil {
		t.Fatalf("SeedUsers: %v", err)
	}
	// Seeding again keeps the rows.
	if err := svc.SeedUsers(ctx, demo); err != nil {
		t.Fatalf("SeedUsers again: %v", err)
	}

	u, err := svc.GetUser(ctx, "1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.Name != "Sofia Chen" || u.AvatarURL == nil || *u.AvatarURL != avatar {
		t.Fatalf("seeded user = %+v", u)
	}
	if exists, _ := svc.UserExists(ctx, "2"); !exists {
		t.Fatalf("seeded user 2 missing")
	}
	if _, _, err := svc.Login(ctx, "seed-1@cafemeet.invalid", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("seeded account signed in: %v", err)
	}
}
