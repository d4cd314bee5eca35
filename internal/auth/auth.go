package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/4xmen/cafemeet/internal/apperr"
	"github.com/4xmen/cafemeet/internal/ident"
	"github.com/4xmen/cafemeet/internal/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
)

// Languages the app ships translations for. The first is the default.
var Languages = []string{"en", "it", "es", "fr", "de"}

type Service struct {
	db        *sql.DB
	jwtSecret string
	tokenTTL  time.Duration
}

type Claims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

func New(db *sql.DB, jwtSecret string) *Service {
	return NewWithTokenTTL(db, jwtSecret, 24*time.Hour)
}

func NewWithTokenTTL(db *sql.DB, jwtSecret string, tokenTTL time.Duration) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}

	return &Service{
		db:        db,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
	}
}

func validName(name string) error {
	if n := utf8.RuneCountInString(name); n < 1 || n > 64 {
		return fmt.Errorf("name must be between 1 and 64 characters: %w", apperr.ErrInvalidInput)
	}
	return nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("invalid email address: %w", apperr.ErrInvalidInput)
	}
	return email, nil
}

// Register creates an account and returns the new user.
func (s *Service) Register(ctx context.Context, name, email, password string) (models.User, error) {
	name = strings.TrimSpace(name)
	if err := validName(name); err != nil {
		return models.User{}, err
	}
	email, err := normalizeEmail(email)
	if err != nil {
		return models.User{}, err
	}
	if len(password) < 6 {
		return models.User{}, fmt.Errorf("password must be at least 6 characters: %w", apperr.ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	user := models.User{ID: ident.NewUUID(), Name: name, Email: email, Language: Languages[0]}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO users (id, email, name, password_hash, language) VALUES (?, ?, ?, ?, ?)",
		user.ID, user.Email, user.Name, string(hash), user.Language,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return models.User{}, ErrEmailTaken
		}
		return models.User{}, fmt.Errorf("failed to register user: %w", err)
	}

	return user, nil
}

// Login checks the credentials and returns a signed token with the user.
func (s *Service) Login(ctx context.Context, email, password string) (string, models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var userID, passwordHash string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, password_hash FROM users WHERE email = ?",
		email,
	).Scan(&userID, &passwordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", models.User{}, ErrInvalidCredentials
		}
		return "", models.User{}, fmt.Errorf("failed to query user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		return "", models.User{}, ErrInvalidCredentials
	}

	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return "", models.User{}, err
	}

	token, err := s.GenerateToken(user.ID, user.Name)
	if err != nil {
		return "", models.User{}, fmt.Errorf("failed to generate token: %w", err)
	}

	return token, user, nil
}

func (s *Service) GenerateToken(userID, name string) (string, error) {
	claims := Claims{
		UserID: userID,
		Name:   name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid || claims.UserID == "" {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}

func (s *Service) GetUser(ctx context.Context, userID string) (models.User, error) {
	var u models.User
	var avatar sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, name, avatar_url, language FROM users WHERE id = ?",
		userID,
	).Scan(&u.ID, &u.Email, &u.Name, &avatar, &u.Language)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, fmt.Errorf("user not found: %q: %w", userID, apperr.ErrNotFound)
		}
		return models.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	if avatar.Valid && avatar.String != "" {
		u.AvatarURL = &avatar.String
	}
	return u, nil
}

// ProfileUpdate holds the fields a user may change. Nil fields are kept.
type ProfileUpdate struct {
	Name      *string `json:"name"`
	AvatarURL *string `json:"avatar"`
	Language  *string `json:"language"`
}

func (s *Service) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (models.User, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return models.User{}, err
	}

	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if err := validName(name); err != nil {
			return models.User{}, err
		}
		user.Name = name
	}
	if upd.AvatarURL != nil {
		avatar := strings.TrimSpace(*upd.AvatarURL)
		if avatar == "" {
			user.AvatarURL = nil
		} else {
			user.AvatarURL = &avatar
		}
	}
	if upd.Language != nil {
		if !SupportedLanguage(*upd.Language) {
			return models.User{}, fmt.Errorf("unsupported language %q: %w", *upd.Language, apperr.ErrInvalidInput)
		}
		user.Language = *upd.Language
	}

	var avatar any
	if user.AvatarURL != nil {
		avatar = *user.AvatarURL
	}
	_, err = s.db.ExecContext(ctx,
		"UPDATE users SET name = ?, avatar_url = ?, language = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		user.Name, avatar, user.Language, userID,
	)
	if err != nil {
		return models.User{}, fmt.Errorf("failed to update profile: %w", err)
	}
	return user, nil
}

func SupportedLanguage(lang string) bool {
	for _, l := range Languages {
		if l == lang {
			return true
		}
	}
	return false
}

// UserExists checks if a user with the given ID exists
func (s *Service) UserExists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)", userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query user: %w", err)
	}
	return exists, nil
}

// SeedUsers inserts accounts for users that exist outside registration, such as
// the demo users a static radio reports. Existing ids are left untouched. Seeded
// accounts have no password and cannot sign in.
func (s *Service) SeedUsers(ctx context.Context, users []models.User) error {
	for _, u := range users {
		var avatar any
		if u.AvatarURL != nil {
			avatar = *u.AvatarURL
		}
		_, err := s.db.ExecContext(ctx,
			"INSERT OR IGNORE INTO users (id, email, name, password_hash, avatar_url, language) VALUES (?, ?, ?, '', ?, ?)",
			u.ID, "seed-"+u.ID+"@cafemeet.invalid", u.Name, avatar, Languages[0],
		)
		if err != nil {
			return fmt.Errorf("failed to seed user %s: %w", u.ID, err)
		}
	}
	return nil
}
