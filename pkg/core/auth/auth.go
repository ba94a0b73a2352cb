// Package auth issues and verifies the JWTs that identify team members.
package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/audiorack/gearsync/pkg/config"
	"github.com/audiorack/gearsync/pkg/db"
	"github.com/audiorack/gearsync/pkg/models"
)

var phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 \-()]{4,19}$`)

// Auth resolves phone-number logins against the user store and signs tokens.
type Auth struct {
	config config.Auth
	store  db.Service
}

// NewAuth creates the auth service.
func NewAuth(cfg config.Auth, store db.Service) *Auth {
	return &Auth{config: cfg, store: store}
}

// Login upserts the user identified by phone number and issues a token. A
// returning user keeps their ID; a changed name overwrites the stored one.
func (a *Auth) Login(ctx context.Context, phone, name string) (*models.LoginResponse, error) {
	phone = strings.TrimSpace(phone)
	name = strings.TrimSpace(name)

	var fields []models.FieldError

	if !phonePattern.MatchString(phone) {
		fields = append(fields, models.FieldError{Field: "phone", Message: "must be a valid phone number"})
	}

	if name == "" {
		fields = append(fields, models.FieldError{Field: "name", Message: "is required"})
	}

	if len(fields) > 0 {
		return nil, &models.ValidationError{Errors: fields}
	}

	user, err := a.store.UpsertUser(ctx, phone, name, models.DefaultTeam)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	token, expiresAt, err := generateJWT(user, a.config.JWTSecret, a.config.TokenTTL)
	if err != nil {
		return nil, err
	}

	return &models.LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      user,
	}, nil
}

// VerifyToken validates a bearer token and returns the identity it carries.
func (a *Auth) VerifyToken(_ context.Context, token string) (*models.User, error) {
	claims, err := parseJWT(token, a.config.JWTSecret)
	if err != nil {
		return nil, errors.Join(models.ErrUnauthorized, err)
	}

	return claims.user()
}
