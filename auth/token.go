// Package auth derives the local participant from the bearer token issued by
// the tutoring API. Token storage and refresh live outside this module; the
// token is only decoded, never verified, because the server remains the
// authority on its validity.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"tutorchat/models"
)

var (
	// ErrMissingToken indicates no bearer token is available.
	ErrMissingToken = errors.New("auth: bearer token is required")
	// ErrMissingIdentity indicates the token carries neither a user id nor an email.
	ErrMissingIdentity = errors.New("auth: token has no user identity claims")
	// ErrMissingEmail indicates no email is known for the local user. Chat
	// events name senders by email, so own messages cannot be recognized
	// without one.
	ErrMissingEmail = errors.New("auth: local user email is unknown")
)

// Claims are the identity claims the chat server issues. UserID is kept raw
// because issuers encode it as either a string or a number.
type Claims struct {
	UserID any    `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

// LocalUser decodes token and returns the participant it identifies. The
// token must carry an email claim.
func LocalUser(token string) (models.Participant, error) {
	return ResolveLocalUser(token, "")
}

// ResolveLocalUser is LocalUser with a configured email used when the token
// has no email claim.
func ResolveLocalUser(token, fallbackEmail string) (models.Participant, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return models.Participant{}, ErrMissingToken
	}

	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return models.Participant{}, fmt.Errorf("auth: decode token: %w", err)
	}

	userID := claimString(claims.UserID)
	if userID == "" {
		userID = strings.TrimSpace(claims.Subject)
	}
	email := strings.TrimSpace(claims.Email)
	if userID == "" && email == "" {
		return models.Participant{}, ErrMissingIdentity
	}
	if email == "" {
		email = strings.TrimSpace(fallbackEmail)
	}
	if email == "" {
		return models.Participant{}, ErrMissingEmail
	}

	return models.Participant{
		ID:    userID,
		Name:  strings.TrimSpace(claims.Name),
		Email: email,
	}, nil
}

func claimString(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
