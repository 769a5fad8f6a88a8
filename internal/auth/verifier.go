package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
)

var ErrInvalidToken = errors.New("invalid bearer token")

// Identity is what a verified token tells us about its holder.
type Identity struct {
	UserID string
	Email  string
}

type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// FirebaseVerifier checks Firebase ID tokens issued by the phone-number sign-in flow.
type FirebaseVerifier struct {
	client *firebaseauth.Client
}

func NewFirebaseVerifier(ctx context.Context, projectID string) (*FirebaseVerifier, error) {
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID})
	if err != nil {
		return nil, fmt.Errorf("firebase app init failed: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase auth init failed: %w", err)
	}
	return &FirebaseVerifier{client: client}, nil
}

func (v *FirebaseVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	t, err := v.client.VerifyIDToken(ctx, token)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	uid := strings.TrimSpace(t.UID)
	if uid == "" {
		return Identity{}, fmt.Errorf("%w: empty uid", ErrInvalidToken)
	}

	id := Identity{UserID: uid}
	if email, ok := t.Claims["email"].(string); ok {
		id.Email = strings.TrimSpace(email)
	}
	return id, nil
}

// InsecureVerifier accepts any non-empty token as the user id itself. Local development only.
type InsecureVerifier struct{}

func (InsecureVerifier) Verify(_ context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: token}, nil
}
