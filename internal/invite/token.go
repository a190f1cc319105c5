// Package invite mints and redeems project invitations. An invitation is
// either the raw project ID (the invitation code) or a signed share token
// embedded in a share URL.
package invite

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	perrors "github.com/p-blackswan/project-assistant/internal/errors"
)

const issuer = "project-assistant"

// Claims are the claims of a share token.
type Claims struct {
	ProjectID              string `json:"pid"`
	TemplateConversationID string `json:"tpl,omitempty"`
	jwt.RegisteredClaims
}

// Minter signs share tokens with an HMAC key.
type Minter struct {
	key     []byte
	baseURL string
	ttl     time.Duration
	now     func() time.Time
}

// NewMinter creates a Minter. A zero ttl mints tokens that never expire.
func NewMinter(key []byte, baseURL string, ttl time.Duration) *Minter {
	return &Minter{
		key:     key,
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Mint returns a signed token for projectID and the share URL carrying it.
func (m *Minter) Mint(projectID, templateCID string) (token, shareURL string, err error) {
	now := m.now()
	claims := Claims{
		ProjectID:              projectID,
		TemplateConversationID: templateCID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   issuer,
			Subject:  projectID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if m.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(m.ttl))
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return "", "", fmt.Errorf("signing share token: %w", err)
	}
	return token, JoinURL(m.baseURL, token), nil
}

// Parse verifies a share token and returns its claims.
func (m *Minter) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return m.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(m.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, perrors.New(perrors.ErrInvalidInput, "This invitation link has expired. Ask the Coordinator for a new one.")
	case err != nil:
		return nil, perrors.New(perrors.ErrInvalidInput, "This invitation link is not valid.")
	case claims.ProjectID == "":
		return nil, perrors.New(perrors.ErrInvalidInput, "This invitation link does not name a project.")
	}
	return claims, nil
}

// JoinURL builds the share URL for an invitation code or token.
func JoinURL(baseURL, code string) string {
	return strings.TrimRight(baseURL, "/") + "/join/" + code
}
