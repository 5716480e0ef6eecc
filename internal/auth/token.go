// Package auth resolves bearer tokens to caller identities.
// Role administration itself lives outside this service; the engine trusts the
// signed claims and applies per-operation authorization on top of them.
package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nmscd/warroom/internal/domain"
)

// Resolver verifies HMAC-signed identity tokens.
type Resolver struct {
	Secret []byte
	Issuer string
	Now    func() time.Time
}

// NewResolver creates a Resolver. Issuer may be empty to skip the issuer check.
func NewResolver(secret, issuer string) *Resolver {
	return &Resolver{Secret: []byte(secret), Issuer: issuer, Now: time.Now}
}

// identityClaims is the internal claims type used for JWT parsing.
type identityClaims struct {
	jwt.RegisteredClaims
	PartnerID    string `json:"partner_id"`
	IsSuperAdmin bool   `json:"is_super_admin"`
	DiscordTag   string `json:"discord_tag"`
}

// Resolve parses and verifies a bearer token into an Identity.
func (r *Resolver) Resolve(token string) (domain.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Identity{}, domain.ErrTokenInvalid
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(r.Now),
	}
	if r.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.Issuer))
	}

	var claims identityClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return r.Secret, nil
	}, opts...)
	if err != nil {
		return domain.Identity{}, domain.WrapWarRoomError(domain.ErrTokenInvalid.Code, "parse token", err)
	}
	if claims.PartnerID == "" {
		return domain.Identity{}, domain.NewWarRoomError(domain.ErrTokenInvalid.Code, "token missing partner_id")
	}

	return domain.Identity{
		PartnerID:    claims.PartnerID,
		IsSuperAdmin: claims.IsSuperAdmin,
		DiscordTag:   claims.DiscordTag,
	}, nil
}

// Mint signs an identity token. Used by operational tooling and tests; the
// production issuer is the external identity service.
func (r *Resolver) Mint(id domain.Identity, ttl time.Duration) (string, error) {
	now := r.Now()
	claims := identityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    r.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		PartnerID:    id.PartnerID,
		IsSuperAdmin: id.IsSuperAdmin,
		DiscordTag:   id.DiscordTag,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.Secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
