package auth

import (
	"testing"
	"time"

	"github.com/nmscd/warroom/internal/domain"
)

func TestResolver_MintAndResolve(t *testing.T) {
	r := NewResolver("test-secret", "nmscd")

	token, err := r.Mint(domain.Identity{
		PartnerID:    "gek-trade-union",
		IsSuperAdmin: true,
		DiscordTag:   "GTU",
	}, time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	id, err := r.Resolve(token)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id.PartnerID != "gek-trade-union" {
		t.Errorf("PartnerID = %q, want gek-trade-union", id.PartnerID)
	}
	if !id.IsSuperAdmin {
		t.Error("expected IsSuperAdmin")
	}
	if id.DiscordTag != "GTU" {
		t.Errorf("DiscordTag = %q, want GTU", id.DiscordTag)
	}
}

func TestResolver_WrongSecret(t *testing.T) {
	minter := NewResolver("secret-a", "nmscd")
	token, err := minter.Mint(domain.Identity{PartnerID: "p"}, time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	r := NewResolver("secret-b", "nmscd")
	_, err = r.Resolve(token)
	if domain.CodeOf(err) != domain.ErrTokenInvalid.Code {
		t.Errorf("expected token-invalid code, got %v", err)
	}
}

func TestResolver_Expired(t *testing.T) {
	r := NewResolver("test-secret", "nmscd")
	issued := time.Now()
	r.Now = func() time.Time { return issued }

	token, err := r.Mint(domain.Identity{PartnerID: "p"}, time.Minute)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	r.Now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, err = r.Resolve(token)
	if domain.CodeOf(err) != domain.ErrTokenInvalid.Code {
		t.Errorf("expected token-invalid code for expired token, got %v", err)
	}
}

func TestResolver_WrongIssuer(t *testing.T) {
	minter := NewResolver("test-secret", "someone-else")
	token, err := minter.Mint(domain.Identity{PartnerID: "p"}, time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	r := NewResolver("test-secret", "nmscd")
	_, err = r.Resolve(token)
	if domain.CodeOf(err) != domain.ErrTokenInvalid.Code {
		t.Errorf("expected token-invalid code for wrong issuer, got %v", err)
	}
}

func TestResolver_EmptyOrGarbage(t *testing.T) {
	r := NewResolver("test-secret", "nmscd")

	for _, token := range []string{"", "   ", "not.a.token"} {
		if _, err := r.Resolve(token); domain.CodeOf(err) != domain.ErrTokenInvalid.Code {
			t.Errorf("Resolve(%q): expected token-invalid code, got %v", token, err)
		}
	}
}

func TestResolver_MissingPartnerID(t *testing.T) {
	r := NewResolver("test-secret", "nmscd")
	token, err := r.Mint(domain.Identity{}, time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := r.Resolve(token); domain.CodeOf(err) != domain.ErrTokenInvalid.Code {
		t.Errorf("expected token-invalid code for empty partner_id, got %v", err)
	}
}
