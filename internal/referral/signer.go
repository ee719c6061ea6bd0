// Package referral signs warm referrals to banking partners, verifies partner
// callbacks and records every routing decision in the audit log.
package referral

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"opz-funnels/internal/common/config"
	"opz-funnels/internal/models"
)

// ErrSigningFailed is returned when a partner has no usable secret or redirect base.
var ErrSigningFailed = errors.New("referral signing failed")

// SignatureHeader carries the hex HMAC of a partner callback body.
const SignatureHeader = "X-Signature"

// Signer holds the per-partner secrets. It is only ever built from server
// configuration.
type Signer struct {
	partners map[models.Partner]config.PartnerConfig
}

func NewSigner(partners map[string]config.PartnerConfig) *Signer {
	s := &Signer{partners: make(map[models.Partner]config.PartnerConfig, len(partners))}
	for name, p := range partners {
		s.partners[models.Partner(strings.ToLower(name))] = p
	}
	return s
}

// Canonical is the string the signature covers: ref|partner|user_ref|ts|scope.
func Canonical(c models.Claims) string {
	return strings.Join([]string{
		c.Ref,
		string(c.Partner),
		c.UserRef,
		strconv.FormatInt(c.Ts, 10),
		c.Scope,
	}, "|")
}

// Sign returns the lowercase hex HMAC-SHA256 of the canonical claims.
func Sign(c models.Claims, secret string) string {
	return signBytes([]byte(Canonical(c)), secret)
}

// Verify checks sig against the claims in constant time.
func Verify(c models.Claims, sig, secret string) bool {
	return verifyHex([]byte(Canonical(c)), sig, secret)
}

// VerifyBody checks a hex signature over a raw callback body.
func VerifyBody(body []byte, sig, secret string) bool {
	return verifyHex(body, sig, secret)
}

func signBytes(msg []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyHex(msg []byte, sig, secret string) bool {
	if strings.TrimSpace(secret) == "" {
		return false
	}
	provided, err := hex.DecodeString(strings.TrimSpace(sig))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(msg)
	return hmac.Equal(mac.Sum(nil), provided)
}

// Claims builds the claim set for a partner at time ts.
func Claims(partner models.Partner, userRef string, ts time.Time) models.Claims {
	return models.Claims{
		Ref:     models.ClaimRef,
		Partner: partner,
		UserRef: userRef,
		Ts:      ts.UnixMilli(),
		Scope:   models.ClaimScope,
	}
}

// Route signs a referral. Manual review produces an empty redirect and
// signature.
func (s *Signer) Route(partner models.Partner, userRef string, ts time.Time) (models.ReferralRouting, error) {
	claims := Claims(partner, userRef, ts)
	if partner == models.PartnerManualReview {
		return models.ReferralRouting{
			Partner:       partner,
			SignedPayload: models.SignedPayload{Claims: claims},
		}, nil
	}

	cfg, ok := s.partners[partner]
	if !ok {
		return models.ReferralRouting{}, fmt.Errorf("%w: partner %s is not configured", ErrSigningFailed, partner)
	}
	if strings.TrimSpace(cfg.Secret) == "" {
		return models.ReferralRouting{}, fmt.Errorf("%w: no secret for %s", ErrSigningFailed, partner)
	}
	if strings.TrimSpace(cfg.RedirectURL) == "" {
		return models.ReferralRouting{}, fmt.Errorf("%w: no redirect base for %s", ErrSigningFailed, partner)
	}

	payload := models.SignedPayload{Claims: claims, Sig: Sign(claims, cfg.Secret)}
	redirect, err := RedirectURL(cfg.RedirectURL, payload)
	if err != nil {
		return models.ReferralRouting{}, fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}

	return models.ReferralRouting{
		Partner:       partner,
		RedirectURL:   redirect,
		SignedPayload: payload,
	}, nil
}

// CallbackSecret returns the secret partner callbacks are verified with.
func (s *Signer) CallbackSecret(partner models.Partner) (string, bool) {
	cfg, ok := s.partners[partner]
	if !ok || cfg.VerificationSecret() == "" {
		return "", false
	}
	return cfg.VerificationSecret(), true
}

// RedirectURL sets the query of the partner base URL to exactly the six
// referral parameters. Any query the base carries is dropped.
func RedirectURL(base string, p models.SignedPayload) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse redirect base: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("redirect base %q is not absolute", base)
	}

	q := url.Values{}
	q.Set("ref", p.Ref)
	q.Set("partner", string(p.Partner))
	q.Set("user_ref", p.UserRef)
	q.Set("ts", strconv.FormatInt(p.Ts, 10))
	q.Set("scope", p.Scope)
	q.Set("sig", p.Sig)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
