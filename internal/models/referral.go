package models

// Partner identifies where an applicant is routed.
type Partner string

const (
	PartnerNarvi        Partner = "narvi"
	PartnerOlky         Partner = "olky"
	PartnerManualReview Partner = "manual_review"
)

// Valid reports whether p is one of the known partners.
func (p Partner) Valid() bool {
	switch p {
	case PartnerNarvi, PartnerOlky, PartnerManualReview:
		return true
	}
	return false
}

const (
	ClaimRef   = "OPZ"
	ClaimScope = "open_account"
)

// Claims is the canonical claim set of a warm referral.
type Claims struct {
	Ref     string  `json:"ref"`
	Partner Partner `json:"partner"`
	UserRef string  `json:"user_ref"`
	Ts      int64   `json:"ts"`
	Scope   string  `json:"scope"`
}

// SignedPayload is the claim set plus its signature. Sig is empty for
// manual review.
type SignedPayload struct {
	Claims
	Sig string `json:"sig"`
}

// ReferralRouting is derived from an Application and never stored on its own.
type ReferralRouting struct {
	Partner       Partner       `json:"partner"`
	RedirectURL   string        `json:"redirectUrl"`
	SignedPayload SignedPayload `json:"signedPayload"`
}

type ReferralStatus string

const (
	ReferralClicked   ReferralStatus = "CLICKED"
	ReferralCompleted ReferralStatus = "COMPLETED"
	ReferralFailed    ReferralStatus = "FAILED"
)

func (s ReferralStatus) Valid() bool {
	switch s {
	case ReferralClicked, ReferralCompleted, ReferralFailed:
		return true
	}
	return false
}

// ReferralEntry is one append-only audit record.
type ReferralEntry struct {
	UserRef     string         `json:"userRef"`
	Partner     Partner        `json:"partner"`
	Mode        Mode           `json:"mode"`
	Status      ReferralStatus `json:"status"`
	Timestamp   string         `json:"timestamp"`
	Application Application    `json:"application"`
	Error       string         `json:"error,omitempty"`
}
