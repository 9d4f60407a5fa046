package token

import (
	"encoding/json"
	"fmt"
	"time"
)

// Token is the locally cached entitlement. A nil Expires means permanent.
// Legacy marks a token read from the bare-code format.
type Token struct {
	Code    string
	Expires *time.Time
	IsDemo  bool
	Legacy  bool
}

type wireToken struct {
	Code    string `json:"code"`
	Expires *int64 `json:"expires"`
	IsDemo  bool   `json:"isDemo"`
}

// Permanent builds a non-expiring token
func Permanent(code string) Token {
	return Token{Code: code}
}

// Demo builds a time-limited demo token
func Demo(code string, expires time.Time) Token {
	return Token{Code: code, Expires: &expires, IsDemo: true}
}

// MarshalJSON writes {"code","expires":<unix-millis>|null,"isDemo"}
func (t Token) MarshalJSON() ([]byte, error) {
	w := wireToken{Code: t.Code, IsDemo: t.IsDemo}
	if t.Expires != nil {
		ms := t.Expires.UnixMilli()
		w.Expires = &ms
	}
	return json.Marshal(w)
}

// UnmarshalJSON reads the wrapped wire format
func (t *Token) UnmarshalJSON(data []byte) error {
	var w wireToken
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Code == "" {
		return fmt.Errorf("token has no code")
	}
	t.Code = w.Code
	t.IsDemo = w.IsDemo
	t.Legacy = false
	t.Expires = nil
	if w.Expires != nil {
		exp := time.UnixMilli(*w.Expires)
		t.Expires = &exp
	}
	return nil
}

// Verdict is the outcome of validating a token
type Verdict int

const (
	Valid Verdict = iota
	Expired
	Mismatch
	// Malformed covers a demo token without an expiry
	Malformed
)

func (v Verdict) String() string {
	switch v {
	case Valid:
		return "valid"
	case Expired:
		return "expired"
	case Mismatch:
		return "mismatch"
	case Malformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Validate checks the token against the expected code at now. The code is
// compared before expiry so a forged expired token reports Mismatch.
func (t Token) Validate(expected string, now time.Time, equal func(a, b string) bool) Verdict {
	if !equal(t.Code, expected) {
		return Mismatch
	}
	if t.IsDemo && t.Expires == nil {
		return Malformed
	}
	if t.Expires != nil && !now.Before(*t.Expires) {
		return Expired
	}
	return Valid
}

// TimeLimited reports whether the token expires
func (t Token) TimeLimited() bool {
	return t.IsDemo || t.Expires != nil
}

// Remaining returns time left before expiry; permanent tokens return 0
func (t Token) Remaining(now time.Time) time.Duration {
	if t.Expires == nil {
		return 0
	}
	if d := t.Expires.Sub(now); d > 0 {
		return d
	}
	return 0
}
