package session

import (
	"encoding/json"
	"time"

	"github.com/gobeyondidentity/authpkce/pkg/tokens"
)

// Status is a snapshot of the session for display.
type Status struct {
	LoggedIn    bool          `json:"logged_in"`
	DPoP        bool          `json:"dpop"`
	AutoRefresh bool          `json:"auto_refresh"`
	TokenType   string        `json:"token_type,omitempty"`
	Scope       string        `json:"scope,omitempty"`
	ExpiresAt   *time.Time    `json:"expires_at,omitempty"`
	Remaining   time.Duration `json:"remaining,omitempty"`

	Subject string `json:"subject,omitempty"`
	Email   string `json:"email,omitempty"`
	User    string `json:"user,omitempty"`

	HasRefreshToken bool `json:"has_refresh_token"`
	HasIDToken      bool `json:"has_id_token"`

	PublicJWK  json.RawMessage `json:"public_jwk,omitempty"`
	Thumbprint string          `json:"jkt,omitempty"`

	// DecodeErrors lists tokens that could not be decoded for display.
	DecodeErrors map[string]string `json:"decode_errors,omitempty"`
}

// Status returns the current session snapshot.
func (m *Manager) Status() Status {
	st := Status{
		DPoP:        m.DPoPEnabled(),
		AutoRefresh: m.sched.AutoRefresh(),
	}

	if kp := m.storedKey(); kp != nil {
		if data, err := kp.PublicJWKJSON(); err == nil {
			st.PublicJWK = data
		}
		if thumb, err := kp.Thumbprint(); err == nil {
			st.Thumbprint = thumb
		}
	}

	ts := m.tokens.Current()
	if ts == nil {
		return st
	}
	st.LoggedIn = true
	st.TokenType = ts.TokenType
	st.Scope = ts.Scope
	st.HasRefreshToken = ts.RefreshToken != ""
	st.HasIDToken = ts.IDToken != ""

	if exp, ok := tokens.ExpiryOf(ts); ok {
		st.ExpiresAt = &exp
		st.Remaining = exp.Sub(m.now())
	}

	decodeErr := func(name string, err error) {
		if st.DecodeErrors == nil {
			st.DecodeErrors = map[string]string{}
		}
		st.DecodeErrors[name] = err.Error()
	}

	if at, err := tokens.ParseJWT(ts.AccessToken); err == nil {
		st.Subject = at.Subject()
	} else {
		decodeErr("access_token", err)
	}
	if ts.IDToken != "" {
		if idt, err := tokens.ParseJWT(ts.IDToken); err == nil {
			st.Email = idt.String("email")
			st.User = idt.String("preferred_username")
			if st.Subject == "" {
				st.Subject = idt.Subject()
			}
		} else {
			decodeErr("id_token", err)
		}
	}
	return st
}
