package session

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/gobeyondidentity/authpkce/pkg/scheduler"
)

// DefaultRedirectURI is the loopback address the callback listener binds.
const DefaultRedirectURI = "http://127.0.0.1:8765/callback"

// Config describes the client registration and endpoints.
type Config struct {
	ClientID    string
	AuthURL     string
	TokenURL    string
	UserinfoURL string
	LogoutURL   string
	RedirectURI string

	// Scope is a space separated scope list.
	Scope string

	AutoRefresh      bool
	RefreshThreshold time.Duration
	TickInterval     time.Duration
}

// Validate reports missing required fields.
func (c Config) Validate() error {
	var errs []error
	if c.ClientID == "" {
		errs = append(errs, errors.New("client id is required"))
	}
	if c.AuthURL == "" {
		errs = append(errs, errors.New("authorization endpoint is required"))
	}
	if c.TokenURL == "" {
		errs = append(errs, errors.New("token endpoint is required"))
	}
	if c.RedirectURI == "" {
		errs = append(errs, errors.New("redirect uri is required"))
	}
	return errors.Join(errs...)
}

func (c Config) oauth2() *oauth2.Config {
	return &oauth2.Config{
		ClientID: c.ClientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.AuthURL,
			TokenURL:  c.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: c.RedirectURI,
		Scopes:      strings.Fields(c.Scope),
	}
}

func (c Config) threshold() time.Duration {
	if c.RefreshThreshold > 0 {
		return c.RefreshThreshold
	}
	return scheduler.DefaultThreshold
}

func (c Config) interval() time.Duration {
	if c.TickInterval > 0 {
		return c.TickInterval
	}
	return scheduler.DefaultInterval
}
