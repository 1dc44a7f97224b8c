package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/gobeyondidentity/authpkce/internal/config"
	"github.com/gobeyondidentity/authpkce/pkg/clierror"
	"github.com/gobeyondidentity/authpkce/pkg/session"
	"github.com/gobeyondidentity/authpkce/pkg/storage"
)

const (
	// sealKeyFile is created next to the database when seal is on.
	sealKeyFile = "storage.key"

	schedulerDrainTimeout = 5 * time.Second
)

// newOpener returns how authorization and logout URLs reach the user.
var newOpener = func(cmd *cobra.Command) session.Opener {
	if noBrowser {
		return &session.EchoOpener{W: cmd.ErrOrStderr()}
	}
	return session.DetectOpener()
}

// newHTTPClient returns the client for discovery, token and resource calls.
var newHTTPClient = func(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// cliSession is a session manager and the database behind it.
type cliSession struct {
	*session.Manager
	db *storage.SQLite
}

// Close stops the expiry scheduler, waits briefly for a tick in progress
// and closes the database.
func (s *cliSession) Close() {
	s.Manager.Close()
	select {
	case <-s.Scheduler().Done():
	case <-time.After(schedulerDrainTimeout):
		logger.Warn("expiry scheduler still busy at exit")
	}
	if err := s.db.Close(); err != nil {
		logger.Warn("failed to close database", "error", err)
	}
}

// openSession validates the settings, discovers missing endpoints, opens
// the store and restores the persisted session. A non-empty redirectURI
// replaces the configured one.
func openSession(cmd *cobra.Command, redirectURI string, opts ...session.Option) (*cliSession, error) {
	ctx := cmd.Context()

	cfg := *settings
	if redirectURI != "" {
		cfg.RedirectURI = redirectURI
	}
	if err := cfg.Validate(); err != nil {
		return nil, clierror.ConfigInvalid(err)
	}

	client := newHTTPClient(cfg.HTTPTimeout)
	if err := cfg.Resolve(ctx, client); err != nil {
		if errors.Is(err, config.ErrNoIssuer) {
			return nil, clierror.ConfigInvalid(err)
		}
		return nil, fmt.Errorf("resolve endpoints: %w", err)
	}

	store, db, err := openStore(&cfg)
	if err != nil {
		return nil, err
	}

	base := []session.Option{
		session.WithHTTPClient(client),
		session.WithOpener(newOpener(cmd)),
		session.WithLogger(logger),
	}
	m, err := session.New(cfg.Session(), store, append(base, opts...)...)
	if err != nil {
		db.Close()
		return nil, clierror.ConfigInvalid(err)
	}
	if err := m.Init(ctx); err != nil {
		m.Close()
		db.Close()
		return nil, err
	}
	return &cliSession{Manager: m, db: db}, nil
}

// openStore opens the SQLite database, wrapped in an encrypting store when
// seal is set.
func openStore(cfg *config.Config) (storage.Store, *storage.SQLite, error) {
	db, err := storage.OpenSQLite(cfg.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if !cfg.Seal {
		return db, db, nil
	}

	key, err := storage.LoadOrGenerateKey(filepath.Join(filepath.Dir(cfg.DB), sealKeyFile))
	if err != nil {
		db.Close()
		return nil, nil, clierror.KeyMaterial(err.Error())
	}
	sealed, err := storage.NewSealed(db, key)
	if err != nil {
		db.Close()
		return nil, nil, clierror.KeyMaterial(err.Error())
	}
	return sealed, db, nil
}
