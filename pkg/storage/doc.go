// Package storage provides the key/value persistence used by the OAuth client.
//
// Two scopes exist. Persistent storage survives process restarts and holds the
// token set, the PKCE verifier, the DPoP key pair and the DPoP-enabled flag.
// Session storage lives only as long as the process and holds the CSRF state.
//
// # Backends
//
//   - Memory: mutex-guarded map, used for session scope and tests
//   - SQLite: single-file database (modernc.org/sqlite, no cgo)
//   - Sealed: AES-256-GCM wrapper around any other Store
//
// # Usage
//
//	db, err := storage.OpenSQLite(storage.DefaultPath())
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	persistent := storage.NewSealed(db, key)
package storage
