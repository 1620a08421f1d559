package oauthflow

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/DanrwAU/zenwifi/internal/oauth"
)

// PersistResult reports persistence outcomes.
type PersistResult struct {
	StatePath string
	BlobSaved bool
}

// PersistOptions controls persistence behavior.
type PersistOptions struct {
	StatePathOverride string
	SkipBlob          bool
}

// Session is an interactive login whose tokens live in a scratch state
// file until Persist copies them to the configured locations.
type Session struct {
	Manager *oauth.Manager
	tempDir string
}

// Begin runs the password grant against a scratch state path so an
// existing state file for another account is neither read nor clobbered.
func Begin(ctx context.Context, decl oauth.Declaration, creds oauth.Credentials, httpClient *http.Client, logger *zap.Logger) (*Session, error) {
	tempDir, err := os.MkdirTemp("", "zenwifi-login-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	scratch := decl
	scratch.StatePath = filepath.Join(tempDir, decl.Provider+".json")

	manager, err := oauth.NewManager(scratch, creds, nil, oauth.Options{HTTPClient: httpClient, Logger: logger})
	if err != nil {
		_ = os.RemoveAll(tempDir)
		return nil, err
	}
	if err := manager.Login(ctx); err != nil {
		_ = os.RemoveAll(tempDir)
		return nil, err
	}
	return &Session{Manager: manager, tempDir: tempDir}, nil
}

// Persist writes the session's refresh token to the declared state path
// and, unless skipped, the blob mirror.
func (s *Session) Persist(ctx context.Context, decl oauth.Declaration, blob oauth.BlobStore, opts PersistOptions) (PersistResult, error) {
	return PersistState(ctx, decl, s.Manager.State(), blob, opts)
}

// Close removes the scratch state.
func (s *Session) Close() error {
	return os.RemoveAll(s.tempDir)
}

// PersistState writes state to disk and optionally to blob storage.
func PersistState(ctx context.Context, decl oauth.Declaration, state oauth.State, blob oauth.BlobStore, opts PersistOptions) (PersistResult, error) {
	statePath := decl.StatePath
	if opts.StatePathOverride != "" {
		statePath = opts.StatePathOverride
	}
	if statePath == "" {
		return PersistResult{}, fmt.Errorf("state path missing")
	}
	if err := state.Validate(); err != nil {
		return PersistResult{}, err
	}
	if err := oauth.WriteState(statePath, state); err != nil {
		return PersistResult{}, err
	}

	result := PersistResult{StatePath: statePath}
	if opts.SkipBlob || blob == nil {
		return result, nil
	}
	payload, err := oauth.EncodeState(state)
	if err != nil {
		return result, err
	}
	if err := blob.Save(ctx, decl.Provider, payload); err != nil {
		return result, fmt.Errorf("blob save: %w", err)
	}
	result.BlobSaved = true
	return result, nil
}
