package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

var (
	// ErrInvalidCredentials means the token endpoint rejected the grant.
	ErrInvalidCredentials = errors.New("oauth credentials rejected")
	// ErrNoRefreshToken means a refresh was requested before any login.
	ErrNoRefreshToken    = errors.New("oauth refresh token unavailable")
	ErrUsernameMismatch  = errors.New("oauth state belongs to a different username")
	errCredentialsAbsent = errors.New("oauth password not configured")
)

// expiryLeeway is subtracted from the server expiry before a cached
// token is considered stale.
const expiryLeeway = 30 * time.Second

// Options tune a Manager. Zero values are usable.
type Options struct {
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Manager owns the bearer token for one account. It logs in with the
// password grant, refreshes with the refresh token grant, falls back to a
// fresh login when the refresh token is rejected, and persists the refresh
// token to a state file and an optional blob mirror.
type Manager struct {
	decl       Declaration
	creds      Credentials
	blobStore  BlobStore
	httpClient *http.Client
	logger     *zap.Logger
	config     *oauth2.Config

	// grantMu serializes token endpoint calls.
	grantMu sync.Mutex

	mu           sync.Mutex
	accessToken  string
	expiresAt    time.Time
	refreshToken string
}

func NewManager(decl Declaration, creds Credentials, blobStore BlobStore, opts Options) (*Manager, error) {
	if decl.Provider == "" {
		return nil, fmt.Errorf("provider is required")
	}
	if decl.TokenURL == "" {
		return nil, fmt.Errorf("tokenURL is required")
	}
	if decl.StatePath == "" {
		return nil, fmt.Errorf("statePath is required")
	}
	if !filepath.IsAbs(decl.StatePath) {
		return nil, fmt.Errorf("statePath must be absolute")
	}
	if strings.TrimSpace(creds.Username) == "" {
		return nil, fmt.Errorf("username is required")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		decl:       decl,
		creds:      creds,
		blobStore:  blobStore,
		httpClient: httpClient,
		logger:     logger.Named("oauth").With(zap.String("provider", decl.Provider)),
		config: &oauth2.Config{
			Endpoint: oauth2.Endpoint{
				TokenURL:  decl.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
	}

	state, err := m.loadInitialState(context.Background())
	if err != nil {
		return nil, err
	}
	m.refreshToken = state.RefreshToken
	return m, nil
}

// StartWithInterval refreshes ahead of expiry on a fixed period until ctx
// is done. Tokens without a server expiry are left to the 401 path.
func (m *Manager) StartWithInterval(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	threshold := interval
	if threshold < expiryLeeway {
		threshold = expiryLeeway
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.refreshIfNeeded(ctx, threshold)
			}
		}
	}()
}

// AccessToken returns a usable bearer token, refreshing or logging in as
// needed.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	if token, ok := m.cached(); ok {
		return token, nil
	}

	m.grantMu.Lock()
	defer m.grantMu.Unlock()

	// Another caller may have obtained a token while we waited.
	if token, ok := m.cached(); ok {
		return token, nil
	}
	if err := m.renewLocked(ctx); err != nil {
		return "", err
	}
	token, _ := m.cached()
	return token, nil
}

// Invalidate drops the cached access token if it is still the one the
// server just rejected.
func (m *Manager) Invalidate(stale string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stale == "" || m.accessToken == stale {
		m.accessToken = ""
		m.expiresAt = time.Time{}
		tokenValid.WithLabelValues(m.decl.Provider).Set(0)
	}
}

// Login performs the password grant unconditionally.
func (m *Manager) Login(ctx context.Context) error {
	m.grantMu.Lock()
	defer m.grantMu.Unlock()
	return m.loginLocked(ctx)
}

// Refresh performs the refresh token grant unconditionally.
func (m *Manager) Refresh(ctx context.Context) error {
	m.grantMu.Lock()
	defer m.grantMu.Unlock()
	return m.refreshLocked(ctx)
}

// HasRefreshToken reports whether a refresh grant is possible.
func (m *Manager) HasRefreshToken() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshToken != ""
}

// State returns the persistable view of the current tokens.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		SchemaVersion: SchemaVersion,
		Username:      m.creds.Username,
		RefreshToken:  m.refreshToken,
		UpdatedAt:     time.Now().UTC(),
	}
}

func (m *Manager) cached() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.accessToken == "" {
		return "", false
	}
	if !m.expiresAt.IsZero() && time.Until(m.expiresAt) <= expiryLeeway {
		return "", false
	}
	return m.accessToken, true
}

// renewLocked tries the refresh grant first and falls back to the password
// grant when the refresh token is missing or rejected.
func (m *Manager) renewLocked(ctx context.Context) error {
	err := m.refreshLocked(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNoRefreshToken) && !errors.Is(err, ErrInvalidCredentials) {
		return err
	}
	if m.creds.Password == "" {
		return fmt.Errorf("%w: %w", ErrInvalidCredentials, errCredentialsAbsent)
	}
	m.logger.Info("falling back to password login", zap.Error(err))
	return m.loginLocked(ctx)
}

func (m *Manager) refreshIfNeeded(ctx context.Context, threshold time.Duration) {
	m.mu.Lock()
	need := m.refreshToken != "" && !m.expiresAt.IsZero() && time.Until(m.expiresAt) <= threshold
	m.mu.Unlock()
	if !need {
		return
	}

	m.grantMu.Lock()
	defer m.grantMu.Unlock()
	if err := m.renewLocked(ctx); err != nil {
		m.logger.Warn("proactive refresh failed", zap.Error(err))
	}
}

func (m *Manager) loginLocked(ctx context.Context) error {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	token, err := m.config.PasswordCredentialsToken(ctx, m.creds.Username, m.creds.Password)
	loginTotal.WithLabelValues(m.decl.Provider, resultLabel(err)).Inc()
	if err != nil {
		tokenValid.WithLabelValues(m.decl.Provider).Set(0)
		return classifyGrantError("login", err)
	}
	m.store(ctx, token)
	return nil
}

func (m *Manager) refreshLocked(ctx context.Context) error {
	m.mu.Lock()
	refreshToken := m.refreshToken
	m.mu.Unlock()
	if refreshToken == "" {
		return ErrNoRefreshToken
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	token, err := m.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	refreshTotal.WithLabelValues(m.decl.Provider, resultLabel(err)).Inc()
	if err != nil {
		tokenValid.WithLabelValues(m.decl.Provider).Set(0)
		return classifyGrantError("refresh", err)
	}
	m.store(ctx, token)
	return nil
}

func (m *Manager) store(ctx context.Context, token *oauth2.Token) {
	m.mu.Lock()
	m.accessToken = token.AccessToken
	m.expiresAt = token.Expiry
	if token.RefreshToken != "" {
		m.refreshToken = token.RefreshToken
	}
	m.mu.Unlock()

	tokenValid.WithLabelValues(m.decl.Provider).Set(1)
	if token.Expiry.IsZero() {
		tokenExpiry.WithLabelValues(m.decl.Provider).Set(0)
	} else {
		tokenExpiry.WithLabelValues(m.decl.Provider).Set(float64(token.Expiry.Unix()))
	}

	if err := m.persist(ctx, m.State()); err != nil {
		m.logger.Warn("persist token state failed", zap.Error(err))
	}
}

// classifyGrantError maps token endpoint rejections onto
// ErrInvalidCredentials and leaves transport failures untouched.
func classifyGrantError(op string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		body := strings.TrimSpace(string(retrieveErr.Body))
		switch status {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%s: %w (%d: %s)", op, ErrInvalidCredentials, status, body)
		}
		return fmt.Errorf("%s: token endpoint %d: %s", op, status, body)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (m *Manager) persist(ctx context.Context, state State) error {
	if state.RefreshToken == "" {
		return nil
	}
	if err := WriteState(m.decl.StatePath, state); err != nil {
		return err
	}
	if m.blobStore == nil {
		return nil
	}
	if err := m.persistBlob(ctx, state); err != nil {
		remotePersistOK.WithLabelValues(m.decl.Provider).Set(0)
		m.logger.Warn("blob persist failed", zap.Error(err))
		return nil
	}
	remotePersistOK.WithLabelValues(m.decl.Provider).Set(1)
	return nil
}

// loadInitialState prefers the local state file, then the blob mirror.
// Missing state is not an error: the first AccessToken call logs in.
func (m *Manager) loadInitialState(ctx context.Context) (State, error) {
	local, localErr := LoadState(m.decl.StatePath)
	if localErr == nil {
		if err := checkStateFile(m.decl.StatePath); err != nil {
			return State{}, err
		}
		if local.Username != m.creds.Username {
			return State{}, ErrUsernameMismatch
		}
		return local, nil
	}
	if !errors.Is(localErr, ErrStateNotFound) {
		return State{}, localErr
	}

	if m.blobStore == nil {
		return State{}, nil
	}
	blob, blobErr := m.loadFromBlob(ctx)
	if blobErr != nil {
		if errors.Is(blobErr, ErrBlobNotFound) {
			return State{}, nil
		}
		m.logger.Warn("blob state unavailable", zap.Error(blobErr))
		return State{}, nil
	}
	if blob.Username != m.creds.Username {
		return State{}, ErrUsernameMismatch
	}
	if err := WriteState(m.decl.StatePath, blob); err != nil {
		return State{}, err
	}
	m.logger.Info("restored token state from blob store")
	return blob, nil
}

func (m *Manager) loadFromBlob(ctx context.Context) (State, error) {
	data, err := m.blobStore.Load(ctx, m.decl.Provider)
	if err != nil {
		return State{}, err
	}
	return DecodeState(data)
}

func (m *Manager) persistBlob(ctx context.Context, state State) error {
	data, err := EncodeState(state)
	if err != nil {
		return err
	}
	return m.blobStore.Save(ctx, m.decl.Provider, data)
}

func checkStateFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode().Perm() != 0o600 {
		return fmt.Errorf("state file %s must have 0600 permissions", path)
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		if int(stat.Uid) != os.Geteuid() {
			return fmt.Errorf("state file %s must be owned by uid %d", path, os.Geteuid())
		}
	}
	return nil
}
