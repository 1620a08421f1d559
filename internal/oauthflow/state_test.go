package oauthflow

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/DanrwAU/zenwifi/internal/oauth"
)

type memoryBlobStore struct {
	data map[string][]byte
}

func (m *memoryBlobStore) Load(_ context.Context, name string) ([]byte, error) {
	if data, ok := m.data[name]; ok {
		return data, nil
	}
	return nil, oauth.ErrBlobNotFound
}

func (m *memoryBlobStore) Save(_ context.Context, name string, data []byte) error {
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.data[name] = data
	return nil
}

func TestBeginAndPersist(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/token" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"a","refresh_token":"r","token_type":"bearer"}`)
	}))
	defer server.Close()

	dir := t.TempDir()
	statePath := filepath.Join(dir, "zenwifi.json")
	// A state file for another account must not block a fresh login.
	if err := oauth.WriteState(statePath, oauth.State{Username: "old@example.com", RefreshToken: "old"}); err != nil {
		t.Fatalf("WriteState: %v", err)
	}

	decl := oauth.Declaration{Provider: "zenwifi", TokenURL: server.URL + "/api/token", StatePath: statePath}
	session, err := Begin(context.Background(), decl, oauth.Credentials{Username: "new@example.com", Password: "pw"}, nil, nil)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer session.Close()

	blob := &memoryBlobStore{}
	result, err := session.Persist(context.Background(), decl, blob, PersistOptions{})
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if result.StatePath != statePath || !result.BlobSaved {
		t.Fatalf("unexpected result: %+v", result)
	}

	state, err := oauth.LoadState(statePath)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if state.Username != "new@example.com" || state.RefreshToken != "r" {
		t.Fatalf("unexpected state: %+v", state)
	}
	if _, ok := blob.data["zenwifi"]; !ok {
		t.Fatalf("expected blob copy")
	}

	tempDir := session.tempDir
	if err := session.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(tempDir); !os.IsNotExist(err) {
		t.Fatalf("expected scratch dir removed, err=%v", err)
	}
}

func TestPersistStateOverrideAndSkipBlob(t *testing.T) {
	override := filepath.Join(t.TempDir(), "elsewhere.json")
	decl := oauth.Declaration{Provider: "zenwifi", StatePath: "/nonexistent/zenwifi.json"}
	blob := &memoryBlobStore{}

	result, err := PersistState(context.Background(), decl, oauth.State{SchemaVersion: oauth.SchemaVersion, Username: "u", RefreshToken: "r"}, blob, PersistOptions{
		StatePathOverride: override,
		SkipBlob:          true,
	})
	if err != nil {
		t.Fatalf("PersistState: %v", err)
	}
	if result.StatePath != override || result.BlobSaved {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(blob.data) != 0 {
		t.Fatalf("blob should be skipped")
	}
}

func TestPersistStateRejectsEmptyToken(t *testing.T) {
	decl := oauth.Declaration{Provider: "zenwifi", StatePath: filepath.Join(t.TempDir(), "s.json")}
	if _, err := PersistState(context.Background(), decl, oauth.State{SchemaVersion: oauth.SchemaVersion, Username: "u"}, nil, PersistOptions{}); err == nil {
		t.Fatalf("expected validation error")
	}
}
