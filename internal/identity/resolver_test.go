package identity

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venux/panel/backend/internal/model/tenant"
)

func TestExplicitSignalWinsAndIsPersisted(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Save(KeyTenant, "456"))
	r := NewResolver(KeyTenant, store)

	id, ok, err := r.Resolve("123")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, tenant.Identity("123"), id)

	persisted, _, _ := store.Load(KeyTenant)
	assert.Equal(t, "123", persisted)
}

func TestFallsBackToPersistedValue(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Save(KeyTenant, "456"))
	r := NewResolver(KeyTenant, store)

	id, ok, err := r.Resolve("  ")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, tenant.Identity("456"), id)
}

func TestAbsentIsNotAnError(t *testing.T) {
	r := NewResolver(KeyTenant, NewMemoryStore())

	id, ok, err := r.Resolve("")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, id)
}

func TestClearForgetsIdentity(t *testing.T) {
	store := NewMemoryStore()
	r := NewResolver(KeyUser, store)
	_, _, err := r.Resolve("ops@venux")
	require.NoError(t, err)

	require.NoError(t, r.Clear())

	_, ok, err := r.Resolve("")
	require.NoError(t, err)
	assert.False(t, ok)
}

type failingPersister struct{}

func (failingPersister) Load(string) (string, bool, error) { return "", false, errors.New("disk gone") }
func (failingPersister) Save(string, string) error         { return errors.New("disk gone") }
func (failingPersister) Delete(string) error               { return errors.New("disk gone") }

func TestPersisterFailuresSurface(t *testing.T) {
	r := NewResolver(KeyTenant, failingPersister{})

	_, _, err := r.Resolve("123")
	assert.ErrorContains(t, err, "persist venux_tid")

	_, _, err = r.Resolve("")
	assert.ErrorContains(t, err, "load venux_tid")
}

func TestCookieJarRoundTrip(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/session?tid=acme%20sa", nil)
	r := NewResolver(KeyTenant, NewCookieJar(rec, req, false))

	id, ok, err := r.Resolve(req.URL.Query().Get("tid"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, tenant.Identity("acme sa"), id)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, KeyTenant, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	next := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	next.AddCookie(cookies[0])
	id, ok, err = NewResolver(KeyTenant, NewCookieJar(httptest.NewRecorder(), next, false)).Resolve("")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, tenant.Identity("acme sa"), id)
}

func TestCookieJarDeleteExpiresCookie(t *testing.T) {
	rec := httptest.NewRecorder()
	jar := NewCookieJar(rec, httptest.NewRequest(http.MethodPost, "/api/logout", nil), true)

	require.NoError(t, jar.Delete(KeyTenant))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
	assert.True(t, cookies[0].Secure)
}

func TestFileStorePersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "identity.yaml")

	first := NewResolver(KeyTenant, NewFileStore(path))
	_, _, err := first.Resolve("t-9")
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second := NewResolver(KeyTenant, NewFileStore(path))
	id, ok, err := second.Resolve("")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, tenant.Identity("t-9"), id)

	require.NoError(t, second.Clear())
	_, ok, err = first.Resolve("")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- not\n- a map\n"), 0o600))

	_, _, err := NewFileStore(path).Load(KeyTenant)
	assert.ErrorContains(t, err, "parse identity file")
}
