package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/gatekeeper/app/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func createTempFile(t *testing.T, content string) string {
	t.Helper()
	f := filepath.Join(t.TempDir(), "gatekeeper.yml")
	require.NoError(t, os.WriteFile(f, []byte(content), 0o600))
	return f
}

func TestLoad(t *testing.T) {
	t.Run("valid file", func(t *testing.T) {
		cfg, err := Load(filepath.Join("testdata", "valid.yml"))
		require.NoError(t, err)
		require.Len(t, cfg.Resources, 3)
		assert.Equal(t, ResourceConfig{Name: "invoices", AuthProfile: "JWT_AND_APIKEY", RequireHMAC: true,
			IPAllowlist: []string{"10.0.0.0/8", "192.168.1.7"}}, cfg.Resources[0])
		assert.Equal(t, ResourceConfig{Name: "public"}, cfg.Resources[2])
		assert.Equal(t, []FlagConfig{{Name: "scoped_auth", Enabled: true}}, cfg.Flags)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load("/nonexistent/gatekeeper.yml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read registry file")
		assert.NotErrorIs(t, err, ErrInvalid)
	})

	t.Run("schema violation", func(t *testing.T) {
		_, err := Load(filepath.Join("testdata", "invalid_profile.yml"))
		require.ErrorIs(t, err, ErrInvalid)
		assert.Contains(t, err.Error(), "/resources/0/auth_profile")
	})

	t.Run("bad cidr", func(t *testing.T) {
		_, err := Load(filepath.Join("testdata", "bad_cidr.yml"))
		require.Error(t, err)
		require.ErrorIs(t, err, ErrInvalid)
		assert.Contains(t, err.Error(), `resource "invoices"`)
	})

	t.Run("duplicate resource", func(t *testing.T) {
		_, err := Load(filepath.Join("testdata", "duplicate.yml"))
		require.Error(t, err)
		require.ErrorIs(t, err, ErrInvalid)
		assert.Contains(t, err.Error(), "duplicate resource")
	})

	t.Run("duplicate flag", func(t *testing.T) {
		f := createTempFile(t, "flags:\n  - name: a\n    enabled: true\n  - name: a\n    enabled: false\n")
		_, err := Load(f)
		require.Error(t, err)
		require.ErrorIs(t, err, ErrInvalid)
		assert.Contains(t, err.Error(), "duplicate flag")
	})
}

func TestNew_EmptyPath(t *testing.T) {
	assert.Nil(t, New("", nil, nil))
	var r *Registry
	require.Error(t, r.Sync(context.Background()))
	require.Error(t, r.StartWatcher(context.Background()))
}

func TestRegistry_Sync(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	r := New(filepath.Join("testdata", "valid.yml"), st, st)
	require.NotNil(t, r)
	assert.True(t, r.LastSync().IsZero())

	require.NoError(t, r.Sync(ctx))
	assert.False(t, r.LastSync().IsZero())

	rec, err := st.GetResourcePolicy(ctx, "invoices")
	require.NoError(t, err)
	assert.Equal(t, store.PolicyRecord{Resource: "invoices", AuthProfile: "JWT_AND_APIKEY", RequireHMAC: true,
		IPAllowlist: []string{"10.0.0.0/8", "192.168.1.7"}}, rec)

	rec, err = st.GetResourcePolicy(ctx, "public")
	require.NoError(t, err)
	assert.Equal(t, store.PolicyRecord{Resource: "public"}, rec)

	val, err := st.GetFlag(ctx, "scoped_auth")
	require.NoError(t, err)
	assert.True(t, val)

	t.Run("sync is upsert only", func(t *testing.T) {
		require.NoError(t, st.SetPolicy(ctx, store.PolicyRecord{Resource: "manual", AuthProfile: "JWT_ONLY"}))
		require.NoError(t, r.Sync(ctx))
		_, err := st.GetResourcePolicy(ctx, "manual")
		require.NoError(t, err, "resources not in the file are kept")
	})

	t.Run("invalid file keeps store state", func(t *testing.T) {
		bad := New(filepath.Join("testdata", "invalid_profile.yml"), st, st)
		require.Error(t, bad.Sync(ctx))
		rec, err := st.GetResourcePolicy(ctx, "invoices")
		require.NoError(t, err)
		assert.Equal(t, "JWT_AND_APIKEY", rec.AuthProfile)
	})
}

func TestRegistry_SyncThroughCache(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	cached, err := store.NewCachedRegistry(st, 100, time.Hour)
	require.NoError(t, err)
	defer cached.Close()

	require.NoError(t, st.SetPolicy(ctx, store.PolicyRecord{Resource: "invoices", AuthProfile: "EITHER"}))
	rec, err := cached.GetResourcePolicy(ctx, "invoices")
	require.NoError(t, err)
	assert.Equal(t, "EITHER", rec.AuthProfile)

	require.NoError(t, New(filepath.Join("testdata", "valid.yml"), cached, st).Sync(ctx))
	rec, err = cached.GetResourcePolicy(ctx, "invoices")
	require.NoError(t, err)
	assert.Equal(t, "JWT_AND_APIKEY", rec.AuthProfile, "cache entry invalidated by sync")
}

func TestRegistry_StartWatcher(t *testing.T) {
	ctx := t.Context()
	st := newTestStore(t)
	f := createTempFile(t, "resources:\n  - name: invoices\n    auth_profile: EITHER\n")
	r := New(f, st, st)
	require.NoError(t, r.Sync(ctx))
	require.NoError(t, r.StartWatcher(ctx))

	require.NoError(t, os.WriteFile(f, []byte("resources:\n  - name: invoices\n    auth_profile: JWT_ONLY\n"), 0o600))
	require.Eventually(t, func() bool {
		rec, err := st.GetResourcePolicy(context.Background(), "invoices")
		return err == nil && rec.AuthProfile == "JWT_ONLY"
	}, 2*time.Second, 10*time.Millisecond, "policy should change after file update")
}

func TestRegistry_StartWatcher_AtomicRename(t *testing.T) {
	ctx := t.Context()
	st := newTestStore(t)
	f := createTempFile(t, "flags:\n  - name: scoped_auth\n    enabled: false\n")
	r := New(f, st, st)
	require.NoError(t, r.Sync(ctx))
	require.NoError(t, r.StartWatcher(ctx))

	tmp := filepath.Join(filepath.Dir(f), "gatekeeper.yml.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("flags:\n  - name: scoped_auth\n    enabled: true\n"), 0o600))
	require.NoError(t, os.Rename(tmp, f))

	require.Eventually(t, func() bool {
		val, err := st.GetFlag(context.Background(), "scoped_auth")
		return err == nil && val
	}, 2*time.Second, 10*time.Millisecond, "flag should change after atomic rename")
}

func TestRegistry_StartWatcher_InvalidChangeIgnored(t *testing.T) {
	ctx := t.Context()
	st := newTestStore(t)
	f := createTempFile(t, "resources:\n  - name: invoices\n    auth_profile: EITHER\n")
	r := New(f, st, st)
	require.NoError(t, r.Sync(ctx))
	synced := r.LastSync()
	require.NoError(t, r.StartWatcher(ctx))

	require.NoError(t, os.WriteFile(f, []byte("resources:\n  - name: invoices\n    auth_profile: NOPE\n"), 0o600))
	time.Sleep(300 * time.Millisecond)

	rec, err := st.GetResourcePolicy(context.Background(), "invoices")
	require.NoError(t, err)
	assert.Equal(t, "EITHER", rec.AuthProfile)
	assert.Equal(t, synced, r.LastSync())
}

func TestRegistry_StartWatcher_MissingDir(t *testing.T) {
	r := New("/nonexistent/dir/gatekeeper.yml", nil, nil)
	require.Error(t, r.StartWatcher(t.Context()))
}
