package auth

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestAllowlist_IsAuthorised(t *testing.T) {
	a := NewAllowlist("Mike", " Anna ", "")
	ctx := context.Background()

	assert.True(t, a.IsAuthorised(ctx, "Mike"))
	assert.True(t, a.IsAuthorised(ctx, "Anna"))
	assert.True(t, a.IsAuthorised(ctx, " Mike "))
	assert.False(t, a.IsAuthorised(ctx, "mike"))
	assert.False(t, a.IsAuthorised(ctx, ""))
	assert.False(t, a.IsAuthorised(ctx, "   "))
	assert.Equal(t, []string{"Anna", "Mike"}, a.Names())
}

func TestAllowlist_Replace(t *testing.T) {
	a := NewAllowlist("Mike")
	a.Replace([]string{"Eve"})

	assert.False(t, a.IsAuthorised(context.Background(), "Mike"))
	assert.True(t, a.IsAuthorised(context.Background(), "Eve"))
}

func writeList(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allow.yaml")
	writeList(t, path, "requestors:\n  - Mike\n  - Anna\n")

	names, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Mike", "Anna"}, names)
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	writeList(t, path, "requestors: [unterminated\n")
	_, err = LoadFile(path)
	assert.Error(t, err)
}

func TestWatch_Reloads(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "allow.yaml")
	writeList(t, path, "requestors: [Mike]\n")
	list := NewAllowlist("Mike")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, list, zap.NewNop()) }()

	// Give the watcher time to register before writing.
	time.Sleep(50 * time.Millisecond)
	writeList(t, path, "requestors: [Anna]\n")

	require.Eventually(t, func() bool {
		return list.IsAuthorised(context.Background(), "Anna")
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, list.IsAuthorised(context.Background(), "Mike"))

	cancel()
	require.NoError(t, <-done)
}

func TestWatch_ReloadsAfterAtomicSave(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "allow.yaml")
	writeList(t, path, "requestors: [Mike]\n")
	list := NewAllowlist("Mike")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, list, zap.NewNop()) }()
	time.Sleep(50 * time.Millisecond)

	saveAtomically := func(body string) {
		tmp := filepath.Join(dir, ".allow.yaml.tmp")
		writeList(t, tmp, body)
		require.NoError(t, os.Rename(tmp, path))
	}

	saveAtomically("requestors: [Anna]\n")
	require.Eventually(t, func() bool {
		return list.IsAuthorised(context.Background(), "Anna")
	}, 2*time.Second, 10*time.Millisecond)

	// A second rename save must still be seen.
	saveAtomically("requestors: [Zoe]\n")
	require.Eventually(t, func() bool {
		return list.IsAuthorised(context.Background(), "Zoe")
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, list.IsAuthorised(context.Background(), "Anna"))

	cancel()
	require.NoError(t, <-done)
}

func TestWatch_IgnoresSiblingFiles(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "allow.yaml")
	writeList(t, path, "requestors: [Mike]\n")
	list := NewAllowlist("Mike")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, list, zap.NewNop()) }()
	time.Sleep(50 * time.Millisecond)

	writeList(t, filepath.Join(dir, "other.yaml"), "requestors: [Eve]\n")
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, []string{"Mike"}, list.Names())

	cancel()
	require.NoError(t, <-done)
}

func TestWatch_MissingFile(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"), NewAllowlist(), zap.NewNop())
	assert.Error(t, err)
}

func TestReload_InvalidKeepsPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allow.yaml")
	writeList(t, path, "requestors: [oops\n")
	list := NewAllowlist("Anna")

	assert.False(t, reload(path, list, zap.NewNop()))
	assert.True(t, list.IsAuthorised(context.Background(), "Anna"))

	writeList(t, path, "requestors: [Mike]\n")
	assert.True(t, reload(path, list, zap.NewNop()))
	assert.Equal(t, []string{"Mike"}, list.Names())
}

func TestLoadFile_ShippedExample(t *testing.T) {
	names, err := LoadFile(filepath.Join("..", "..", "configs", "allowlist.example.yaml"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Mike", "Anna"}, names)
}
