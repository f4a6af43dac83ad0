package adapter

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/chain-registry/internal/errors"
	"github.com/chain-registry/internal/retry"
	"github.com/chain-registry/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsHexCommit(t *testing.T) {
	assert.True(t, IsHexCommit("0123456789abcdefABCDEF"))
	assert.False(t, IsHexCommit(""))
	assert.False(t, IsHexCommit("abc123g"))
	assert.False(t, IsHexCommit("abc 123"))
}

func TestDiscoverChains(t *testing.T) {
	root := t.TempDir()
	for _, dir := range []string{
		"osmosis", "cosmoshub", "_IBC", ".github", "_template",
		"testnets/theta", "testnets/_IBC", "testnets/.hidden", "testnets/osmosistestnet",
	} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("# registry"), 0o644))

	mainnets, testnets, err := DiscoverChains(root)
	require.NoError(t, err)

	names := func(dirs []ChainDir) []string {
		var out []string
		for _, d := range dirs {
			out = append(out, d.Name)
		}
		return out
	}
	assert.Equal(t, []string{"cosmoshub", "osmosis"}, names(mainnets))
	assert.Equal(t, []string{"osmosistestnet", "theta"}, names(testnets))
	assert.Equal(t, types.NetworkTestnet, testnets[0].Network)
	assert.Equal(t, filepath.Join(root, "testnets", "theta"), testnets[1].Path)
}

func TestDiscoverChains_NoTestnets(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "cosmoshub"), 0o755))

	mainnets, testnets, err := DiscoverChains(root)
	require.NoError(t, err)
	assert.Len(t, mainnets, 1)
	assert.Empty(t, testnets)
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("Skipping test - git not installed")
	}
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
	)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
}

// newRegistryRepo creates a local repository shaped like the chain registry
func newRegistryRepo(t *testing.T) string {
	t.Helper()
	src := t.TempDir()
	runGit(t, src, "-c", "init.defaultBranch=master", "init")
	runGit(t, src, "checkout", "-B", "master")

	writeChain(t, src, "cosmoshub", `{"chain_id":"cosmoshub-4"}`, `{"assets":[]}`)
	writeChain(t, filepath.Join(src, "testnets"), "theta", `{"chain_id":"theta-testnet-001"}`, "")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "_IBC"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "_IBC", "a.json"), []byte("{}"), 0o644))

	runGit(t, src, "add", ".")
	runGit(t, src, "commit", "-m", "registry fixture")
	return src
}

func fastSource(attempts int) *GitSource {
	return NewGitSource(attempts).WithRetryConfig(&retry.RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   1,
	})
}

func TestGitSource_Fetch(t *testing.T) {
	requireGit(t)
	src := newRegistryRepo(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	checkout, err := fastSource(1).Fetch(ctx, "file://"+src, "master", "")
	require.NoError(t, err)
	defer func() { _ = checkout.Remove() }()

	assert.Len(t, checkout.Commit, 40)
	assert.True(t, IsHexCommit(checkout.Commit))
	require.Len(t, checkout.Mainnets, 1)
	assert.Equal(t, "cosmoshub", checkout.Mainnets[0].Name)
	require.Len(t, checkout.Testnets, 1)
	assert.Equal(t, "theta", checkout.Testnets[0].Name)
	assert.Len(t, checkout.Chains(), 2)

	require.NoError(t, checkout.Remove())
	_, err = os.Stat(checkout.Dir)
	assert.True(t, os.IsNotExist(err))
}

func TestGitSource_FetchIntoGivenDir(t *testing.T) {
	requireGit(t)
	src := newRegistryRepo(t)
	target := filepath.Join(t.TempDir(), "clone")

	checkout, err := fastSource(1).Fetch(context.Background(), "file://"+src, "master", target)
	require.NoError(t, err)
	assert.Equal(t, target, checkout.Dir)
	assert.True(t, checkout.Owned)
	_, err = os.Stat(filepath.Join(target, "cosmoshub", "chain.json"))
	assert.NoError(t, err)
}

func TestGitSource_RemoveKeepsSuppliedDir(t *testing.T) {
	requireGit(t)
	src := newRegistryRepo(t)
	target := t.TempDir()

	checkout, err := fastSource(1).Fetch(context.Background(), "file://"+src, "master", target)
	require.NoError(t, err)
	assert.False(t, checkout.Owned)

	require.NoError(t, checkout.Remove())
	entries, err := os.ReadDir(target)
	require.NoError(t, err, "a directory the caller supplied must survive")
	assert.Empty(t, entries)
}

func TestGitSource_FetchRejectsNonEmptyDir(t *testing.T) {
	target := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(target, "keep.txt"), []byte("x"), 0o644))

	_, err := fastSource(1).Fetch(context.Background(), "file:///nonexistent", "master", target)
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(target, "keep.txt"))
	assert.NoError(t, statErr, "existing files must never be deleted")
}

func TestGitSource_FetchFailureLeavesNothing(t *testing.T) {
	requireGit(t)
	target := filepath.Join(t.TempDir(), "clone")

	_, err := fastSource(2).Fetch(context.Background(), "file://"+filepath.Join(t.TempDir(), "missing"), "master", target)
	require.Error(t, err)

	catErr := apperrors.Categorize(err)
	assert.Equal(t, apperrors.CategorySource, catErr.Category)
	assert.Contains(t, err.Error(), "after 2 attempts")

	_, statErr := os.Stat(target)
	assert.True(t, os.IsNotExist(statErr))
}

func TestGitSource_FetchUnknownRef(t *testing.T) {
	requireGit(t)
	src := newRegistryRepo(t)

	_, err := fastSource(1).Fetch(context.Background(), "file://"+src, "no-such-branch", "")
	assert.Error(t, err)
}
