package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	apperrors "github.com/chain-registry/internal/errors"
	"github.com/chain-registry/internal/logging"
	"github.com/chain-registry/internal/retry"
	"github.com/chain-registry/internal/types"
)

// TestnetsDir is the registry subdirectory holding testnet chains
const TestnetsDir = "testnets"

// ChainDir is one discovered chain directory
type ChainDir struct {
	Name    string
	Network types.Network
	Path    string
}

// Checkout is a shallow working tree of the registry at a resolved commit
type Checkout struct {
	Dir      string
	Commit   string
	Mainnets []ChainDir
	Testnets []ChainDir
	// Owned is true when Fetch created Dir
	Owned bool
}

// Chains returns mainnet chains followed by testnet chains
func (c *Checkout) Chains() []ChainDir {
	out := make([]ChainDir, 0, len(c.Mainnets)+len(c.Testnets))
	out = append(out, c.Mainnets...)
	return append(out, c.Testnets...)
}

// Remove deletes the working tree. A directory the caller supplied is
// emptied but kept.
func (c *Checkout) Remove() error {
	if c.Dir == "" {
		return nil
	}
	remove := os.RemoveAll
	if !c.Owned {
		remove = emptyDir
	}
	if err := remove(c.Dir); err != nil {
		return fmt.Errorf("failed to remove checkout %s: %w", c.Dir, err)
	}
	return nil
}

// GitSource fetches the registry with the git command line client
type GitSource struct {
	gitPath string
	retry   *retry.RetryConfig
}

// NewGitSource creates a git source that retries a failed clone up to attempts times
func NewGitSource(attempts int) *GitSource {
	cfg := retry.DefaultRetryConfig()
	if attempts > 0 {
		cfg.MaxAttempts = attempts
	}
	return &GitSource{gitPath: "git", retry: cfg}
}

// WithRetryConfig replaces the clone retry policy
func (s *GitSource) WithRetryConfig(cfg *retry.RetryConfig) *GitSource {
	s.retry = cfg
	return s
}

// Fetch shallow-clones remote at ref into dir (a new temp dir when dir is
// empty), resolves the checked out commit and discovers chain directories.
// Nothing is left on disk when Fetch fails.
func (s *GitSource) Fetch(ctx context.Context, remote, ref, dir string) (*Checkout, error) {
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"remote": remote,
		"ref":    ref,
	})

	owned, err := prepareDir(&dir)
	if err != nil {
		return nil, apperrors.NewSourceError(remote, ref, err)
	}
	// only what this call created is ever deleted
	discard := func() {
		_ = (&Checkout{Dir: dir, Owned: owned}).Remove()
	}

	err = retry.Do(ctx, s.retry, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			// git refuses to clone into a non-empty directory
			if err := emptyDir(dir); err != nil {
				return retry.Permanent(err)
			}
		}
		err := s.clone(ctx, remote, ref, dir)
		if errors.Is(err, exec.ErrNotFound) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		discard()
		return nil, apperrors.NewSourceError(remote, ref, err)
	}

	commit, err := s.resolveCommit(ctx, dir)
	if err != nil {
		discard()
		return nil, apperrors.NewSourceError(remote, ref, err)
	}

	mainnets, testnets, err := DiscoverChains(dir)
	if err != nil {
		discard()
		return nil, apperrors.NewSourceError(remote, ref, err)
	}

	logger.WithFields(map[string]interface{}{
		"commit":   commit,
		"dir":      dir,
		"mainnets": len(mainnets),
		"testnets": len(testnets),
	}).Info("Fetched chain registry")

	return &Checkout{
		Dir:      dir,
		Commit:   commit,
		Mainnets: mainnets,
		Testnets: testnets,
		Owned:    owned,
	}, nil
}

// prepareDir picks a temp dir when *dir is empty and rejects a non-empty
// target. owned is true when the directory did not exist before.
func prepareDir(dir *string) (owned bool, err error) {
	if *dir == "" {
		tmp, err := os.MkdirTemp("", "chain-registry-*")
		if err != nil {
			return false, err
		}
		*dir = tmp
		return true, nil
	}

	entries, err := os.ReadDir(*dir)
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if len(entries) > 0 {
		return false, fmt.Errorf("clone target %s is not empty", *dir)
	}
	return false, nil
}

func emptyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (s *GitSource) clone(ctx context.Context, remote, ref, dir string) error {
	_, err := s.git(ctx, "", "clone", "--depth", "1", "--branch", ref, remote, dir)
	return err
}

func (s *GitSource) resolveCommit(ctx context.Context, dir string) (string, error) {
	out, err := s.git(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	commit := strings.TrimSpace(out)
	if !IsHexCommit(commit) {
		return "", fmt.Errorf("git rev-parse returned a non-hex commit %q", commit)
	}
	return commit, nil
}

func (s *GitSource) git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, s.gitPath, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	// never block on a credential prompt
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// IsHexCommit reports whether s is a non-empty lowercase or uppercase hex string
func IsHexCommit(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// DiscoverChains lists mainnet chain directories at the registry root and
// testnet chain directories under testnets/. Names starting with "_" or "."
// are skipped; the result is sorted by name.
func DiscoverChains(root string) (mainnets, testnets []ChainDir, err error) {
	mainnets, err = listChainDirs(root, types.NetworkMainnet, TestnetsDir)
	if err != nil {
		return nil, nil, err
	}

	testnets, err = listChainDirs(filepath.Join(root, TestnetsDir), types.NetworkTestnet, "")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return mainnets, nil, nil
		}
		return nil, nil, err
	}

	return mainnets, testnets, nil
}

func listChainDirs(dir string, network types.Network, exclude string) ([]ChainDir, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var out []ChainDir
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
			continue
		}
		if exclude != "" && name == exclude {
			continue
		}
		out = append(out, ChainDir{
			Name:    name,
			Network: network,
			Path:    filepath.Join(dir, name),
		})
	}
	// os.ReadDir already sorts by file name
	return out, nil
}
