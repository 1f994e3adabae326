// Package git wraps go-git for the release pipeline: opening or cloning the
// released repository, refreshing its tags from the remote, and resolving
// the exact tag gating a release.
package git

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/go-git/go-git/v5"
	gitcfg "github.com/go-git/go-git/v5/config"

	appcfg "git.home.luguber.info/inful/relbuilder/internal/config"
	"git.home.luguber.info/inful/relbuilder/internal/logfields"
	"git.home.luguber.info/inful/relbuilder/internal/retry"
)

// Client handles Git operations for a single repository.
type Client struct {
	remote  string
	authCfg *appcfg.AuthConfig
	policy  retry.Policy
}

// NewClient creates a new Git client for the configured remote/auth pair.
func NewClient(repoCfg appcfg.RepositoryConfig, policy retry.Policy) *Client {
	remote := repoCfg.Remote
	if remote == "" {
		remote = "origin"
	}
	return &Client{remote: remote, authCfg: repoCfg.Auth, policy: policy}
}

// Open opens an existing local repository.
func Open(path string) (*git.Repository, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", path, err)
	}
	return repo, nil
}

// Clone clones the repository into dir, replacing any stale checkout.
// Transient remote failures are retried per the client's policy.
func (c *Client) Clone(ctx context.Context, url, dir string) (*git.Repository, error) {
	auth, err := CreateAuth(c.authCfg)
	if err != nil {
		return nil, fmt.Errorf("setup authentication: %w", err)
	}

	var repo *git.Repository
	err = retry.Do(ctx, c.policy, "clone", retryableRemoteError, func() error {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove existing directory: %w", err)
		}
		slog.Debug("Cloning repository", logfields.URL(url), logfields.Path(dir))
		r, cloneErr := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
			URL:  url,
			Auth: auth,
			Tags: git.AllTags,
		})
		if cloneErr != nil {
			return classifyRemoteError("clone", url, cloneErr)
		}
		repo = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	if ref, herr := repo.Head(); herr == nil {
		slog.Info("Repository cloned", logfields.URL(url), slog.String("commit", ref.Hash().String()[:8]), logfields.Path(dir))
	}
	return repo, nil
}

// FetchTags refreshes tag refs from the remote. This is the pipeline's
// "update" task: a no-op result ("already up-to-date") is success.
func (c *Client) FetchTags(ctx context.Context, repo *git.Repository) error {
	auth, err := CreateAuth(c.authCfg)
	if err != nil {
		return fmt.Errorf("setup authentication: %w", err)
	}

	remote, err := repo.Remote(c.remote)
	if err != nil {
		// A purely local repository has no remote to refresh from.
		slog.Debug("No remote configured, skipping tag fetch", slog.String("remote", c.remote))
		return nil
	}

	url := ""
	if cfg := remote.Config(); len(cfg.URLs) > 0 {
		url = cfg.URLs[0]
	}

	return retry.Do(ctx, c.policy, "fetch-tags", retryableRemoteError, func() error {
		err := remote.FetchContext(ctx, &git.FetchOptions{
			RefSpecs: []gitcfg.RefSpec{"+refs/tags/*:refs/tags/*"},
			Auth:     auth,
			Tags:     git.AllTags,
			Force:    true,
		})
		if err == nil || err == git.NoErrAlreadyUpToDate {
			return nil
		}
		return classifyRemoteError("fetch", url, err)
	})
}

// classifyRemoteError wraps underlying go-git errors into typed failures.
func classifyRemoteError(op, url string, err error) error {
	l := strings.ToLower(err.Error())
	switch {
	case strings.Contains(l, "authentication") || strings.Contains(l, "auth fail") || strings.Contains(l, "invalid username or password"):
		return &AuthError{Op: op, URL: url, Err: err}
	case strings.Contains(l, "not found") || strings.Contains(l, "repository does not exist"):
		return &NotFoundError{Op: op, URL: url, Err: err}
	case strings.Contains(l, "unsupported protocol") || strings.Contains(l, "protocol not supported"):
		return &UnsupportedProtocolError{Op: op, URL: url, Err: err}
	case strings.Contains(l, "rate limit") || strings.Contains(l, "too many requests"):
		return &RateLimitError{Op: op, URL: url, Err: err}
	case strings.Contains(l, "timeout") || strings.Contains(l, "i/o timeout"):
		return &NetworkTimeoutError{Op: op, URL: url, Err: err}
	}
	return fmt.Errorf("%s %s: %w", op, url, err)
}
