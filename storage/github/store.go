// Package github serves corpus items from a path inside a GitHub repository.
//
// Listing walks the repository tree at a ref; an item's modification time is
// the date of the last commit that touched it. Requests go through a rate
// limit aware transport that waits out primary and secondary limits.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	"github.com/google/go-github/v81/github"
	"github.com/poiesic/kbpipe/core"
	"github.com/poiesic/kbpipe/storage"
)

// DefaultRef is used when no ref is configured.
const DefaultRef = "main"

// Config locates the corpus inside a repository.
type Config struct {
	Owner string
	Repo  string
	Ref   string
	Path  string // Directory inside the repository; item IDs are relative to it
	Token string
}

// Store is a read-only storage.ObjectStore over a repository directory.
type Store struct {
	client *github.Client
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	modified map[string]time.Time // Keyed by blob SHA
}

var _ storage.ObjectStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store) error

// WithBaseURL points the client at a GitHub Enterprise or test server.
func WithBaseURL(raw string) Option {
	return func(s *Store) error {
		if !strings.HasSuffix(raw, "/") {
			raw += "/"
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("parse base url: %w", err)
		}
		s.client.BaseURL = u
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		s.logger = logger.With("component", "github-store")
		return nil
	}
}

// New creates a Store. An empty token uses unauthenticated requests.
func New(cfg Config, opts ...Option) (*Store, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("%w: github owner and repo are required", core.ErrConfiguration)
	}
	if cfg.Ref == "" {
		cfg.Ref = DefaultRef
	}
	cfg.Path = strings.Trim(cfg.Path, "/")

	rateLimited, err := github_ratelimit.NewRateLimitWaiterClient(nil)
	if err != nil {
		return nil, err
	}
	client := github.NewClient(rateLimited)
	if cfg.Token != "" {
		client = client.WithAuthToken(cfg.Token)
	}

	s := &Store{
		client:   client,
		cfg:      cfg,
		logger:   slog.Default().With("component", "github-store"),
		modified: make(map[string]time.Time),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// List returns supported files under prefix, after the cursor.
func (s *Store) List(ctx context.Context, prefix string, after core.Cursor) ([]*core.CorpusItem, error) {
	tree, _, err := s.client.Git.GetTree(ctx, s.cfg.Owner, s.cfg.Repo, s.cfg.Ref, true)
	if err != nil {
		return nil, classify(fmt.Errorf("get tree %s/%s@%s: %w", s.cfg.Owner, s.cfg.Repo, s.cfg.Ref, err))
	}
	if tree.GetTruncated() {
		s.logger.Warn("repository tree truncated, some items will not be listed", "repo", s.cfg.Repo)
	}

	var items []*core.CorpusItem
	for _, entry := range tree.Entries {
		if entry.GetType() != "blob" {
			continue
		}
		id, ok := s.itemID(entry.GetPath())
		if !ok || !strings.HasPrefix(id, prefix) {
			continue
		}
		contentType, mimeType, ok := core.ContentTypeFromName(id)
		if !ok {
			continue
		}
		modified, err := s.lastModified(ctx, entry)
		if err != nil {
			return nil, err
		}
		items = append(items, &core.CorpusItem{
			ID:          id,
			Source:      s.htmlURL(entry.GetPath()),
			ContentType: contentType,
			MimeType:    mimeType,
			ModifiedAt:  modified,
			Size:        int64(entry.GetSize()),
		})
	}
	return storage.SortItemsAfter(items, after), nil
}

// Fetch returns the decoded content of an item.
func (s *Store) Fetch(ctx context.Context, id string) ([]byte, error) {
	full := s.repoPath(id)
	file, _, _, err := s.client.Repositories.GetContents(ctx, s.cfg.Owner, s.cfg.Repo, full, &github.RepositoryContentGetOptions{Ref: s.cfg.Ref})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
		}
		return nil, classify(fmt.Errorf("get content of %s: %w", full, err))
	}
	if file == nil {
		return nil, fmt.Errorf("%w: %s is a directory", storage.ErrNotFound, id)
	}
	content, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decode content of %s: %w", full, err)
	}
	return []byte(content), nil
}

func (s *Store) lastModified(ctx context.Context, entry *github.TreeEntry) (time.Time, error) {
	s.mu.Lock()
	t, ok := s.modified[entry.GetSHA()]
	s.mu.Unlock()
	if ok {
		return t, nil
	}

	commits, _, err := s.client.Repositories.ListCommits(ctx, s.cfg.Owner, s.cfg.Repo, &github.CommitsListOptions{
		SHA:         s.cfg.Ref,
		Path:        entry.GetPath(),
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err != nil {
		return time.Time{}, classify(fmt.Errorf("list commits of %s: %w", entry.GetPath(), err))
	}
	if len(commits) == 0 {
		return time.Time{}, fmt.Errorf("no commits found for %s", entry.GetPath())
	}
	t = commits[0].GetCommit().GetCommitter().GetDate().UTC()

	s.mu.Lock()
	s.modified[entry.GetSHA()] = t
	s.mu.Unlock()
	return t, nil
}

func (s *Store) itemID(repoPath string) (string, bool) {
	if s.cfg.Path == "" {
		return repoPath, true
	}
	rest, ok := strings.CutPrefix(repoPath, s.cfg.Path+"/")
	return rest, ok
}

func (s *Store) repoPath(id string) string {
	if s.cfg.Path == "" {
		return id
	}
	return s.cfg.Path + "/" + id
}

func (s *Store) htmlURL(repoPath string) string {
	return fmt.Sprintf("https://github.com/%s/%s/blob/%s/%s", s.cfg.Owner, s.cfg.Repo, s.cfg.Ref, repoPath)
}

func isNotFound(err error) bool {
	var ghErr *github.ErrorResponse
	return errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound
}

// classify marks throttling and server errors transient.
func classify(err error) error {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		if core.ClassifyHTTPStatus(ghErr.Response.StatusCode) == core.ErrorClassTransient {
			return core.Transient(err)
		}
		return core.Permanent(err)
	}
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return core.Transient(err)
	}
	return err
}
