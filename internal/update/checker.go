// Package update compares installed extension revisions against their
// upstream sources and drives bulk updates through the safety net.
package update

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	gocache "github.com/patrickmn/go-cache"

	"github.com/dsustudio/comfykit/internal/registry"
	"github.com/dsustudio/comfykit/internal/resolve"
	"github.com/dsustudio/comfykit/internal/safetynet"
)

// Status classifies one installed extension against upstream.
type Status int

const (
	// StatusCurrent: local and upstream revision markers agree.
	StatusCurrent Status = iota
	// StatusUpdatable: upstream has moved past the local marker.
	StatusUpdatable
	// StatusUnknownSource: no registry source maps to this checkout, so
	// there is nothing to compare against.
	StatusUnknownSource
)

func (s Status) String() string {
	switch s {
	case StatusCurrent:
		return "current"
	case StatusUpdatable:
		return "updatable"
	case StatusUnknownSource:
		return "unknown-source"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Item is the per-extension check outcome.
type Item struct {
	Name   string // checkout directory name
	Dir    string
	Source string
	Local  string
	Remote string
	Status Status
	Err    error
}

// Checker reads revision markers. Remote lookups are cached with a TTL so
// a check-then-update sequence does not hammer the upstream.
type Checker struct {
	customNodesDir string
	store          registry.Store
	cache          *gocache.Cache

	// localRev and remoteRev are swappable for tests.
	localRev  func(dir string) (string, error)
	remoteRev func(ctx context.Context, source string) (string, error)
}

// Option configures a Checker.
type Option func(*Checker)

// WithCacheTTL overrides the remote-revision cache TTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Checker) { c.cache = gocache.New(ttl, 2*ttl) }
}

// WithRevisionFuncs substitutes the git lookups (testing).
func WithRevisionFuncs(local func(string) (string, error), remote func(context.Context, string) (string, error)) Option {
	return func(c *Checker) {
		c.localRev = local
		c.remoteRev = remote
	}
}

// NewChecker builds a checker over the given install tree and store.
func NewChecker(customNodesDir string, store registry.Store, opts ...Option) *Checker {
	c := &Checker{
		customNodesDir: customNodesDir,
		store:          store,
		cache:          gocache.New(15*time.Minute, 30*time.Minute),
		localRev:       gitLocalHead,
		remoteRev:      gitRemoteHead,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check classifies every installed extension. It never fetches anything
// into the working tree; lookups are read-only.
func (c *Checker) Check(ctx context.Context) ([]Item, error) {
	entries, err := os.ReadDir(c.customNodesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", c.customNodesDir, err)
	}

	sources := c.sourcesByCheckout()

	var items []Item
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		items = append(items, c.checkOne(ctx, e.Name(), sources[e.Name()]))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func (c *Checker) checkOne(ctx context.Context, name, source string) Item {
	item := Item{Name: name, Dir: filepath.Join(c.customNodesDir, name), Source: source}
	if source == "" {
		item.Status = StatusUnknownSource
		return item
	}

	local, err := c.localRev(item.Dir)
	if err != nil {
		item.Err = fmt.Errorf("local revision: %w", err)
		item.Status = StatusUnknownSource
		return item
	}
	item.Local = local

	remote, err := c.cachedRemoteRev(ctx, source)
	if err != nil {
		item.Err = fmt.Errorf("upstream revision: %w", err)
		item.Status = StatusUnknownSource
		return item
	}
	item.Remote = remote

	if revisionsDiffer(local, remote) {
		item.Status = StatusUpdatable
	} else {
		item.Status = StatusCurrent
	}
	return item
}

func (c *Checker) cachedRemoteRev(ctx context.Context, source string) (string, error) {
	if v, ok := c.cache.Get(source); ok {
		return v.(string), nil
	}
	rev, err := c.remoteRev(ctx, source)
	if err != nil {
		return "", err
	}
	c.cache.SetDefault(source, rev)
	return rev, nil
}

// sourcesByCheckout maps checkout directory names to registry sources.
func (c *Checker) sourcesByCheckout() map[string]string {
	out := make(map[string]string)
	for _, e := range c.store.Entries() {
		if e.Kind != registry.KindExtension {
			continue
		}
		src := e.PreferredSource()
		name := e.Folder
		if name == "" {
			name = resolve.RepoNameFromURL(src)
		}
		if name != "" {
			out[name] = src
		}
	}
	return out
}

// revisionsDiffer compares two revision markers: semantic versions when
// both parse as such, exact strings otherwise.
func revisionsDiffer(local, remote string) bool {
	lv, lerr := semver.NewVersion(strings.TrimPrefix(local, "v"))
	rv, rerr := semver.NewVersion(strings.TrimPrefix(remote, "v"))
	if lerr == nil && rerr == nil {
		return rv.GreaterThan(lv)
	}
	return local != remote
}

// git operations behind vars so tests can run UpdateAll without checkouts.
var (
	localHead = gitLocalHead
	pullFF    = gitPull
	resetHard = gitReset
)

// UpdateAll pulls every updatable item inside its own safety-net
// transaction, continuing past failures. Only a failed revert stops the
// batch, returning the fatal error alongside the results so far. A rolled
// back item also has its checkout reset to the pre-pull revision, so the
// working tree never runs ahead of a reverted package set.
func UpdateAll(ctx context.Context, net *safetynet.Net, items []Item) ([]safetynet.Result, error) {
	var results []safetynet.Result
	for _, item := range items {
		if item.Status != StatusUpdatable {
			continue
		}

		dir := item.Dir
		var preHead string
		res, err := net.Run(ctx, safetynet.Operation{
			Name: item.Name,
			Mutate: func(ctx context.Context) error {
				head, err := localHead(dir)
				if err != nil {
					return fmt.Errorf("recording pre-pull revision: %w", err)
				}
				preHead = head
				if err := pullFF(ctx, dir); err != nil {
					return err
				}
				manifest := filepath.Join(dir, "requirements.txt")
				if st, err := os.Stat(manifest); err == nil && st.Size() > 0 {
					return net.Manager().Install(ctx, manifest)
				}
				return nil
			},
			Cleanup: func() {
				if preHead != "" {
					resetHard(context.WithoutCancel(ctx), dir, preHead)
				}
			},
		})
		if err != nil {
			if res != nil {
				results = append(results, *res)
			}
			return results, err
		}
		results = append(results, *res)
	}
	return results, nil
}

func gitLocalHead(dir string) (string, error) {
	out, err := git(context.Background(), "-C", dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func gitRemoteHead(ctx context.Context, source string) (string, error) {
	out, err := git(ctx, "ls-remote", source, "HEAD")
	if err != nil {
		return "", err
	}
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return "", fmt.Errorf("no HEAD advertised by %s", source)
	}
	return fields[0], nil
}

func gitPull(ctx context.Context, dir string) error {
	if _, err := git(ctx, "-C", dir, "pull", "--ff-only"); err != nil {
		return fmt.Errorf("git pull in %s: %w", dir, err)
	}
	return nil
}

func gitReset(ctx context.Context, dir, rev string) error {
	if _, err := git(ctx, "-C", dir, "reset", "--hard", rev); err != nil {
		return fmt.Errorf("git reset in %s: %w", dir, err)
	}
	return nil
}

func git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(buf.String()))
	}
	return buf.String(), nil
}
