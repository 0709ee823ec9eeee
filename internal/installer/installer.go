// Package installer installs extension packs from git sources inside a
// safety-net transaction, and queues model artifacts for the fetch engine.
package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/dsustudio/comfykit/internal/fetch"
	"github.com/dsustudio/comfykit/internal/resolve"
	"github.com/dsustudio/comfykit/internal/safetynet"
	"github.com/dsustudio/comfykit/internal/workflow"
)

// manifestName is the dependency manifest an extension may declare.
const manifestName = "requirements.txt"

// Installer drives installation of pending resolutions: extensions through
// the safety net, models through the fetch engine.
type Installer struct {
	CustomNodesDir string
	ModelsDir      string
	Net            *safetynet.Net
	Engine         *fetch.Engine
	// Clone overrides the git clone step (testing). Nil means cloneShallow.
	Clone func(ctx context.Context, url, target string) error
}

// ItemResult is one line of a batch outcome. Batches never short-circuit;
// every item gets a result.
type ItemResult struct {
	Identifier string
	Kind       workflow.Kind
	Err        error
	// Conflict marks a rolled-back package conflict: surfaced, not fatal.
	Conflict bool
}

// InstallAll installs every pending resolution and returns one result per
// item, continuing past individual failures. The only error returned is the
// fatal revert-failure case, which must halt further mutation.
func (in *Installer) InstallAll(ctx context.Context, resolutions []resolve.Resolution) ([]ItemResult, error) {
	var results []ItemResult
	for _, res := range resolutions {
		if res.Status != resolve.StatusPending {
			continue
		}

		var item ItemResult
		var err error
		switch res.Reference.Kind {
		case workflow.KindExtension:
			item, err = in.installExtension(ctx, res)
		case workflow.KindModel:
			item = in.installModel(ctx, res)
		}
		results = append(results, item)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// installExtension clones the source and installs its manifest inside one
// transaction. A conflict or failed clone rolls back; the partial checkout
// is removed on the revert path.
func (in *Installer) installExtension(ctx context.Context, res resolve.Resolution) (ItemResult, error) {
	item := ItemResult{Identifier: res.Reference.Identifier, Kind: workflow.KindExtension}

	name := resolve.RepoNameFromURL(res.SourceURL)
	if name == "" {
		item.Err = fmt.Errorf("cannot derive checkout name from %q", res.SourceURL)
		return item, nil
	}
	target := filepath.Join(in.CustomNodesDir, name)

	txRes, err := in.Net.Run(ctx, safetynet.Operation{
		Name: res.Reference.Identifier,
		Mutate: func(ctx context.Context) error {
			clone := in.Clone
			if clone == nil {
				clone = cloneShallow
			}
			if err := clone(ctx, res.SourceURL, target); err != nil {
				return err
			}
			manifest := filepath.Join(target, manifestName)
			if st, err := os.Stat(manifest); err == nil && st.Size() > 0 {
				return in.Net.Manager().Install(ctx, manifest)
			}
			return nil
		},
		Cleanup: func() {
			os.RemoveAll(target)
		},
	})
	if err != nil {
		if errors.Is(err, safetynet.ErrRevertFailed) {
			item.Err = err
			return item, err
		}
		item.Err = err
		return item, nil
	}
	if !txRes.Committed() {
		item.Err = txRes.Err
		item.Conflict = errors.Is(txRes.Err, safetynet.ErrConflict)
	}
	return item, nil
}

// installModel downloads the artifact into the models tree. The registry
// folder hint selects the subdirectory; unhinted models land in checkpoints.
func (in *Installer) installModel(ctx context.Context, res resolve.Resolution) ItemResult {
	item := ItemResult{Identifier: res.Reference.Identifier, Kind: workflow.KindModel}

	folder := res.Folder
	if folder == "" {
		folder = "checkpoints"
	}
	// A fallback match downloads the variant that actually exists; saving
	// it under the requested name would misdescribe the file contents.
	name := res.Reference.Identifier
	if res.MatchedName != "" {
		name = res.MatchedName
	}
	dest := filepath.Join(in.ModelsDir, folder, name)
	if _, err := os.Stat(dest); err == nil {
		return item // already present; resolver raced a concurrent install
	}

	job := fetch.NewJob(name, res.SourceURL, dest)
	item.Err = in.Engine.Download(ctx, job)
	return item
}

// cloneShallow performs a depth-1 clone, matching how extension packs are
// distributed: HEAD of the default branch, no history.
func cloneShallow(ctx context.Context, url, target string) error {
	if _, err := os.Stat(target); err == nil {
		return fmt.Errorf("target %s already exists", target)
	}
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", url, target)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git clone %s: %w\n%s", url, err, string(out))
	}
	return nil
}
