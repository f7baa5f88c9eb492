// SPDX-License-Identifier: MPL-2.0

// Package assets retrieves the demo application content into its target
// directory, trying a shallow git clone first, a published archive second,
// and falling back to a usable placeholder so provisioning never dies on
// missing sample content.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/hashicorp/go-getter"

	"firstboot-cli/internal/issue"
)

// Source identifies which retrieval strategy produced the target directory.
type Source string

const (
	SourceExisting    Source = "existing"
	SourceGit         Source = "git"
	SourceArchive     Source = "archive"
	SourcePlaceholder Source = "placeholder"
)

// ErrEmptyResult marks a strategy that technically succeeded but delivered
// no files; it is treated the same as a download failure.
var ErrEmptyResult = errors.New("retrieval produced no files")

type (
	// Settings describes where the assets come from and where they land.
	Settings struct {
		RepoURL    string
		Branch     string
		Subdir     string
		ArchiveURL string
		TargetDir  string
	}

	// CloneFunc clones RepoURL at Branch into dir.
	CloneFunc func(ctx context.Context, dir string) error

	// GetFunc downloads and unpacks src into dst.
	GetFunc func(ctx context.Context, dst, src string) error

	// Option configures a Fetcher.
	Option func(*Fetcher)

	// Fetcher runs the retrieval fallback chain.
	Fetcher struct {
		settings Settings
		logger   *log.Logger
		clone    CloneFunc
		get      GetFunc
	}
)

// WithCloneFunc sets a custom clone function for testing.
func WithCloneFunc(fn CloneFunc) Option {
	return func(f *Fetcher) { f.clone = fn }
}

// WithGetFunc sets a custom archive download function for testing.
func WithGetFunc(fn GetFunc) Option {
	return func(f *Fetcher) { f.get = fn }
}

// NewFetcher creates an asset fetcher.
func NewFetcher(settings Settings, logger *log.Logger, opts ...Option) *Fetcher {
	f := &Fetcher{
		settings: settings,
		logger:   logger,
	}
	f.clone = f.gitClone
	f.get = archiveGet
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch populates the target directory. A target that already has content is
// left untouched, so a rerun never clobbers files an operator may have
// edited. Strategy order is git, archive, placeholder; a strategy that
// delivers an empty tree counts as failed.
func (f *Fetcher) Fetch(ctx context.Context) (Source, error) {
	if err := os.MkdirAll(f.settings.TargetDir, 0o755); err != nil {
		return "", fmt.Errorf("create asset directory: %w", err)
	}
	populated, err := hasFiles(f.settings.TargetDir)
	if err != nil {
		return "", err
	}
	if populated {
		f.logger.Info("assets already present, skipping retrieval", "dir", f.settings.TargetDir)
		return SourceExisting, nil
	}

	if err := f.fromGit(ctx); err == nil {
		f.logger.Info("assets retrieved from git", "repo", f.settings.RepoURL)
		return SourceGit, nil
	} else {
		f.logger.Warn("git retrieval failed, trying archive", "err", err)
	}

	if f.settings.ArchiveURL != "" {
		if err := f.fromArchive(ctx); err == nil {
			f.logger.Info("assets retrieved from archive", "url", f.settings.ArchiveURL)
			return SourceArchive, nil
		} else {
			f.logger.Warn("archive retrieval failed, writing placeholder", "err", err)
		}
	}

	if err := f.writePlaceholder(); err != nil {
		return "", issue.NewContext().
			WithOperation("retrieve demo assets").
			WithResource(f.settings.TargetDir).
			WithSuggestion("Check network reachability to the asset sources").
			WithSuggestion(fmt.Sprintf("Place content manually under %s", f.settings.TargetDir)).
			Wrap(err).
			Err()
	}
	f.logger.Warn("all asset sources failed, placeholder written", "dir", f.settings.TargetDir)
	return SourcePlaceholder, nil
}

// fromGit shallow-clones the repository into a scratch directory and copies
// the configured subdirectory into the target.
func (f *Fetcher) fromGit(ctx context.Context) error {
	scratch, err := os.MkdirTemp("", "assets-git-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(scratch)

	if err := f.clone(ctx, scratch); err != nil {
		return fmt.Errorf("clone %s: %w", f.settings.RepoURL, err)
	}
	return f.install(filepath.Join(scratch, f.settings.Subdir))
}

// fromArchive downloads and unpacks the published archive into a scratch
// directory and copies the configured subdirectory into the target.
// Published tarballs usually nest everything under a "<repo>-<branch>/"
// prefix, so the subdirectory is also searched one level down.
func (f *Fetcher) fromArchive(ctx context.Context) error {
	scratch, err := os.MkdirTemp("", "assets-archive-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(scratch)

	if err := f.get(ctx, scratch, f.settings.ArchiveURL); err != nil {
		return fmt.Errorf("download %s: %w", f.settings.ArchiveURL, err)
	}
	return f.install(locateSubdir(scratch, f.settings.Subdir))
}

// install copies a retrieved tree into the target directory after checking
// it actually holds files.
func (f *Fetcher) install(src string) error {
	ok, err := hasFiles(src)
	if err != nil || !ok {
		if err == nil || os.IsNotExist(err) {
			return fmt.Errorf("%w under %s", ErrEmptyResult, src)
		}
		return err
	}
	return os.CopyFS(f.settings.TargetDir, os.DirFS(src))
}

// writePlaceholder leaves a minimal valid directory behind so later phases
// (service units pointing at the directory) still function.
func (f *Fetcher) writePlaceholder() error {
	readme := fmt.Sprintf(
		"# Demo assets unavailable\n\n"+
			"Automatic retrieval failed during provisioning.\n"+
			"Fetch the content from %s and place it in this directory.\n",
		f.settings.RepoURL)
	return os.WriteFile(filepath.Join(f.settings.TargetDir, "README.md"), []byte(readme), 0o644)
}

func (f *Fetcher) gitClone(ctx context.Context, dir string) error {
	opts := &git.CloneOptions{
		URL:          f.settings.RepoURL,
		Depth:        1,
		SingleBranch: true,
	}
	if f.settings.Branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(f.settings.Branch)
	}
	_, err := git.PlainCloneContext(ctx, dir, false, opts)
	return err
}

func archiveGet(ctx context.Context, dst, src string) error {
	client := &getter.Client{
		Ctx:  ctx,
		Src:  src,
		Dst:  dst,
		Mode: getter.ClientModeDir,
	}
	return client.Get()
}

// locateSubdir resolves subdir under root, falling back to one directory
// level down for archives that unpack behind a top-level prefix.
func locateSubdir(root, subdir string) string {
	direct := filepath.Join(root, subdir)
	if ok, err := hasFiles(direct); err == nil && ok {
		return direct
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return direct
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		nested := filepath.Join(root, e.Name(), subdir)
		if ok, err := hasFiles(nested); err == nil && ok {
			return nested
		}
	}
	return direct
}

// errFoundFile aborts the walk in hasFiles as soon as a file shows up.
var errFoundFile = errors.New("found file")

// hasFiles reports whether dir contains at least one regular file, ignoring
// VCS metadata. A tree of empty directories does not count as content.
func hasFiles(dir string) (bool, error) {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if d.Name() == ".git" && path != dir {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			return errFoundFile
		}
		return nil
	})
	if errors.Is(err, errFoundFile) {
		return true, nil
	}
	return false, err
}
