// Package releases serves the downloadable assets of a GitHub repository's
// releases as artifacts, newest release first.
package releases

import (
	"context"
	"errors"
	"fmt"
	"path"
	"scanwarden/internal/artifact"
	gh "scanwarden/internal/github"
	"strings"

	"github.com/google/go-github/v68/github"
)

const (
	sourceName     = "releases"
	defaultPerPage = 30
)

// CapabilityExecutable is declared by assets that install or run directly.
const CapabilityExecutable = "executable"

var executableExts = map[string]bool{
	".apk": true, ".appimage": true, ".deb": true, ".dmg": true, ".exe": true,
	".msi": true, ".pkg": true, ".rpm": true, ".run": true, ".sh": true,
}

type Options struct {
	// Budget gates every API request. Nil means unlimited.
	Budget *gh.RequestBudget

	// PerPage is the release page size. Zero uses 30.
	PerPage int

	// IncludePrereleases keeps assets of prereleases.
	IncludePrereleases bool
}

// Source pages through releases lazily: a page is requested only after the
// assets of the previous one have been consumed.
type Source struct {
	client *gh.Client
	owner  string
	repo   string
	opts   Options

	nextPage int
	done     bool
	queue    []artifact.Record
}

var _ artifact.Source = (*Source)(nil)

// New returns a source over the releases of repo (OWNER/REPO).
func New(client *gh.Client, repo string, opts Options) (*Source, error) {
	if client == nil || client.Client == nil {
		return nil, errors.New("releases source: github client is nil")
	}
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" {
		return nil, fmt.Errorf("releases source: invalid repository %q (expected OWNER/REPO)", repo)
	}
	if opts.PerPage <= 0 {
		opts.PerPage = defaultPerPage
	}
	return &Source{client: client, owner: owner, repo: name, opts: opts, nextPage: 1}, nil
}

func (s *Source) Next(ctx context.Context) (artifact.Record, bool, error) {
	for len(s.queue) == 0 {
		if err := ctx.Err(); err != nil {
			return artifact.Record{}, false, err
		}
		if s.done {
			return artifact.Record{}, false, nil
		}
		if err := s.fetchPage(ctx); err != nil {
			return artifact.Record{}, false, artifact.NewFetchError(sourceName, err)
		}
	}
	rec := s.queue[0]
	s.queue = s.queue[1:]
	return rec, true, nil
}

func (s *Source) fetchPage(ctx context.Context) error {
	if s.opts.Budget != nil {
		if err := s.opts.Budget.Acquire(ctx); err != nil {
			return err
		}
	}

	releases, resp, err := s.client.Client.Repositories.ListReleases(ctx, s.owner, s.repo, &github.ListOptions{
		Page:    s.nextPage,
		PerPage: s.opts.PerPage,
	})
	s.opts.Budget.Observe(resp)
	if err != nil {
		return fmt.Errorf("list releases of %s/%s (page %d): %w", s.owner, s.repo, s.nextPage, err)
	}

	for _, rel := range releases {
		if rel.GetDraft() || (rel.GetPrerelease() && !s.opts.IncludePrereleases) {
			continue
		}
		for _, asset := range rel.Assets {
			s.queue = append(s.queue, assetRecord(rel, asset))
		}
	}

	if resp == nil || resp.NextPage == 0 {
		s.done = true
	} else {
		s.nextPage = resp.NextPage
	}
	return nil
}

func assetRecord(rel *github.RepositoryRelease, asset *github.ReleaseAsset) artifact.Record {
	rec := artifact.Record{
		ID:          asset.GetName(),
		Location:    asset.GetBrowserDownloadURL(),
		Size:        int64(asset.GetSize()),
		InstalledAt: rel.GetPublishedAt().Time,
		ModifiedAt:  asset.GetUpdatedAt().Time,
	}
	if executableExts[strings.ToLower(path.Ext(asset.GetName()))] {
		rec.Capabilities = []string{CapabilityExecutable}
	}
	return rec
}
