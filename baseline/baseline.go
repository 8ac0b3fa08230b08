// Package baseline supplies the reference bytes a current screenshot is
// compared against, and the list of screenshots that changed.
//
// Implementations shell out to git, download the published copy, or serve
// an in-memory map for tests. All of them satisfy Source.
package baseline

import (
	"context"
	"errors"

	"github.com/hazyhaar/shotdiff/shotfile"
)

// ErrBaselineUnavailable wraps every failure to produce baseline bytes.
var ErrBaselineUnavailable = errors.New("baseline: unavailable")

// ErrUnsupported is returned by sources that cannot list changes.
var ErrUnsupported = errors.New("baseline: operation not supported by this source")

// Source provides baseline content and change discovery.
type Source interface {
	// Baseline returns the reference bytes for the file at path.
	Baseline(ctx context.Context, path string) ([]byte, error)
	// ChangedPaths lists absolute paths of modified, added or deleted files
	// under dir. Order is unspecified.
	ChangedPaths(ctx context.Context, dir string) ([]string, error)
}

// Reverter restores a file to its baseline content.
type Reverter interface {
	Revert(ctx context.Context, path string) error
}

// Origin reports where src reads baselines from, for descriptions.
func Origin(src Source) shotfile.Origin {
	switch src.(type) {
	case *Git:
		return shotfile.OriginGit
	case *Web:
		return shotfile.OriginWeb
	default:
		return shotfile.OriginDisk
	}
}
