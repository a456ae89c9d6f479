package unpacker

import (
	"context"
	"errors"

	"github.com/h4x3rotab/docker-unpack-bench/target"
	"github.com/hashicorp/go-version"
)

var ErrFetchFailed = errors.New("fetching image content failed")

// Drives the container runtime's content and snapshot operations for one image.
type Unpacker interface {
	// Make the image content available locally. May take minutes.
	Fetch(ctx context.Context, image string) error

	// Remove extracted state for the image while keeping fetched content, so the next Unpack redoes extraction.
	// Best-effort: every step is attempted and the failures are returned joined.
	Reset(ctx context.Context, image string) error

	// Extract the image. A non-zero exit is reported in the result, not as an error.
	Unpack(ctx context.Context, image string) (*target.CommandResult, error)

	// The runtime's client version.
	Version(ctx context.Context) (*version.Version, error)
}

// MinimumVersion is the oldest runtime version the benchmark was validated against.
var MinimumVersion = version.Must(version.NewVersion("1.6.0"))

func IsSupported(v *version.Version) bool {
	return v.Core().GreaterThanOrEqual(MinimumVersion)
}
