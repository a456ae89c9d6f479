package unpacker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/h4x3rotab/docker-unpack-bench/target"
	"github.com/hashicorp/go-version"
)

type CtrOptions struct {
	Address      string // containerd socket, ctr's default when empty
	Namespace    string
	Snapshotter  string // ctr's default when empty
	PullArgs     []string
	FetchTimeout time.Duration
}

func DefaultCtrOptions() CtrOptions {
	return CtrOptions{
		Namespace:    "default",
		FetchTimeout: 600 * time.Second,
	}
}

type ctrUnpacker struct {
	target target.Target
	opts   CtrOptions
}

// NewCtrUnpacker runs the containerd `ctr` CLI on the given target.
func NewCtrUnpacker(t target.Target, opts CtrOptions) Unpacker {
	if opts.Namespace == "" {
		opts.Namespace = "default"
	}
	return &ctrUnpacker{target: t, opts: opts}
}

func (u *ctrUnpacker) Fetch(ctx context.Context, image string) error {
	if u.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.opts.FetchTimeout)
		defer cancel()
	}

	slog.Info("fetching image content", slog.String("image", image))
	res, err := u.ctr(ctx, u.pullArgs(image)...)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%w: ctr exited with status %d: %s", ErrFetchFailed, res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}
	slog.Info("image content ready", slog.String("image", image))
	return nil
}

func (u *ctrUnpacker) Reset(ctx context.Context, image string) error {
	var errs []error

	res, err := u.ctr(ctx, u.snapshotsArgs("list")...)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("listing snapshots failed: %w", err))
	case res.ExitCode != 0:
		errs = append(errs, fmt.Errorf("listing snapshots exited with status %d: %s", res.ExitCode, strings.TrimSpace(string(res.Stderr))))
	default:
		keys := parseSnapshotList(res.Stdout)
		if len(keys) > 0 {
			slog.Debug("clearing snapshots", slog.Int("count", len(keys)))
		}
		for _, key := range keys {
			errs = append(errs, u.mustSucceed(ctx, "removing snapshot "+key, u.snapshotsArgs("rm", key)...))
		}
	}

	// removing the image record forces the next pull to unpack again
	errs = append(errs, u.mustSucceed(ctx, "removing image", "image", "rm", image))
	return errors.Join(errs...)
}

func (u *ctrUnpacker) Unpack(ctx context.Context, image string) (*target.CommandResult, error) {
	return u.ctr(ctx, u.pullArgs(image)...)
}

func (u *ctrUnpacker) Version(ctx context.Context) (*version.Version, error) {
	res, err := u.ctr(ctx, "version")
	if err != nil {
		return nil, fmt.Errorf("running ctr version failed: %w", err)
	}
	// the client section comes first; the server section may fail when the daemon is down
	v, err := parseVersionOutput(res.Stdout)
	if err != nil {
		return nil, fmt.Errorf("can't parse ctr version: %w", err)
	}
	return v, nil
}

func (u *ctrUnpacker) ctr(ctx context.Context, args ...string) (*target.CommandResult, error) {
	global := []string{}
	if u.opts.Address != "" {
		global = append(global, "--address", u.opts.Address)
	}
	global = append(global, "--namespace", u.opts.Namespace)
	return u.target.RunCommand(ctx, "ctr", append(global, args...)...)
}

func (u *ctrUnpacker) mustSucceed(ctx context.Context, what string, args ...string) error {
	res, err := u.ctr(ctx, args...)
	if err != nil {
		return fmt.Errorf("%s failed: %w", what, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%s exited with status %d: %s", what, res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}
	return nil
}

func (u *ctrUnpacker) pullArgs(image string) []string {
	args := []string{"image", "pull"}
	if u.opts.Snapshotter != "" {
		args = append(args, "--snapshotter", u.opts.Snapshotter)
	}
	args = append(args, u.opts.PullArgs...)
	return append(args, image)
}

func (u *ctrUnpacker) snapshotsArgs(sub ...string) []string {
	args := []string{"snapshots"}
	if u.opts.Snapshotter != "" {
		args = append(args, "--snapshotter", u.opts.Snapshotter)
	}
	return append(args, sub...)
}

// parseSnapshotList returns the snapshot keys from `ctr snapshots list`: the first column of every line after the
// header.
func parseSnapshotList(out []byte) []string {
	keys := []string{}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) < 2 {
		return keys
	}
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		keys = append(keys, fields[0])
	}
	return keys
}

func parseVersionOutput(out []byte) (*version.Version, error) {
	for _, line := range strings.Split(string(out), "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok || strings.TrimSpace(key) != "Version" {
			continue
		}
		return version.NewVersion(strings.TrimSpace(value))
	}
	return nil, fmt.Errorf("no version line in output")
}
