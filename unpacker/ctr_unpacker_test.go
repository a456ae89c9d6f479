package unpacker

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/h4x3rotab/docker-unpack-bench/target"
	"github.com/hashicorp/go-version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedTarget answers commands by their joined argument line and records every call.
type scriptedTarget struct {
	results map[string]*target.CommandResult
	errs    map[string]error
	calls   []string
	ctxs    []context.Context
}

func newScriptedTarget() *scriptedTarget {
	return &scriptedTarget{results: map[string]*target.CommandResult{}, errs: map[string]error{}}
}

func (s *scriptedTarget) RunCommand(ctx context.Context, name string, args ...string) (*target.CommandResult, error) {
	line := strings.Join(append([]string{name}, args...), " ")
	s.calls = append(s.calls, line)
	s.ctxs = append(s.ctxs, ctx)
	if err, ok := s.errs[line]; ok {
		return &target.CommandResult{ExitCode: -1}, err
	}
	if res, ok := s.results[line]; ok {
		return res, nil
	}
	return &target.CommandResult{}, nil
}

func (s *scriptedTarget) ReadDir(path string) ([]fs.FileInfo, error) { return nil, nil }
func (s *scriptedTarget) ReadFile(path string) ([]byte, error)       { return nil, nil }

const image = "docker.io/library/nginx:latest"

const snapshotList = `KEY                                                                     PARENT                                                                  KIND
sha256:2a9f2e4d1b                                                                                                                               Committed
sha256:7c1e0f3a9d                                                       sha256:2a9f2e4d1b                                                       Committed

`

func TestParseSnapshotList(t *testing.T) {
	assert.Equal(t, []string{"sha256:2a9f2e4d1b", "sha256:7c1e0f3a9d"}, parseSnapshotList([]byte(snapshotList)))
	assert.Empty(t, parseSnapshotList([]byte("KEY PARENT KIND\n")))
	assert.Empty(t, parseSnapshotList(nil))
}

func TestReset(t *testing.T) {
	st := newScriptedTarget()
	st.results["ctr --namespace default snapshots list"] = &target.CommandResult{Stdout: []byte(snapshotList)}
	u := NewCtrUnpacker(st, DefaultCtrOptions())

	require.NoError(t, u.Reset(context.Background(), image))
	assert.Equal(t, []string{
		"ctr --namespace default snapshots list",
		"ctr --namespace default snapshots rm sha256:2a9f2e4d1b",
		"ctr --namespace default snapshots rm sha256:7c1e0f3a9d",
		"ctr --namespace default image rm " + image,
	}, st.calls)
}

func TestResetIsBestEffort(t *testing.T) {
	st := newScriptedTarget()
	st.results["ctr --namespace default snapshots list"] = &target.CommandResult{Stdout: []byte(snapshotList)}
	st.results["ctr --namespace default snapshots rm sha256:2a9f2e4d1b"] = &target.CommandResult{ExitCode: 1, Stderr: []byte("snapshot has children\n")}
	st.results["ctr --namespace default image rm "+image] = &target.CommandResult{ExitCode: 1, Stderr: []byte("image not found\n")}
	u := NewCtrUnpacker(st, DefaultCtrOptions())

	err := u.Reset(context.Background(), image)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "snapshot has children")
	assert.Contains(t, err.Error(), "image not found")
	// every step still ran
	assert.Len(t, st.calls, 4)
}

func TestResetListFailureStillRemovesImage(t *testing.T) {
	st := newScriptedTarget()
	st.errs["ctr --namespace default snapshots list"] = errors.New("ctr: not found")
	u := NewCtrUnpacker(st, DefaultCtrOptions())

	err := u.Reset(context.Background(), image)
	require.Error(t, err)
	assert.Equal(t, "ctr --namespace default image rm "+image, st.calls[len(st.calls)-1])
}

func TestCommandOptions(t *testing.T) {
	st := newScriptedTarget()
	u := NewCtrUnpacker(st, CtrOptions{
		Address:     "/run/containerd/containerd.sock",
		Namespace:   "k8s.io",
		Snapshotter: "overlayfs",
		PullArgs:    []string{"--platform", "linux/amd64"},
	})

	_, err := u.Unpack(context.Background(), image)
	require.NoError(t, err)
	require.NoError(t, u.Reset(context.Background(), image))

	assert.Equal(t, []string{
		"ctr --address /run/containerd/containerd.sock --namespace k8s.io image pull --snapshotter overlayfs --platform linux/amd64 " + image,
		"ctr --address /run/containerd/containerd.sock --namespace k8s.io snapshots --snapshotter overlayfs list",
		"ctr --address /run/containerd/containerd.sock --namespace k8s.io image rm " + image,
	}, st.calls)
}

func TestUnpackReportsExitStatus(t *testing.T) {
	st := newScriptedTarget()
	st.results["ctr --namespace default image pull "+image] = &target.CommandResult{ExitCode: 1, Stderr: []byte("unpack failed")}
	u := NewCtrUnpacker(st, DefaultCtrOptions())

	res, err := u.Unpack(context.Background(), image)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, "unpack failed", string(res.Stderr))
}

func TestFetch(t *testing.T) {
	st := newScriptedTarget()
	opts := DefaultCtrOptions()
	opts.FetchTimeout = time.Minute
	u := NewCtrUnpacker(st, opts)

	require.NoError(t, u.Fetch(context.Background(), image))
	require.Len(t, st.ctxs, 1)
	deadline, ok := st.ctxs[0].Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
}

func TestFetchFailure(t *testing.T) {
	st := newScriptedTarget()
	st.results["ctr --namespace default image pull "+image] = &target.CommandResult{ExitCode: 1, Stderr: []byte("401 Unauthorized\n")}
	u := NewCtrUnpacker(st, DefaultCtrOptions())

	err := u.Fetch(context.Background(), image)
	require.ErrorIs(t, err, ErrFetchFailed)
	assert.Contains(t, err.Error(), "401 Unauthorized")

	st = newScriptedTarget()
	st.errs["ctr --namespace default image pull "+image] = context.DeadlineExceeded
	err = NewCtrUnpacker(st, DefaultCtrOptions()).Fetch(context.Background(), image)
	require.ErrorIs(t, err, ErrFetchFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestVersion(t *testing.T) {
	st := newScriptedTarget()
	st.results["ctr --namespace default version"] = &target.CommandResult{
		ExitCode: 1,
		Stdout:   []byte("Client:\n  Version:  v1.7.13\n  Revision: 7c3aca7a610df76212171d200ca3811ff6096eb8\n  Go version: go1.21.6\n\n"),
		Stderr:   []byte("ctr: failed to dial \"/run/containerd/containerd.sock\"\n"),
	}
	u := NewCtrUnpacker(st, DefaultCtrOptions())

	v, err := u.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.7.13", v.String())
	assert.True(t, IsSupported(v))
}

func TestVersionUnparsable(t *testing.T) {
	st := newScriptedTarget()
	st.results["ctr --namespace default version"] = &target.CommandResult{Stdout: []byte("garbage")}
	_, err := NewCtrUnpacker(st, DefaultCtrOptions()).Version(context.Background())
	assert.Error(t, err)
}

func TestIsSupported(t *testing.T) {
	for s, want := range map[string]bool{
		"1.5.13":     false,
		"1.6.0":      true,
		"1.6.0-rc.1": true,
		"2.0.2":      true,
	} {
		assert.Equal(t, want, IsSupported(version.Must(version.NewVersion(s))), s)
	}
}
