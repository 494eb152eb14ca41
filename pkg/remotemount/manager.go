// Package remotemount establishes, releases and inspects sshfs mounts.
package remotemount

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/joejulian/sshmount/pkg/logging"
	"github.com/joejulian/sshmount/pkg/mounter"
	"github.com/joejulian/sshmount/pkg/preflight"
	"github.com/joejulian/sshmount/pkg/sshfs"
	"github.com/joejulian/sshmount/pkg/system"
	"github.com/joejulian/sshmount/pkg/util"
)

const unmountAllConcurrency = 4

// PreflightFunc checks SSH prerequisites before mounting.
type PreflightFunc func(ctx context.Context, target sshfs.Target) error

type Manager struct {
	mounter   mounter.Mounter
	preflight PreflightFunc
	// mountPointMode is used when Mount has to create the mount point.
	mountPointMode os.FileMode

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type Option func(*Manager)

// WithPreflight runs fn before every mount.
func WithPreflight(fn PreflightFunc) Option {
	return func(m *Manager) { m.preflight = fn }
}

func WithMountPointMode(mode os.FileMode) Option {
	return func(m *Manager) { m.mountPointMode = mode }
}

func NewManager(mnt mounter.Mounter, opts ...Option) *Manager {
	m := &Manager{
		mounter:        mnt,
		mountPointMode: 0o755,
		locks:          map[string]*sync.Mutex{},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// SSHPreflight adapts an SSH check to a PreflightFunc. A nil check means
// preflight.Check.
func SSHPreflight(base preflight.Options, check func(context.Context, preflight.Options) (*preflight.Report, error)) PreflightFunc {
	if check == nil {
		check = preflight.Check
	}
	return func(ctx context.Context, target sshfs.Target) error {
		_, err := check(ctx, PreflightOptions(base, target))
		return err
	}
}

// PreflightOptions fills base with the address, user, key and remote path of
// target.
func PreflightOptions(base preflight.Options, target sshfs.Target) preflight.Options {
	opts := base
	opts.Address = target.Address()
	opts.User = target.User
	if target.IdentityFile != "" {
		opts.IdentityFile = target.IdentityFile
	}
	opts.RemotePath = target.RemotePath
	return opts
}

func (m *Manager) lock(path string) func() {
	m.mu.Lock()
	l, ok := m.locks[path]
	if !ok {
		l = &sync.Mutex{}
		m.locks[path] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Mount establishes the remote mount described by target and confirms that
// the mount table lists it afterwards.
func (m *Manager) Mount(ctx context.Context, target sshfs.Target) (err error) {
	if err := target.Validate(); err != nil {
		return err
	}
	ctx, logger := logging.StartOperation(ctx, "mount",
		zap.String("mount_point", target.MountPoint),
		zap.String("source", target.Source()),
	)
	defer m.lock(target.MountPoint)()

	mps, err := m.mounter.List(ctx)
	if err != nil {
		return err
	}
	if existing, ok := util.Find(mps, target.MountPoint); ok {
		return fmt.Errorf("%w: %s from %s", ErrAlreadyMounted, target.MountPoint, existing.Source)
	}

	_, statErr := os.Stat(target.MountPoint)
	created := errors.Is(statErr, fs.ErrNotExist)
	if err := os.MkdirAll(target.MountPoint, m.mountPointMode); err != nil {
		return fmt.Errorf("creating mount point: %w", err)
	}
	defer func() {
		// Only the empty leaf directory this call created is removed.
		if err != nil && created {
			if rmErr := os.Remove(target.MountPoint); rmErr != nil {
				logger.Warn("leaving mount point behind", zap.Error(rmErr))
			}
		}
	}()

	if m.preflight != nil {
		if err := m.preflight(ctx, target); err != nil {
			return fmt.Errorf("preflight: %w", err)
		}
	}

	if err := m.mounter.Mount(ctx, target); err != nil {
		logger.Error("mount failed", zap.Error(err))
		return err
	}

	mps, err = m.mounter.List(ctx)
	if err != nil {
		return err
	}
	if _, ok := util.Find(mps, target.MountPoint); !ok {
		return fmt.Errorf("%w: %s", ErrVerifyFailed, target.MountPoint)
	}
	logger.Info("mounted")
	return nil
}

type UnmountOptions struct {
	// Force skips the graceful attempt.
	Force bool
	// NoFallback disables the forced retry after a busy graceful unmount.
	NoFallback bool
}

type UnmountResult struct {
	Path   string `json:"path" yaml:"path"`
	Forced bool   `json:"forced" yaml:"forced"`
}

// Unmount releases the mount at path. A graceful unmount that fails because
// the mount is busy is retried as a forced unmount unless opts.NoFallback is
// set.
func (m *Manager) Unmount(ctx context.Context, path string, opts UnmountOptions) (UnmountResult, error) {
	ctx, logger := logging.StartOperation(ctx, "unmount", zap.String("mount_point", path))
	defer m.lock(path)()

	res := UnmountResult{Path: path}
	mps, err := m.mounter.List(ctx)
	if err != nil {
		return res, err
	}
	if _, ok := util.Find(mps, path); !ok {
		return res, fmt.Errorf("%w: %s", ErrNotMounted, path)
	}

	if !opts.Force {
		err := m.mounter.Unmount(ctx, path)
		if err == nil {
			logger.Info("unmounted")
			return res, nil
		}
		if !system.IsBusy(err) {
			logger.Error("unmount failed", zap.Error(err))
			return res, err
		}
		if opts.NoFallback {
			return res, fmt.Errorf("%w: %s: %v", ErrBusy, path, err)
		}
		logger.Warn("mount point busy, forcing unmount", zap.Error(err))
	}

	if err := m.mounter.ForceUnmount(ctx, path); err != nil {
		logger.Error("forced unmount failed", zap.Error(err))
		return res, err
	}
	res.Forced = true
	logger.Info("unmounted", zap.Bool("forced", true))
	return res, nil
}

// UnmountAll releases every sshfs mount in the mount table. Results cover
// the mounts that were released; failures are joined into the error.
func (m *Manager) UnmountAll(ctx context.Context, opts UnmountOptions) ([]UnmountResult, error) {
	mps, err := m.mounter.List(ctx)
	if err != nil {
		return nil, err
	}
	var targets []string
	for _, mp := range mps {
		if mp.IsSSHFS() {
			targets = append(targets, mp.Path)
		}
	}

	results := make([]UnmountResult, len(targets))
	errs := make([]error, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(unmountAllConcurrency)
	for i, path := range targets {
		i, path := i, path
		g.Go(func() error {
			results[i], errs[i] = m.Unmount(gctx, path, opts)
			return nil
		})
	}
	_ = g.Wait()

	released := results[:0]
	for i, res := range results {
		if errs[i] == nil {
			released = append(released, res)
		}
	}
	return released, errors.Join(errs...)
}

// Status lists mounts whose path or source contains pattern.
func (m *Manager) Status(ctx context.Context, pattern string) ([]Status, error) {
	mps, err := m.mounter.List(ctx)
	if err != nil {
		return nil, err
	}
	matched := util.Filter(mps, pattern)
	out := make([]Status, 0, len(matched))
	for _, mp := range matched {
		state := StateActive
		if mp.IsSSHFS() {
			state = probe(mp.Path)
		}
		out = append(out, Status{MountPoint: mp, State: state})
	}
	return out, nil
}

// Inspect reports the state of exactly one mount point.
func (m *Manager) Inspect(ctx context.Context, path string) (Status, error) {
	mps, err := m.mounter.List(ctx)
	if err != nil {
		return Status{}, err
	}
	mp, ok := util.Find(mps, path)
	if !ok {
		return Status{MountPoint: util.MountPoint{Path: path}, State: StateNotMounted}, nil
	}
	return Status{MountPoint: mp, State: probe(mp.Path)}, nil
}
