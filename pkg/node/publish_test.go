package node_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	csi "github.com/container-storage-interface/spec/lib/go/csi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joejulian/sshmount/pkg/node"
	"github.com/joejulian/sshmount/pkg/remotemount"
	"github.com/joejulian/sshmount/pkg/sshfs"
	"github.com/joejulian/sshmount/pkg/system"
	"github.com/joejulian/sshmount/pkg/util"
)

type memMounter struct {
	mu      sync.Mutex
	mounts  []util.MountPoint
	targets []sshfs.Target

	mountErr   error
	unmountErr error

	// pending mounts appear after the next List, like a concurrent mount
	// finishing between two reads of the table.
	pending []util.MountPoint
}

func (m *memMounter) Mount(_ context.Context, t sshfs.Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mountErr != nil {
		return m.mountErr
	}
	m.targets = append(m.targets, t)
	m.mounts = append(m.mounts, util.MountPoint{Source: t.Source(), Path: t.MountPoint, FSType: sshfs.FSType})
	return nil
}

func (m *memMounter) drop(path string) {
	kept := m.mounts[:0]
	for _, mp := range m.mounts {
		if mp.Path != path {
			kept = append(kept, mp)
		}
	}
	m.mounts = kept
}

func (m *memMounter) Unmount(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unmountErr != nil {
		return m.unmountErr
	}
	m.drop(path)
	return nil
}

func (m *memMounter) ForceUnmount(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drop(path)
	return nil
}

func (m *memMounter) List(context.Context) ([]util.MountPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := append([]util.MountPoint(nil), m.mounts...)
	m.mounts = append(m.mounts, m.pending...)
	m.pending = nil
	return table, nil
}

func mountCapability() *csi.VolumeCapability {
	return &csi.VolumeCapability{
		AccessType: &csi.VolumeCapability_Mount{
			Mount: &csi.VolumeCapability_MountVolume{},
		},
		AccessMode: &csi.VolumeCapability_AccessMode{
			Mode: csi.VolumeCapability_AccessMode_MULTI_NODE_MULTI_WRITER,
		},
	}
}

func newTestNode(m *memMounter) *node.Node {
	return node.NewNode("node-id", "unix:///tmp/sshmount-test.sock", remotemount.NewManager(m))
}

func TestNodePublishVolume(t *testing.T) {
	tests := []struct {
		name             string
		volumeID         string
		targetPath       bool
		readonly         bool
		volumeCapability *csi.VolumeCapability
		volumeContext    map[string]string
		expectErrorCode  codes.Code
		expectSource     string
		expectOptions    []string
	}{
		{
			name:             "Valid publish request",
			volumeID:         "media",
			targetPath:       true,
			volumeCapability: mountCapability(),
			volumeContext: map[string]string{
				"host":       "studio.local",
				"user":       "alice",
				"remotePath": "/Volumes/Media",
				"port":       "2222",
				"attrCache":  "false",
			},
			expectErrorCode: codes.OK,
			expectSource:    "alice@studio.local:/Volumes/Media",
		},
		{
			name:             "Remote path defaults to volume id",
			volumeID:         "/srv/share",
			targetPath:       true,
			volumeCapability: mountCapability(),
			volumeContext:    map[string]string{"host": "nas"},
			expectErrorCode:  codes.OK,
			expectSource:     "nas:/srv/share",
		},
		{
			name:             "Volume id carries the source",
			volumeID:         "bob@nas:/export",
			targetPath:       true,
			readonly:         true,
			volumeCapability: mountCapability(),
			expectErrorCode:  codes.OK,
			expectSource:     "bob@nas:/export",
			expectOptions:    []string{"ro"},
		},
		{
			name:             "Missing volume ID",
			targetPath:       true,
			volumeCapability: mountCapability(),
			expectErrorCode:  codes.InvalidArgument,
		},
		{
			name:             "Missing target path",
			volumeID:         "media",
			volumeCapability: mountCapability(),
			volumeContext:    map[string]string{"host": "nas"},
			expectErrorCode:  codes.InvalidArgument,
		},
		{
			name:            "Missing volume capability",
			volumeID:        "media",
			targetPath:      true,
			volumeContext:   map[string]string{"host": "nas"},
			expectErrorCode: codes.InvalidArgument,
		},
		{
			name:       "Block volume",
			volumeID:   "media",
			targetPath: true,
			volumeCapability: &csi.VolumeCapability{
				AccessType: &csi.VolumeCapability_Block{Block: &csi.VolumeCapability_BlockVolume{}},
			},
			volumeContext:   map[string]string{"host": "nas"},
			expectErrorCode: codes.InvalidArgument,
		},
		{
			name:             "Missing host",
			volumeID:         "media",
			targetPath:       true,
			volumeCapability: mountCapability(),
			expectErrorCode:  codes.InvalidArgument,
		},
		{
			name:             "Malformed port",
			volumeID:         "media",
			targetPath:       true,
			volumeCapability: mountCapability(),
			volumeContext:    map[string]string{"host": "nas", "port": "ssh"},
			expectErrorCode:  codes.InvalidArgument,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := &memMounter{}
			n := newTestNode(m)

			targetPath := ""
			if tc.targetPath {
				targetPath = filepath.Join(t.TempDir(), "target")
			}

			resp, err := n.NodePublishVolume(context.Background(), &csi.NodePublishVolumeRequest{
				VolumeId:         tc.volumeID,
				TargetPath:       targetPath,
				Readonly:         tc.readonly,
				VolumeCapability: tc.volumeCapability,
				VolumeContext:    tc.volumeContext,
			})
			if tc.expectErrorCode != codes.OK {
				st, _ := status.FromError(err)
				assert.Equal(t, tc.expectErrorCode, st.Code())
				assert.Empty(t, m.targets)
				return
			}

			require.NoError(t, err)
			assert.NotNil(t, resp)
			require.Len(t, m.targets, 1)
			assert.Equal(t, tc.expectSource, m.targets[0].Source())
			assert.Equal(t, tc.expectOptions, m.targets[0].ExtraOptions)
			assert.DirExists(t, targetPath)
		})
	}
}

func TestNodePublishVolumeParams(t *testing.T) {
	m := &memMounter{}
	n := newTestNode(m)
	target := filepath.Join(t.TempDir(), "target")

	_, err := n.NodePublishVolume(context.Background(), &csi.NodePublishVolumeRequest{
		VolumeId:         "media",
		TargetPath:       target,
		VolumeCapability: mountCapability(),
		VolumeContext: map[string]string{
			"host":                "studio.local",
			"port":                "2222",
			"volumeName":          "Media",
			"attrCache":           "false",
			"serverAliveInterval": "30s",
			"options":             "allow_other,cache_timeout=60",
		},
	})
	require.NoError(t, err)
	require.Len(t, m.targets, 1)

	got := m.targets[0]
	assert.Equal(t, 2222, got.Port)
	assert.Equal(t, "Media", got.VolumeName)
	assert.False(t, got.AttrCache)
	assert.True(t, got.Reconnect)
	assert.Equal(t, "30s", got.ServerAliveInterval.String())
	assert.Equal(t, []string{"allow_other", "cache_timeout=60"}, got.ExtraOptions)
}

func TestNodePublishVolumeIdempotent(t *testing.T) {
	m := &memMounter{}
	n := newTestNode(m)
	target := filepath.Join(t.TempDir(), "target")

	req := &csi.NodePublishVolumeRequest{
		VolumeId:         "nas:/export",
		TargetPath:       target,
		VolumeCapability: mountCapability(),
	}
	_, err := n.NodePublishVolume(context.Background(), req)
	require.NoError(t, err)
	_, err = n.NodePublishVolume(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, m.targets, 1, "second publish must not mount again")

	req.VolumeId = "other:/export"
	_, err = n.NodePublishVolume(context.Background(), req)
	st, _ := status.FromError(err)
	assert.Equal(t, codes.AlreadyExists, st.Code())
}

func TestNodePublishVolumeConcurrentWinner(t *testing.T) {
	tests := []struct {
		name            string
		winnerSource    string
		expectErrorCode codes.Code
	}{
		{name: "same source", winnerSource: "nas:/export", expectErrorCode: codes.OK},
		{name: "different source", winnerSource: "other:/export", expectErrorCode: codes.AlreadyExists},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			target := filepath.Join(t.TempDir(), "target")
			m := &memMounter{pending: []util.MountPoint{{Source: tc.winnerSource, Path: target, FSType: sshfs.FSType}}}
			n := newTestNode(m)

			_, err := n.NodePublishVolume(context.Background(), &csi.NodePublishVolumeRequest{
				VolumeId:         "nas:/export",
				TargetPath:       target,
				VolumeCapability: mountCapability(),
			})
			st, _ := status.FromError(err)
			assert.Equal(t, tc.expectErrorCode, st.Code())
			assert.Empty(t, m.targets, "the losing publish must not mount again")
		})
	}
}

func TestNodePublishVolumeMountFailure(t *testing.T) {
	m := &memMounter{mountErr: errors.New("connection refused")}
	n := newTestNode(m)

	_, err := n.NodePublishVolume(context.Background(), &csi.NodePublishVolumeRequest{
		VolumeId:         "nas:/export",
		TargetPath:       filepath.Join(t.TempDir(), "target"),
		VolumeCapability: mountCapability(),
	})
	st, _ := status.FromError(err)
	assert.Equal(t, codes.Internal, st.Code())
	assert.Contains(t, st.Message(), "connection refused")
}

func TestNodeUnpublishVolume(t *testing.T) {
	tests := []struct {
		name            string
		volumeID        string
		mounted         bool
		noTarget        bool
		unmountErr      error
		expectErrorCode codes.Code
		expectRemoved   bool
	}{
		{
			name:            "Mounted volume",
			volumeID:        "media",
			mounted:         true,
			expectErrorCode: codes.OK,
			expectRemoved:   true,
		},
		{
			name:            "Not mounted is not an error",
			volumeID:        "media",
			expectErrorCode: codes.OK,
			expectRemoved:   true,
		},
		{
			name:            "Busy mount falls back to forced unmount",
			volumeID:        "media",
			mounted:         true,
			unmountErr:      &system.ExecError{Cmd: "fusermount -u", Stderr: "Device or resource busy", ExitStatus: 1},
			expectErrorCode: codes.OK,
			expectRemoved:   true,
		},
		{
			name:            "Unmount failure",
			volumeID:        "media",
			mounted:         true,
			unmountErr:      errors.New("permission denied"),
			expectErrorCode: codes.Internal,
		},
		{
			name:            "Missing volume ID",
			mounted:         true,
			expectErrorCode: codes.InvalidArgument,
		},
		{
			name:            "Missing target path",
			volumeID:        "media",
			noTarget:        true,
			expectErrorCode: codes.InvalidArgument,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			target := filepath.Join(t.TempDir(), "target")
			require.NoError(t, os.Mkdir(target, 0o755))

			m := &memMounter{unmountErr: tc.unmountErr}
			if tc.mounted {
				m.mounts = []util.MountPoint{{Source: "nas:/export", Path: target, FSType: sshfs.FSType}}
			}
			n := newTestNode(m)

			reqTarget := target
			if tc.noTarget {
				reqTarget = ""
			}
			resp, err := n.NodeUnpublishVolume(context.Background(), &csi.NodeUnpublishVolumeRequest{
				VolumeId:   tc.volumeID,
				TargetPath: reqTarget,
			})
			if tc.expectErrorCode != codes.OK {
				st, _ := status.FromError(err)
				assert.Equal(t, tc.expectErrorCode, st.Code())
				assert.DirExists(t, target)
				return
			}

			require.NoError(t, err)
			assert.NotNil(t, resp)
			mps, _ := m.List(context.Background())
			assert.Empty(t, mps)
			if tc.expectRemoved {
				assert.NoDirExists(t, target)
			}
		})
	}
}

func TestNodeUnpublishKeepsNonEmptyTarget(t *testing.T) {
	target := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(target, "data"), []byte("x"), 0o644))

	n := newTestNode(&memMounter{})
	_, err := n.NodeUnpublishVolume(context.Background(), &csi.NodeUnpublishVolumeRequest{
		VolumeId:   "media",
		TargetPath: target,
	})
	st, _ := status.FromError(err)
	assert.Equal(t, codes.Internal, st.Code())
	assert.FileExists(t, filepath.Join(target, "data"))
}

func TestStagingIsUnimplemented(t *testing.T) {
	n := newTestNode(&memMounter{})

	_, err := n.NodeStageVolume(context.Background(), &csi.NodeStageVolumeRequest{VolumeId: "media"})
	assert.Equal(t, codes.Unimplemented, status.Code(err))
	_, err = n.NodeUnstageVolume(context.Background(), &csi.NodeUnstageVolumeRequest{VolumeId: "media"})
	assert.Equal(t, codes.Unimplemented, status.Code(err))

	caps, err := n.NodeGetCapabilities(context.Background(), &csi.NodeGetCapabilitiesRequest{})
	require.NoError(t, err)
	assert.Empty(t, caps.GetCapabilities())
}
