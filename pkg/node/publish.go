package node

import (
	"context"
	"errors"
	"os"

	csi "github.com/container-storage-interface/spec/lib/go/csi"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joejulian/sshmount/pkg/mounter"
	"github.com/joejulian/sshmount/pkg/remotemount"
	"github.com/joejulian/sshmount/pkg/sshfs"
	"github.com/joejulian/sshmount/pkg/util"
)

func (n *Node) NodePublishVolume(ctx context.Context, req *csi.NodePublishVolumeRequest) (*csi.NodePublishVolumeResponse, error) {
	// Check if volume_id is provided
	if req.GetVolumeId() == "" {
		return nil, status.Error(codes.InvalidArgument, "volume_id is required")
	}

	// Check if target_path is provided
	if req.GetTargetPath() == "" {
		return nil, status.Error(codes.InvalidArgument, "target_path is required")
	}

	// Check if volume_capability is provided
	capability := req.GetVolumeCapability()
	if capability == nil {
		return nil, status.Error(codes.InvalidArgument, "volume_capability is required")
	}
	if capability.GetBlock() != nil {
		return nil, status.Error(codes.InvalidArgument, "block volumes are not supported")
	}

	params, err := decodeVolumeParams(req.GetVolumeContext())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	target := params.Target(req.GetVolumeId(), req.GetTargetPath())
	target.ExtraOptions = append(target.ExtraOptions, capability.GetMount().GetMountFlags()...)
	if req.GetReadonly() {
		target.ExtraOptions = append(target.ExtraOptions, "ro")
	}
	if err := target.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	if done, err := n.published(ctx, target); err != nil {
		return nil, err
	} else if done {
		return &csi.NodePublishVolumeResponse{}, nil
	}

	if err := n.manager.Mount(ctx, target); err != nil {
		if errors.Is(err, remotemount.ErrAlreadyMounted) {
			// A concurrent publish of the same volume may have won the race.
			if done, inspectErr := n.published(ctx, target); inspectErr != nil {
				return nil, inspectErr
			} else if done {
				return &csi.NodePublishVolumeResponse{}, nil
			}
		}
		return nil, mountError(err, target)
	}
	return &csi.NodePublishVolumeResponse{}, nil
}

// published reports whether target is already mounted from the requested
// source. A different source at the same path is AlreadyExists.
func (n *Node) published(ctx context.Context, target sshfs.Target) (bool, error) {
	current, err := n.manager.Inspect(ctx, target.MountPoint)
	if err != nil {
		return false, status.Errorf(codes.Internal, "failed to read mount table: %v", err)
	}
	if current.State == remotemount.StateNotMounted {
		return false, nil
	}
	if current.Source != target.Source() {
		return false, status.Errorf(codes.AlreadyExists, "target path %s is mounted from %s", target.MountPoint, current.Source)
	}
	Logger(ctx).Info("volume already published", zap.String("state", current.State.String()))
	return true, nil
}

func mountError(err error, target sshfs.Target) error {
	switch {
	case errors.Is(err, mounter.ErrUnsupportedPlatform):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, remotemount.ErrAlreadyMounted):
		return status.Errorf(codes.AlreadyExists, "target path %s: %v", target.MountPoint, err)
	default:
		return status.Errorf(codes.Internal, "failed to mount %s: %v", target.Source(), err)
	}
}

func (n *Node) NodeUnpublishVolume(ctx context.Context, req *csi.NodeUnpublishVolumeRequest) (*csi.NodeUnpublishVolumeResponse, error) {
	// Check if volume_id is provided
	if req.GetVolumeId() == "" {
		return nil, status.Error(codes.InvalidArgument, "volume_id is required")
	}

	// Check if target_path is provided
	if req.GetTargetPath() == "" {
		return nil, status.Error(codes.InvalidArgument, "target_path is required")
	}

	_, err := n.manager.Unmount(ctx, req.GetTargetPath(), remotemount.UnmountOptions{})
	switch {
	case err == nil, errors.Is(err, remotemount.ErrNotMounted):
	case errors.Is(err, remotemount.ErrBusy):
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	default:
		return nil, status.Errorf(codes.Internal, "failed to unmount target path: %v", err)
	}

	if mounted, err := util.IsMountPoint(req.GetTargetPath()); err == nil && mounted {
		return nil, status.Errorf(codes.Internal, "target path %s is still a mount point", req.GetTargetPath())
	}

	// Only an empty directory is removed so a failed unmount never reaches
	// remote files.
	if err := os.Remove(req.GetTargetPath()); err != nil && !os.IsNotExist(err) {
		return nil, status.Errorf(codes.Internal, "failed to remove target path: %v", err)
	}

	return &csi.NodeUnpublishVolumeResponse{}, nil
}
