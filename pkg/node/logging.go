package node

import (
	"context"
	"strings"

	csi "github.com/container-storage-interface/spec/lib/go/csi"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/joejulian/sshmount/pkg/logging"
)

func Logger(ctx context.Context) *zap.Logger {
	return logging.FromContext(ctx)
}

func BaseLogger() *zap.Logger {
	return logging.BaseLogger()
}

func unaryLoggingInterceptor(nodeID string) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		requestID := requestIDFromMetadata(ctx)
		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", info.FullMethod),
			zap.String("node_id", nodeID),
			zap.String("host", logging.HostName()),
		}
		fields = append(fields, requestFields(req)...)
		l := BaseLogger().With(fields...)
		ctx = logging.WithLogger(ctx, l)
		resp, err := handler(ctx, req)
		if err != nil {
			l.Error("request failed", zap.Error(err))
		} else {
			l.Info("request completed")
		}
		return resp, err
	}
}

func requestIDFromMetadata(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		for _, key := range []string{"x-request-id", "x-correlation-id", "request-id"} {
			if vals := md.Get(key); len(vals) > 0 && strings.TrimSpace(vals[0]) != "" {
				return strings.TrimSpace(vals[0])
			}
		}
	}
	return uuid.NewString()
}

func requestFields(req any) []zap.Field {
	switch r := req.(type) {
	case *csi.NodePublishVolumeRequest:
		return []zap.Field{
			zap.String("volume_id", r.VolumeId),
			zap.String("target_path", r.TargetPath),
			zap.String("remote_host", r.GetVolumeContext()["host"]),
			zap.Bool("readonly", r.Readonly),
		}
	case *csi.NodeUnpublishVolumeRequest:
		return []zap.Field{
			zap.String("volume_id", r.VolumeId),
			zap.String("target_path", r.TargetPath),
		}
	default:
		return nil
	}
}
