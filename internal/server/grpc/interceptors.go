package grpcserver

import (
	"context"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const healthPrefix = "/grpc.health.v1.Health/"

// LoggingUnary returns a unary server interceptor for structured logging.
// Successful health probes are logged at debug level.
func LoggingUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		code := status.Code(err)

		level := zapcore.InfoLevel
		if code == codes.OK && strings.HasPrefix(info.FullMethod, healthPrefix) {
			level = zapcore.DebugLevel
		}
		// metadata only, never payloads
		if ce := log.Check(level, "grpc"); ce != nil {
			ce.Write(
				zap.String("method", info.FullMethod),
				zap.String("code", code.String()),
				zap.Duration("dur", time.Since(start)),
				zap.String("peer", remotePeer(ctx)),
			)
		}
		return resp, err
	}
}

func remotePeer(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return ""
}

// RecoverUnary returns a unary server interceptor that recovers from panics.
func RecoverUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = recovered(log, r, info.FullMethod)
			}
		}()
		return next(ctx, req)
	}
}

// RecoverStream is the streaming counterpart of RecoverUnary; health Watch is a stream.
func RecoverStream(log *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, next grpc.StreamHandler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = recovered(log, r, info.FullMethod)
			}
		}()
		return next(srv, ss)
	}
}

func recovered(log *zap.Logger, reason any, method string) error {
	log.Error("panic",
		zap.Any("reason", reason),
		zap.ByteString("stack", debug.Stack()),
		zap.String("method", method),
	)
	return status.Error(codes.Internal, "internal")
}
