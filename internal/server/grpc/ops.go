// Package grpcserver runs the operational gRPC listener. It serves the
// standard grpc.health.v1 service so orchestrators can probe the process.
package grpcserver

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported alongside the overall "" entry.
const ServiceName = "refkeeper.v1.Referrals"

const stopGrace = 5 * time.Second

// Ops owns the ops gRPC server and its health state.
type Ops struct {
	srv    *grpc.Server
	health *health.Server
	log    *zap.Logger
}

// NewOps builds the server with recover and logging interceptors. Health
// reports NOT_SERVING until Serve is called.
func NewOps(log *zap.Logger, withReflection bool) *Ops {
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoverUnary(log),
			LoggingUnary(log),
		),
		grpc.ChainStreamInterceptor(RecoverStream(log)),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	if withReflection {
		reflection.Register(s)
	}
	o := &Ops{srv: s, health: hs, log: log}
	o.SetServing(false)
	return o
}

// SetServing flips both the overall and the named service status.
func (o *Ops) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	o.health.SetServingStatus("", st)
	o.health.SetServingStatus(ServiceName, st)
}

// Serve marks the process healthy and serves lis until ctx is done.
func (o *Ops) Serve(ctx context.Context, lis net.Listener) error {
	o.SetServing(true)

	errCh := make(chan error, 1)
	go func() {
		o.log.Info("ops grpc listening", zap.String("addr", lis.Addr().String()))
		errCh <- o.srv.Serve(lis)
	}()

	select {
	case err := <-errCh:
		o.health.Shutdown()
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	case <-ctx.Done():
		// NOT_SERVING first so probes see the drain
		o.health.Shutdown()
		done := make(chan struct{})
		go func() {
			o.srv.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(stopGrace):
			o.srv.Stop()
		}
		return nil
	}
}

// ListenAndServe listens on addr and calls Serve.
func (o *Ops) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return o.Serve(ctx, lis)
}
