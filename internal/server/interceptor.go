package server

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"sessionstore/internal/lookup"
	"sessionstore/internal/registry"
)

// requestPackage is the transient package handlers note request facts in.
const requestPackage = "rpc"

// RequestInterceptor installs mgr and a fresh transient session into the
// context of every unary call.
func RequestInterceptor(mgr *registry.Manager) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx = lookup.WithManager(ctx, mgr)
		ctx = lookup.WithTransient(ctx, lookup.NewTransient())
		return handler(ctx, req)
	}
}

// LoggingInterceptor logs every unary call with its outcome, latency and
// the request facts handlers noted.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.Stringer("code", status.Code(err)),
			zap.Duration("elapsed", time.Since(start)),
		}
		if tr, ok := lookup.TransientFrom(ctx); ok {
			for k, v := range tr.Get(requestPackage, nil) {
				fields = append(fields, zap.Any(k, v))
			}
		}
		logger.Debug("rpc", fields...)
		return resp, err
	}
}

// note records a request fact for LoggingInterceptor.
func note(ctx context.Context, key string, value any) {
	if tr, ok := lookup.TransientFrom(ctx); ok {
		tr.Data(requestPackage)[key] = value
	}
}
