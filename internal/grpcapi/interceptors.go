package grpcapi

import (
	"context"
	"errors"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"warden.dev/internal/audit"
	"warden.dev/internal/auth"
	"warden.dev/internal/ids"
	"warden.dev/internal/obs"
)

// Health checks and reflection are reachable without credentials.
var publicPrefixes = []string{
	"/grpc.health.v1.Health/",
	"/grpc.reflection.",
}

func isPublic(method string) bool {
	for _, p := range publicPrefixes {
		if strings.HasPrefix(method, p) {
			return true
		}
	}
	return false
}

func (s *Server) recoveryUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic recovered in grpc handler",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
				zap.String("method", info.FullMethod))
			obs.RecordGRPCPanic()
			err = status.Error(codes.Internal, "internal error")
		}
	}()
	return handler(ctx, req)
}

func (s *Server) recoveryStream(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic recovered in grpc stream",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
				zap.String("method", info.FullMethod))
			obs.RecordGRPCPanic()
			err = status.Error(codes.Internal, "internal error")
		}
	}()
	return handler(srv, ss)
}

func (s *Server) loggingUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	ctx = withRequestID(ctx)
	start := time.Now()
	resp, err := handler(ctx, req)
	s.logCall(ctx, info.FullMethod, start, err)
	return resp, err
}

func (s *Server) loggingStream(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	ctx := withRequestID(ss.Context())
	start := time.Now()
	err := handler(srv, &wrappedStream{ServerStream: ss, ctx: ctx})
	s.logCall(ctx, info.FullMethod, start, err)
	return err
}

func (s *Server) logCall(ctx context.Context, method string, start time.Time, err error) {
	code := status.Code(err)
	elapsed := time.Since(start)
	obs.RecordGRPC(method, code.String(), elapsed)
	fields := []zap.Field{
		zap.String("request_id", audit.RequestIDFromContext(ctx)),
		zap.String("method", method),
		zap.String("code", code.String()),
		zap.Float64("duration_ms", float64(elapsed.Microseconds())/1000),
	}
	switch code {
	case codes.OK:
		s.log.Info("grpc_complete", fields...)
	case codes.Internal, codes.Unknown, codes.DataLoss:
		s.log.Error("grpc_complete", append(fields, zap.Error(err))...)
	default:
		s.log.Warn("grpc_complete", fields...)
	}
}

func (s *Server) authUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	ctx, err := s.authorize(ctx, info.FullMethod)
	if err != nil {
		return nil, err
	}
	return handler(ctx, req)
}

func (s *Server) authStream(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	ctx, err := s.authorize(ss.Context(), info.FullMethod)
	if err != nil {
		return err
	}
	return handler(srv, &wrappedStream{ServerStream: ss, ctx: ctx})
}

// authorize authenticates the bearer token in metadata and applies the
// method's requirement. The principal is stored in the returned context.
func (s *Server) authorize(ctx context.Context, method string) (context.Context, error) {
	if isPublic(method) {
		return ctx, nil
	}
	token, err := bearerFromMetadata(ctx)
	if err != nil {
		return nil, err
	}
	p, err := s.svc.Authenticate(ctx, token)
	if err != nil {
		return nil, statusFromError(err)
	}
	if p.Restricted {
		return nil, status.Error(codes.PermissionDenied, "password change required")
	}
	if req, ok := s.methods[method]; ok && !p.Superuser && !auth.Authorize(p.Permissions, req.Codes, req.Mode) {
		s.log.Info("grpc call denied",
			zap.String("method", method),
			zap.String("principal_id", p.ID),
			zap.Strings("required", req.Codes))
		return nil, status.Error(codes.PermissionDenied, "permission denied")
	}
	ctx = auth.ContextWithPrincipal(ctx, p)
	return auth.ContextWithToken(ctx, token), nil
}

func bearerFromMetadata(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "missing metadata")
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return "", status.Error(codes.Unauthenticated, "missing bearer token")
	}
	v := strings.TrimSpace(values[0])
	const prefix = "bearer "
	if len(v) < len(prefix) || !strings.EqualFold(v[:len(prefix)], prefix) {
		return "", status.Error(codes.Unauthenticated, "invalid authorization scheme")
	}
	token := strings.TrimSpace(v[len(prefix):])
	if token == "" {
		return "", status.Error(codes.Unauthenticated, "missing bearer token")
	}
	return token, nil
}

func withRequestID(ctx context.Context) context.Context {
	rid := ""
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get("x-request-id"); len(v) > 0 {
			rid = strings.TrimSpace(v[0])
		}
	}
	if rid == "" || len(rid) > 128 || strings.ContainsAny(rid, "\r\n\t ") {
		rid = ids.New()
	}
	return audit.WithRequestID(ctx, rid)
}

// statusFromError maps core errors onto gRPC status codes. Token failures all
// look the same to the caller.
func statusFromError(err error) error {
	var verr *auth.ValidationError
	switch {
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrTokenExpired),
		errors.Is(err, auth.ErrTokenReuseDetected),
		errors.Is(err, auth.ErrInvalidCredential):
		return status.Error(codes.Unauthenticated, "invalid token")
	case errors.Is(err, auth.ErrAccountInactive):
		return status.Error(codes.PermissionDenied, "account is inactive")
	case errors.Is(err, auth.ErrMustChangePassword):
		return status.Error(codes.PermissionDenied, "password change required")
	case errors.Is(err, auth.ErrPermissionDenied):
		return status.Error(codes.PermissionDenied, "permission denied")
	case errors.Is(err, auth.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, auth.ErrConflict):
		return status.Error(codes.AlreadyExists, "conflict")
	case errors.As(err, &verr):
		return status.Error(codes.InvalidArgument, verr.Error())
	case errors.Is(err, auth.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, "invalid input")
	case errors.Is(err, auth.ErrTransactionFailure):
		return status.Error(codes.Unavailable, "temporarily unavailable")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, "internal error")
}

type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context { return w.ctx }
