package grpcapi

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"warden.dev/internal/auth"
)

const (
	IntrospectionService = "warden.v1.Introspection"
	WhoamiMethod         = "/" + IntrospectionService + "/Whoami"
	CheckMethod          = "/" + IntrospectionService + "/Check"
)

// IntrospectionServer lets other services resolve the caller behind a bearer
// token and test permission requirements against it. Messages are protobuf
// well-known types so no generated code is needed.
type IntrospectionServer interface {
	// Whoami returns {id, kind, is_superuser, permissions}.
	Whoami(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// Check takes {permissions: [...], mode: "all"|"any"} and returns
	// {allowed: bool}.
	Check(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type introspection struct {
	svc *auth.Service
}

func (i *introspection) Whoami(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing principal")
	}
	codesList := make([]any, 0, p.Permissions.Len())
	for _, c := range p.Permissions.Codes() {
		codesList = append(codesList, c)
	}
	out, err := structpb.NewStruct(map[string]any{
		"id":           p.ID,
		"kind":         string(p.Kind),
		"is_superuser": p.Superuser,
		"permissions":  codesList,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, "encode principal")
	}
	return out, nil
}

func (i *introspection) Check(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing principal")
	}
	fields := in.GetFields()
	list := fields["permissions"].GetListValue()
	if list == nil || len(list.GetValues()) == 0 {
		return nil, status.Error(codes.InvalidArgument, "permissions must be a non-empty list")
	}
	required := make([]string, 0, len(list.GetValues()))
	for _, v := range list.GetValues() {
		code := strings.TrimSpace(v.GetStringValue())
		if code == "" {
			return nil, status.Error(codes.InvalidArgument, "permissions must be strings")
		}
		required = append(required, code)
	}
	mode := auth.MatchAll
	switch strings.ToLower(fields["mode"].GetStringValue()) {
	case "", "all":
	case "any":
		mode = auth.MatchAny
	default:
		return nil, status.Error(codes.InvalidArgument, `mode must be "all" or "any"`)
	}
	return structpb.NewStruct(map[string]any{"allowed": i.svc.Authorize(p, required, mode)})
}

func whoamiHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IntrospectionServer).Whoami(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: WhoamiMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(IntrospectionServer).Whoami(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func checkHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IntrospectionServer).Check(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: CheckMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(IntrospectionServer).Check(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var introspectionDesc = grpc.ServiceDesc{
	ServiceName: IntrospectionService,
	HandlerType: (*IntrospectionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Whoami", Handler: whoamiHandler},
		{MethodName: "Check", Handler: checkHandler},
	},
	Streams: []grpc.StreamDesc{},
}

// IntrospectionClient calls the introspection service. A bearer token stored
// with auth.ContextWithToken is forwarded unless the call already carries
// authorization metadata.
type IntrospectionClient struct {
	cc grpc.ClientConnInterface
}

func NewIntrospectionClient(cc grpc.ClientConnInterface) *IntrospectionClient {
	return &IntrospectionClient{cc: cc}
}

func (c *IntrospectionClient) Whoami(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(forwardBearer(ctx), WhoamiMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Check reports whether the caller satisfies required under mode.
func (c *IntrospectionClient) Check(ctx context.Context, mode auth.Mode, required []string, opts ...grpc.CallOption) (bool, error) {
	list := make([]any, 0, len(required))
	for _, code := range required {
		list = append(list, code)
	}
	in, err := structpb.NewStruct(map[string]any{"permissions": list, "mode": mode.String()})
	if err != nil {
		return false, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(forwardBearer(ctx), CheckMethod, in, out, opts...); err != nil {
		return false, err
	}
	return out.GetFields()["allowed"].GetBoolValue(), nil
}

func forwardBearer(ctx context.Context) context.Context {
	if md, ok := metadata.FromOutgoingContext(ctx); ok && len(md.Get("authorization")) > 0 {
		return ctx
	}
	token, ok := auth.TokenFromContext(ctx)
	if !ok {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
}
