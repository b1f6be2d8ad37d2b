package grpctransport

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/porthorian/openguard"
	"github.com/porthorian/openguard/pkg/authz"
	oerrors "github.com/porthorian/openguard/pkg/errors"
)

const AuthorizationMetadataKey = "authorization"

var ErrNilGuard = errors.New("grpc transport: guard is nil")

// MethodPolicy is how one RPC is guarded.
type MethodPolicy struct {
	Mode        openguard.AuthMode
	Requirement authz.Requirement
}

type Config struct {
	// Methods is keyed by full method name, e.g. "/pkg.Service/Method".
	Methods map[string]MethodPolicy
	// Default applies to methods missing from Methods. The zero value requires
	// authentication and nothing else.
	Default MethodPolicy
	Logger  logr.Logger
}

// PoliciesFromRegistry builds a method table from named policies.
func PoliciesFromRegistry(registry *authz.Registry, mode openguard.AuthMode, methods map[string]string) (map[string]MethodPolicy, error) {
	out := make(map[string]MethodPolicy, len(methods))
	for method, name := range methods {
		requirement, ok := registry.Policy(name)
		if !ok {
			return nil, fmt.Errorf("grpc transport: method %s: %w %q", method, authz.ErrUnknownPolicy, name)
		}
		out[method] = MethodPolicy{Mode: mode, Requirement: requirement}
	}
	return out, nil
}

type interceptor struct {
	guard  openguard.Guard
	config Config
}

func newInterceptor(guard openguard.Guard, config Config) (*interceptor, error) {
	if guard == nil {
		return nil, ErrNilGuard
	}
	if config.Logger.GetSink() == nil {
		config.Logger = logr.Discard()
	}
	methods := make(map[string]MethodPolicy, len(config.Methods))
	for method, policy := range config.Methods {
		policy.Requirement = policy.Requirement.Normalize()
		methods[method] = policy
	}
	config.Methods = methods
	config.Default.Requirement = config.Default.Requirement.Normalize()
	return &interceptor{guard: guard, config: config}, nil
}

func UnaryServerInterceptor(guard openguard.Guard, config Config) (grpc.UnaryServerInterceptor, error) {
	i, err := newInterceptor(guard, config)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := i.authenticate(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}, nil
}

func StreamServerInterceptor(guard openguard.Guard, config Config) (grpc.StreamServerInterceptor, error) {
	i, err := newInterceptor(guard, config)
	if err != nil {
		return nil, err
	}
	return func(srv any, stream grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := i.authenticate(stream.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &guardedStream{ServerStream: stream, ctx: ctx})
	}, nil
}

// Authorize is the in-handler check for identities placed on ctx by the
// interceptors.
func Authorize(ctx context.Context, guard openguard.Authorizer, requirement authz.Requirement) error {
	if guard == nil {
		return Status(oerrors.Wrap(oerrors.CodeUnknown, "grpc transport: guard is nil", ErrNilGuard))
	}
	return Status(guard.Authorize(openguard.IdentityFromContext(ctx), requirement))
}

func (i *interceptor) authenticate(ctx context.Context, method string) (context.Context, error) {
	policy, ok := i.config.Methods[method]
	if !ok {
		policy = i.config.Default
	}

	credential, err := credentialFromMetadata(ctx)
	if err != nil {
		return nil, i.fail(method, err)
	}

	identity, err := i.guard.Authenticate(ctx, credential, policy.Mode)
	if err != nil {
		return nil, i.fail(method, err)
	}
	if err := i.guard.Authorize(identity, policy.Requirement); err != nil {
		return nil, i.fail(method, err)
	}

	return openguard.WithIdentity(ctx, identity), nil
}

func (i *interceptor) fail(method string, err error) error {
	if oerrors.IsInternalCode(err) {
		i.config.Logger.Error(err, "guard failure", "method", method)
	} else {
		i.config.Logger.V(1).Info("rpc rejected", "method", method, "code", oerrors.CodeOf(err))
	}
	return Status(err)
}

func credentialFromMetadata(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", nil
	}
	values := md.Get(AuthorizationMetadataKey)
	if len(values) == 0 {
		return "", nil
	}

	value := strings.TrimSpace(values[0])
	if value == "" {
		return "", nil
	}
	scheme, credential, found := strings.Cut(value, " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", oerrors.New(oerrors.CodeInvalidCredential, "authorization metadata must use the Bearer scheme")
	}
	return strings.TrimSpace(credential), nil
}

type guardedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *guardedStream) Context() context.Context {
	return s.ctx
}
