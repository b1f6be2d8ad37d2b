package httptransport

import (
	"errors"
	"net/http"

	"github.com/go-logr/logr"

	"github.com/porthorian/openguard"
	"github.com/porthorian/openguard/pkg/authz"
	oerrors "github.com/porthorian/openguard/pkg/errors"
)

const DefaultTokenHeader = "Authorization"

var ErrNilGuard = errors.New("http transport: guard is nil")

type MiddlewareConfig struct {
	TokenHeader string
	// CookieName is consulted when the header is absent. Empty disables it.
	CookieName  string
	ErrorWriter ErrorWriter
	Logger      logr.Logger
}

func DefaultConfig() MiddlewareConfig {
	return MiddlewareConfig{
		TokenHeader: DefaultTokenHeader,
		ErrorWriter: WriteError,
	}
}

// Guard adapts an openguard.Guard to net/http middleware.
type Guard struct {
	guard  openguard.Guard
	config MiddlewareConfig
}

func NewGuard(guard openguard.Guard, config MiddlewareConfig) (*Guard, error) {
	if guard == nil {
		return nil, ErrNilGuard
	}
	if config.TokenHeader == "" {
		config.TokenHeader = DefaultTokenHeader
	}
	if config.ErrorWriter == nil {
		config.ErrorWriter = WriteError
	}
	if config.Logger.GetSink() == nil {
		config.Logger = logr.Discard()
	}
	return &Guard{guard: guard, config: config}, nil
}

// Authenticate resolves the caller and stores the identity on the request
// context. With AuthOptional, requests without a credential continue
// anonymously.
func (g *Guard) Authenticate(mode openguard.AuthMode) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential, err := BearerToken(r, g.config)
			if err != nil {
				g.fail(w, r, err)
				return
			}

			identity, err := g.guard.Authenticate(r.Context(), credential, mode)
			if err != nil {
				g.fail(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(openguard.WithIdentity(r.Context(), identity)))
		})
	}
}

// Require rejects requests whose identity does not satisfy requirement. It
// expects Authenticate to have run earlier in the chain.
func (g *Guard) Require(requirement authz.Requirement) func(http.Handler) http.Handler {
	requirement = requirement.Normalize()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := g.Authorize(r, requirement); err != nil {
				g.fail(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Authorize is the in-handler form of Require.
func (g *Guard) Authorize(r *http.Request, requirement authz.Requirement) error {
	return g.guard.Authorize(openguard.IdentityFromContext(r.Context()), requirement)
}

// Fail writes err with the configured ErrorWriter.
func (g *Guard) Fail(w http.ResponseWriter, r *http.Request, err error) {
	g.fail(w, r, err)
}

func (g *Guard) fail(w http.ResponseWriter, r *http.Request, err error) {
	if oerrors.IsInternalCode(err) {
		g.config.Logger.Error(err, "guard failure", "method", r.Method, "path", r.URL.Path)
	} else {
		g.config.Logger.V(1).Info("request rejected", "method", r.Method, "path", r.URL.Path, "code", oerrors.CodeOf(err), "reason", err.Error())
	}
	g.config.ErrorWriter(w, r, err)
}
