package openguard

import (
	"context"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/porthorian/openguard/pkg/authz"
	"github.com/porthorian/openguard/pkg/cache"
	oerrors "github.com/porthorian/openguard/pkg/errors"
	"github.com/porthorian/openguard/pkg/session"
	"github.com/porthorian/openguard/pkg/storage"
)

type Config struct {
	// Store is required unless Runtime.Storage selects a backend.
	Store storage.IdentityStore
	// Cache is optional; Runtime.Cache may select a backend instead.
	Cache cache.IdentityCache
	// Verifier overrides the HMAC verifier built from Runtime.Verifier.
	Verifier session.TokenValidator
	Logger   logr.Logger
	// Registerer receives the guard's metrics. Nil disables metrics.
	Registerer prometheus.Registerer
	Runtime    RuntimeConfig
}

type Client struct {
	// mu guards verifier, resolver and closeResource against Close.
	mu            sync.RWMutex
	verifier      session.TokenValidator
	resolver      *Resolver
	evaluator     *authz.Evaluator
	store         storage.IdentityStore
	metrics       *Metrics
	logger        logr.Logger
	closeResource func() error
}

var _ Guard = (*Client)(nil)

func New(config Config) (*Client, error) {
	closeResource, resolvedConfig, err := config.initialize(context.Background())
	if err != nil {
		return nil, err
	}

	resolver, err := NewResolver(resolvedConfig.Store, resolvedConfig.Cache, resolvedConfig.Runtime.Resolver, resolvedConfig.Logger)
	if err != nil {
		_ = closeResource()
		return nil, err
	}

	metrics, err := NewMetrics(resolvedConfig.Registerer)
	if err != nil {
		_ = closeResource()
		return nil, oerrors.Wrap(oerrors.CodeUnknown, "failed to register metrics", err)
	}
	resolver.metrics = metrics

	return &Client{
		verifier:      resolvedConfig.Verifier,
		resolver:      resolver,
		evaluator:     authz.NewEvaluator(resolvedConfig.Runtime.SuperuserRole),
		store:         resolvedConfig.Store,
		metrics:       metrics,
		logger:        resolvedConfig.Logger,
		closeResource: closeResource,
	}, nil
}

func errClientClosed() error {
	return oerrors.Wrap(oerrors.CodeUnknown, "client is closed", oerrors.ErrClientClosed)
}

// components returns the verifier and resolver, or nils once closed.
func (c *Client) components() (session.TokenValidator, *Resolver) {
	if c == nil {
		return nil, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.verifier, c.resolver
}

func (c *Client) Authenticate(ctx context.Context, credential string, mode AuthMode) (*Identity, error) {
	verifier, resolver := c.components()
	if verifier == nil || resolver == nil {
		return nil, errClientClosed()
	}

	credential = strings.TrimSpace(credential)
	if credential == "" && mode == AuthOptional {
		return nil, nil
	}

	claims, err := validate(ctx, verifier, credential)
	if err != nil {
		return nil, err
	}

	identity, err := resolver.Resolve(ctx, claims.Subject)
	if err != nil {
		logInternal(c.logger, err, "identity resolution failed", "subject", claims.Subject)
		return nil, err
	}
	return identity, nil
}

// Validate verifies a bearer credential without resolving its subject.
func (c *Client) Validate(ctx context.Context, token string) (session.Claims, error) {
	verifier, _ := c.components()
	if verifier == nil {
		return session.Claims{}, errClientClosed()
	}
	return validate(ctx, verifier, token)
}

func validate(ctx context.Context, verifier session.TokenValidator, token string) (session.Claims, error) {
	claims, err := verifier.ValidateToken(ctx, token)
	if err != nil {
		if oerrors.CodeOf(err) == oerrors.CodeUnknown {
			return session.Claims{}, oerrors.Wrap(oerrors.CodeInvalidCredential, "bearer credential is invalid", err)
		}
		return session.Claims{}, err
	}
	return claims, nil
}

func (c *Client) Resolve(ctx context.Context, subjectID string) (*Identity, error) {
	_, resolver := c.components()
	if resolver == nil {
		return nil, errClientClosed()
	}
	return resolver.Resolve(ctx, subjectID)
}

// Authorize checks identity against requirement. A nil identity is anonymous.
func (c *Client) Authorize(identity *Identity, requirement authz.Requirement) error {
	var subject authz.Subject
	if identity != nil {
		subject = identity
	}

	var evaluator *authz.Evaluator
	if c != nil {
		evaluator = c.evaluator
	}
	if evaluator == nil {
		evaluator = authz.NewEvaluator("")
	}

	err := evaluator.Evaluate(subject, requirement)
	if c != nil {
		c.metrics.observeDecision(err)
	}
	return err
}

func (c *Client) Invalidate(ctx context.Context, subjectID string) error {
	_, resolver := c.components()
	if resolver == nil {
		return nil
	}
	err := resolver.Invalidate(ctx, subjectID)
	logInternal(c.logger, err, "identity invalidation failed", "subject", subjectID)
	return err
}

// AdminStore returns the configured store when it supports writes.
func (c *Client) AdminStore() (storage.Store, bool) {
	if c == nil {
		return nil, false
	}
	store, ok := c.store.(storage.Store)
	return store, ok
}

func (c *Client) Close() error {
	if c == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeResource == nil {
		return nil
	}

	err := c.closeResource()
	if err != nil {
		return oerrors.Wrap(oerrors.CodeUnknown, "failed to close client resources", err)
	}
	c.closeResource = nil
	c.verifier = nil
	c.resolver = nil
	return nil
}
