package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/porthorian/openguard"
	"github.com/porthorian/openguard/pkg/authz"
	oerrors "github.com/porthorian/openguard/pkg/errors"
	httptransport "github.com/porthorian/openguard/pkg/transport/http"
)

// Policy names use ':' since koanf nests keys on '.'.
const (
	policyIdentitiesRead  = "identities:read"
	policyIdentitiesEvict = "identities:evict"
)

func init() {
	rootCmd.AddCommand(newServeCommand())
}

func newServeCommand() *cobra.Command {
	var address string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the demo HTTP server guarded by OpenGuard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			if address != "" {
				cfg.Server.Address = address
			}

			registry := prometheus.NewRegistry()
			registry.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			clientConfig := cfg.clientConfig(logger)
			clientConfig.Registerer = registry
			client, err := openguard.New(clientConfig)
			if err != nil {
				return err
			}
			defer client.Close()

			if cfg.Server.SeedFile != "" {
				if err := seedFromFile(cmd.Context(), client, cfg.Server.SeedFile); err != nil {
					return err
				}
			}

			policies, err := cfg.policyRegistry()
			if err != nil {
				return fmt.Errorf("build policies: %w", err)
			}

			router, err := newServeRouter(client, policies, registry, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runServer(ctx, &http.Server{
				Addr:              cfg.Server.Address,
				Handler:           router,
				ReadHeaderTimeout: 5 * time.Second,
			}, cfg.Server.ShutdownTimeout, logger)
		},
	}

	serveCmd.Flags().StringVar(&address, "address", "", "Listen address. Overrides server.address.")
	return serveCmd
}

func seedFromFile(ctx context.Context, client *openguard.Client, path string) error {
	seed, err := readSeedFile(path)
	if err != nil {
		return err
	}
	store, ok := client.AdminStore()
	if !ok {
		return errors.New("configured storage backend does not accept writes")
	}
	_, err = applySeed(ctx, store, client, seed)
	return err
}

func runServer(ctx context.Context, server *http.Server, shutdownTimeout time.Duration, logger logr.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "address", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger.Info("shutting down")
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

type serveHandlers struct {
	client   *openguard.Client
	guard    *httptransport.Guard
	policies *authz.Registry
}

func newServeRouter(client *openguard.Client, policies *authz.Registry, registry *prometheus.Registry, logger logr.Logger) (http.Handler, error) {
	config := httptransport.DefaultConfig()
	config.Logger = logger.WithName("http")
	guard, err := httptransport.NewGuard(client, config)
	if err != nil {
		return nil, err
	}

	h := &serveHandlers{client: client, guard: guard, policies: policies}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_ = httptransport.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.With(guard.Authenticate(openguard.AuthOptional)).Get("/me", h.me)

		r.Group(func(r chi.Router) {
			r.Use(guard.Authenticate(openguard.AuthRequired))
			r.With(guard.Require(policies.MustPolicy(policyIdentitiesRead))).Get("/identities/{subject}", h.getIdentity)
			r.Delete("/identities/{subject}/cache", h.evictIdentity)
		})
	})

	return r, nil
}

func (h *serveHandlers) me(w http.ResponseWriter, r *http.Request) {
	identity := openguard.IdentityFromContext(r.Context())
	if identity == nil {
		_ = httptransport.WriteJSON(w, http.StatusOK, map[string]bool{"anonymous": true})
		return
	}
	_ = httptransport.WriteJSON(w, http.StatusOK, identity)
}

func (h *serveHandlers) getIdentity(w http.ResponseWriter, r *http.Request) {
	identity, err := h.client.Resolve(r.Context(), chi.URLParam(r, "subject"))
	if oerrors.IsCode(err, oerrors.CodeIdentityNotFound) {
		_ = httptransport.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "message": "identity not found"})
		return
	}
	if err != nil {
		h.guard.Fail(w, r, err)
		return
	}
	_ = httptransport.WriteJSON(w, http.StatusOK, identity)
}

// evictIdentity lets callers drop their own cache entry; anyone else needs
// the evict policy.
func (h *serveHandlers) evictIdentity(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")
	caller := openguard.IdentityFromContext(r.Context())

	if caller == nil || caller.ID != subject {
		if err := h.guard.Authorize(r, h.policies.MustPolicy(policyIdentitiesEvict)); err != nil {
			h.guard.Fail(w, r, err)
			return
		}
	}

	if err := h.client.Invalidate(r.Context(), subject); err != nil {
		h.guard.Fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
