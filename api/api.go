// Package api exposes the CSR signing operation over HTTP. It is a thin
// facade: all certificate logic lives in the signer package, the handlers
// only marshal PEM blobs in and out and map error categories to status
// codes.
package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/signet/signer"
)

//go:embed openapi.yaml
var openapiSpec []byte

// API holds the dependencies needed by the REST handlers.
type API struct {
	base       *signer.Signer
	signerOpts []signer.Option
	caKeyPEM   []byte
	caCertPEM  []byte
	audit      *auditLogger
}

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.audit = newAuditLogger(logger)
	}
}

// WithIssuer provides the server-held CA private key and certificate used
// by POST /sign. Without it, only POST /sign-bundle (caller-supplied CA
// material) is available.
func WithIssuer(caKeyPEM, caCertPEM []byte) Option {
	return func(a *API) {
		a.caKeyPEM = caKeyPEM
		a.caCertPEM = caCertPEM
	}
}

// WithSignerOptions sets the issuance policy (serial source, validity,
// passphrase, extension profile) applied to every signing request.
func WithSignerOptions(opts ...signer.Option) Option {
	return func(a *API) {
		a.signerOpts = opts
	}
}

// New creates a new API instance.
func New(opts ...Option) *API {
	a := &API{}
	for _, opt := range opts {
		opt(a)
	}
	a.base = signer.New(a.signerOpts...)
	if a.audit == nil {
		a.audit = newAuditLogger(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	}
	return a
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.Get("/health", a.Health)
	r.Post("/sign", a.SignCSR)
	r.Post("/sign-bundle", a.SignBundle)

	return r
}
