package web

import (
	"context"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/relay/pkg/observability"
	"github.com/platinummonkey/relay/pkg/oidcrp"
	"github.com/platinummonkey/relay/pkg/openid"
	"github.com/platinummonkey/relay/pkg/saml"
	"github.com/platinummonkey/relay/pkg/state"
)

// OpenIDCompleter finishes OpenID 2.0 browser callbacks.
type OpenIDCompleter interface {
	Complete(ctx context.Context, rawToken string, query url.Values) (*openid.Completion, error)
}

// SAMLConsumer processes inbound SAML responses.
type SAMLConsumer interface {
	Consume(ctx context.Context, encodedResponse string) (*saml.Result, error)
}

// OIDCRelyingParty starts and finishes OIDC authorization-code flows.
type OIDCRelyingParty interface {
	BeginRedirect(ctx context.Context, rawToken string) (string, error)
	Complete(ctx context.Context, rawToken, code string) (*oidcrp.Completion, error)
}

// Options carries the collaborators of the HTTP server. OIDC is optional;
// the route is registered only when a relying party is configured.
type Options struct {
	Store   state.Store
	OpenID  OpenIDCompleter
	SAML    SAMLConsumer
	OIDC    OIDCRelyingParty
	Metrics *observability.Metrics
	Health  *observability.HealthChecker
	Log     *logrus.Entry
}

// Server routes the relay's HTTP surface.
type Server struct {
	router    *mux.Router
	store     state.Store
	registrar *state.Registrar
	openid    OpenIDCompleter
	saml      SAMLConsumer
	oidc      OIDCRelyingParty
	metrics   *observability.Metrics
	health    *observability.HealthChecker
	log       *logrus.Entry
}

// maxBodyBytes bounds inbound bodies; SAML responses stay well below this.
const maxBodyBytes = 1 << 20

// NewServer builds the router with all middleware applied.
func NewServer(opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{
		router:    mux.NewRouter(),
		store:     opts.Store,
		registrar: state.NewRegistrar(opts.Store),
		openid:    opts.OpenID,
		saml:      opts.SAML,
		oidc:      opts.OIDC,
		metrics:   opts.Metrics,
		health:    opts.Health,
		log:       log,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all routes.
func (s *Server) setupRoutes() {
	// Browser-facing protocol callbacks
	s.router.HandleFunc("/openid/cb/{token}", s.openidCallback).Methods("GET")
	s.router.HandleFunc("/saml/acs", s.samlACS).Methods("POST")
	if s.oidc != nil {
		s.router.HandleFunc("/oidc/redirect/{token}", s.oidcRedirect).Methods("GET")
		s.router.HandleFunc("/oidc/cb/{token}", s.oidcCallback).Methods("GET")
	}

	// Correlation record API for the mail-server side
	s.router.HandleFunc("/state/{token}", s.registerState).Methods("POST")
	s.router.HandleFunc("/state/{token}", s.pollState).Methods("GET")

	if s.health != nil {
		s.router.HandleFunc("/healthz", s.health.Liveness).Methods("GET")
		s.router.HandleFunc("/readyz", s.health.Readiness).Methods("GET")
	}
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	s.router.Use(
		RequestIDMiddleware,
		LoggingMiddleware(s.log, s.metrics),
		RecoveryMiddleware(s.log),
		MaxBytesMiddleware(maxBodyBytes),
	)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
