// Package api exposes sessions, wallets, transaction relay and the
// notification websocket over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"solana-action-relay/internal/config"
	"solana-action-relay/internal/domain"
	"solana-action-relay/internal/observability"
	"solana-action-relay/internal/session"
	"solana-action-relay/internal/storage"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Sessions drives multi-turn actions. Implemented by session.Manager.
type Sessions interface {
	Advance(ctx context.Context, key string, kind domain.ActionKind, input string, opts ...session.AdvanceOption) (session.Reply, error)
	Cancel(ctx context.Context, key string) (bool, error)
	Current(ctx context.Context, key string) (*domain.ActionSession, string, error)
}

// Wallets manages custodied wallets. Implemented by wallet.Registry.
type Wallets interface {
	Generate(ctx context.Context, ownerID string) (domain.Wallet, error)
	Import(ctx context.Context, ownerID, secretMaterial string) (domain.Wallet, error)
	Get(ctx context.Context, walletID string) (domain.Wallet, error)
	FindByOwner(ctx context.Context, ownerID string) ([]domain.Wallet, error)
	SetDefault(ctx context.Context, walletID string) error
}

// Submitter relays transactions. Implemented by relay.Relay.
type Submitter interface {
	SubmitBase64(ctx context.Context, payload, walletAddress string) (string, error)
	SubmitCustodial(ctx context.Context, walletID, walletAddress string, unsigned []byte) (string, error)
}

// Server serves the HTTP API.
type Server struct {
	sessions  Sessions
	wallets   Wallets
	submitter Submitter
	tokens    storage.TokenMetadataStore
	signing   func(domain.ActionKind) config.SigningMode
	ws        http.Handler
	logger    *zap.Logger
	now       func() time.Time
}

// Options for creating Server.
type Options struct {
	// Required
	Sessions  Sessions
	Wallets   Wallets
	Submitter Submitter

	// Optional
	Tokens  storage.TokenMetadataStore                 // launched tokens are recorded here
	Signing func(domain.ActionKind) config.SigningMode // client signing for every kind by default
	WS      http.Handler                               // mounted at /v1/ws
	Logger  *zap.Logger
	Now     func() time.Time
}

// New creates a new Server.
func New(opts Options) *Server {
	s := &Server{
		sessions:  opts.Sessions,
		wallets:   opts.Wallets,
		submitter: opts.Submitter,
		tokens:    opts.Tokens,
		signing:   opts.Signing,
		ws:        opts.WS,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if s.signing == nil {
		s.signing = func(domain.ActionKind) config.SigningMode { return config.SigningClient }
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.Named("api")
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", observability.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/sessions/{key}", func(r chi.Router) {
			r.Get("/", s.handleCurrentSession)
			r.Delete("/", s.handleCancelSession)
			r.Post("/advance", s.handleAdvance)
		})

		r.Post("/transactions", s.handleSubmit)

		r.Route("/wallets", func(r chi.Router) {
			r.Get("/", s.handleListWallets)
			r.Post("/", s.handleGenerateWallet)
			r.Post("/import", s.handleImportWallet)
			r.Post("/{id}/default", s.handleSetDefault)
		})

		if s.ws != nil {
			r.Get("/ws", s.ws.ServeHTTP)
		}
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
