// Package serve exposes the bot over HTTP: the WhatsApp webhook, a health
// check, an admin API with a live lot event stream, and the maintenance
// scheduler.
package serve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/everydev1618/pmc/bot"
	"github.com/everydev1618/pmc/parking"
	"github.com/everydev1618/pmc/semantic"
)

// Config holds server configuration.
type Config struct {
	Addr string

	// AdminToken guards /api/. Empty disables the admin API.
	AdminToken string

	// VerifyToken answers the webhook verification handshake.
	VerifyToken string

	// AppSecret enables X-Hub-Signature-256 checks when set.
	AppSecret string

	WebhookRatePerMinute int
	WebhookBurst         int

	// TrustedProxies lists proxy IPs or CIDRs whose X-Forwarded-For is
	// believed. Without any, clients are keyed by their peer address.
	TrustedProxies []string

	ShutdownTimeout time.Duration

	// Cron specs of the maintenance jobs. Empty disables a job.
	PremiumSweepCron      string
	ConversationPruneCron string
	IndexResyncCron       string
}

// Deps are the components the server drives.
type Deps struct {
	Service    *parking.Service
	Engine     *bot.Engine
	Dispatcher *bot.Dispatcher
	Index      *semantic.Index
	Broker     *EventBroker
	Telegram   *TelegramBot
	Logger     *slog.Logger
}

// Server is the HTTP front of the bot.
type Server struct {
	svc        *parking.Service
	engine     *bot.Engine
	dispatcher *bot.Dispatcher
	index      *semantic.Index
	broker     *EventBroker
	telegram   *TelegramBot
	scheduler  *Scheduler
	limiter    *ipRateLimiter
	proxies    trustedProxies
	logger     *slog.Logger
	cfg        Config
}

// New creates a Server.
func New(cfg Config, deps Deps) (*Server, error) {
	if cfg.Addr == "" {
		cfg.Addr = ":8000"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	proxies, err := parseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}
	broker := deps.Broker
	if broker == nil {
		broker = NewEventBroker()
	}
	s := &Server{
		svc:        deps.Service,
		engine:     deps.Engine,
		dispatcher: deps.Dispatcher,
		index:      deps.Index,
		broker:     broker,
		telegram:   deps.Telegram,
		scheduler:  NewScheduler(logger),
		limiter:    newIPRateLimiter(cfg.WebhookRatePerMinute, cfg.WebhookBurst),
		proxies:    proxies,
		logger:     logger,
		cfg:        cfg,
	}
	if err := s.addJobs(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) addJobs() error {
	jobs := []Job{
		{Name: "premium-expiry", Spec: s.cfg.PremiumSweepCron, Run: s.svc.ExpirePremium},
	}
	if s.engine != nil {
		jobs = append(jobs, Job{Name: "conversation-prune", Spec: s.cfg.ConversationPruneCron, Run: s.engine.History().Prune})
	}
	if s.index != nil {
		jobs = append(jobs, Job{Name: "index-resync", Spec: s.cfg.IndexResyncCron, Run: s.index.Sync, Timeout: 30 * time.Minute})
	}
	for _, j := range jobs {
		if j.Spec == "" {
			continue
		}
		if err := s.scheduler.AddJob(j); err != nil {
			return fmt.Errorf("job %s: %w", j.Name, err)
		}
	}
	return nil
}

// Scheduler returns the maintenance scheduler.
func (s *Server) Scheduler() *Scheduler {
	return s.scheduler
}

// Handler builds the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	webhook := http.NewServeMux()
	webhook.HandleFunc("GET /webhook", s.handleVerify)
	webhook.HandleFunc("POST /webhook", s.handleWebhook)
	mux.Handle("/webhook", s.limiter.middleware(s.proxies.clientIP, webhook))

	mux.HandleFunc("GET /healthz", s.handleHealth)

	api := http.NewServeMux()
	api.HandleFunc("GET /api/lots", s.handleListLots)
	api.HandleFunc("POST /api/lots", s.handleCreateLot)
	api.HandleFunc("GET /api/lots/{id}", s.handleGetLot)
	api.HandleFunc("PUT /api/lots/{id}/spots", s.handleUpdateSpots)
	api.HandleFunc("POST /api/managers", s.handleAssignManager)
	api.HandleFunc("GET /api/users/{id}", s.handleGetUser)
	api.HandleFunc("GET /api/users/{id}/conversation", s.handleGetConversation)
	api.HandleFunc("DELETE /api/users/{id}/conversation", s.handleClearConversation)
	api.HandleFunc("POST /api/index/sync", s.handleSyncIndex)
	api.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.Handle("/api/", requireAdmin(s.cfg.AdminToken, compress(api)))

	// Event streams are flushed per event and stay uncompressed.
	mux.Handle("GET /api/events", requireAdmin(s.cfg.AdminToken, http.HandlerFunc(s.handleEvents)))

	return logRequests(s.logger, s.proxies.clientIP, mux)
}

// Run serves HTTP and runs the dispatcher, scheduler and Telegram poller
// until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("pmc serve started", "addr", ln.Addr().String())
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down server")

		// Closing the broker ends SSE handlers so the server can drain.
		s.broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("server shutdown error", "error", err)
		}
		return nil
	})

	if s.dispatcher != nil {
		g.Go(func() error { return s.dispatcher.Run(gctx) })
	}
	g.Go(func() error {
		s.scheduler.Start(gctx)
		return nil
	})
	g.Go(func() error {
		s.limiter.run(gctx)
		return nil
	})
	if s.telegram != nil {
		g.Go(func() error {
			s.telegram.Start(gctx)
			return nil
		})
	}

	return g.Wait()
}
