// Package api provides HTTP handlers and the main server wiring for FormPipe.
//
// It exposes RESTful admin endpoints for starting and listing conversations
// and for toggling script availability, and it pumps inbound transport
// events into the conversation manager.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OutbreakHQ/FormPipe/internal/flow"
	"github.com/OutbreakHQ/FormPipe/internal/game"
	"github.com/OutbreakHQ/FormPipe/internal/lockfile"
	"github.com/OutbreakHQ/FormPipe/internal/messaging"
	"github.com/OutbreakHQ/FormPipe/internal/scheduler"
	"github.com/OutbreakHQ/FormPipe/internal/script"
	"github.com/OutbreakHQ/FormPipe/internal/store"
	"github.com/OutbreakHQ/FormPipe/internal/twiliowhatsapp"
	"github.com/OutbreakHQ/FormPipe/internal/whatsapp"
)

// Defaults for the API server.
const (
	DefaultAddr = ":8080"
	// DefaultIdleSweepCron runs the idle-conversation eviction every five
	// minutes.
	DefaultIdleSweepCron = "*/5 * * * *"
	// DefaultShutdownTimeout bounds graceful HTTP shutdown.
	DefaultShutdownTimeout = 10 * time.Second
)

// Transport selects the chat backend the server runs against.
const (
	TransportWhatsApp = "whatsapp"
	TransportTwilio   = "twilio"
	TransportNone     = "none"
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr                string
	ScriptsPath         string
	Transport           string
	StateDir            string
	ConversationTimeout time.Duration
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithScriptsPath sets the path to the YAML script collection.
func WithScriptsPath(path string) Option {
	return func(o *Opts) { o.ScriptsPath = path }
}

// WithTransport selects the chat transport ("whatsapp", "twilio", or
// "none" for an in-memory transport useful in development).
func WithTransport(name string) Option {
	return func(o *Opts) { o.Transport = name }
}

// WithStateDir sets the state directory used for the instance lock.
func WithStateDir(dir string) Option {
	return func(o *Opts) { o.StateDir = dir }
}

// WithConversationTimeout sets the idle conversation timeout.
func WithConversationTimeout(d time.Duration) Option {
	return func(o *Opts) { o.ConversationTimeout = d }
}

// Server carries the dependencies the HTTP handlers need.
type Server struct {
	msgService messaging.Service
	manager    *flow.Manager
	st         store.Store
	library    *script.Library
}

// NewServer creates an API server around already-wired dependencies.
func NewServer(msgService messaging.Service, manager *flow.Manager, st store.Store, library *script.Library) *Server {
	return &Server{
		msgService: msgService,
		manager:    manager,
		st:         st,
		library:    library,
	}
}

// Handler returns the HTTP routes for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/conversations", s.conversationsHandler)
	mux.HandleFunc("/scripts/", s.scriptsHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// Run wires every module together and serves until SIGINT or SIGTERM: it
// opens the store, loads the script library against the built-in processor
// registry, starts the selected transport, pumps inbound events into the
// conversation manager, and schedules the idle sweep.
func Run(waOpts []whatsapp.Option, storeOpts []store.Option, apiOpts []Option) error {
	cfg := Opts{
		Addr:      DefaultAddr,
		Transport: TransportWhatsApp,
	}
	for _, opt := range apiOpts {
		opt(&cfg)
	}
	if cfg.ScriptsPath == "" {
		return errors.New("no scripts path configured")
	}

	// One instance per state directory.
	var lock *lockfile.Lock
	if cfg.StateDir != "" {
		var err error
		lock, err = lockfile.AcquireLock(cfg.StateDir)
		if err != nil {
			return fmt.Errorf("failed to acquire instance lock: %w", err)
		}
		defer lock.Release()
	}

	st, err := openStore(storeOpts)
	if err != nil {
		return err
	}
	defer st.Close()

	registry := script.NewRegistry()
	if err := game.RegisterBuiltins(registry); err != nil {
		return err
	}
	library, err := script.Load(cfg.ScriptsPath, registry)
	if err != nil {
		return err
	}

	msgService, err := openTransport(cfg.Transport, waOpts)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := msgService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	defer msgService.Stop()

	var managerOpts []flow.Option
	if cfg.ConversationTimeout > 0 {
		managerOpts = append(managerOpts, flow.WithConversationTimeout(cfg.ConversationTimeout))
	}
	manager := flow.NewManager(msgService, library, st, game.NewContext(st, nil), managerOpts...)

	// Pump inbound transport events into the manager.
	go pumpResponses(ctx, msgService, manager)
	go pumpInteractions(ctx, msgService, manager)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddJob(DefaultIdleSweepCron, func() {
		if n := manager.EvictIdle(context.Background()); n > 0 {
			slog.Info("Idle sweep evicted conversations", "count", n)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule idle sweep: %w", err)
	}

	server := NewServer(msgService, manager, st, library)
	mux := http.NewServeMux()
	mux.Handle("/", server.Handler())
	if twilioSvc, ok := msgService.(*messaging.TwilioService); ok {
		mux.HandleFunc("/twilio/webhook", twilioSvc.TwilioWebhookHandler)
	}

	httpServer := &http.Server{Addr: cfg.Addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("FormPipe API listening", "addr", cfg.Addr, "transport", cfg.Transport, "scripts", library.Len())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed: %w", err)
	case sig := <-sigCh:
		slog.Info("Shutting down on signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer shutdownCancel()
	manager.Shutdown(shutdownCtx)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown error", "error", err)
	}
	return nil
}

// openStore picks a backend from the configured DSN: Postgres for
// postgres-style DSNs, SQLite for file paths, in-memory when no DSN is set.
func openStore(storeOpts []store.Option) (store.Store, error) {
	var cfg store.Opts
	for _, opt := range storeOpts {
		opt(&cfg)
	}
	switch {
	case cfg.DSN == "":
		slog.Info("No database DSN configured, using in-memory store")
		return store.NewInMemoryStore(), nil
	case store.DetectDSNType(cfg.DSN) == "postgres":
		return store.NewPostgresStore(storeOpts...)
	default:
		return store.NewSQLiteStore(storeOpts...)
	}
}

// openTransport builds the messaging service for the selected transport.
func openTransport(transport string, waOpts []whatsapp.Option) (messaging.Service, error) {
	switch transport {
	case TransportWhatsApp:
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		return messaging.NewWhatsAppService(client), nil
	case TransportTwilio:
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		return messaging.NewTwilioService(client), nil
	case TransportNone:
		slog.Warn("Running with the in-memory mock transport; no real messages will be sent")
		return messaging.NewMockService(), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", transport)
	}
}

// pumpResponses forwards inbound free-text replies to the manager until the
// channel closes or the context ends.
func pumpResponses(ctx context.Context, msgService messaging.Service, manager *flow.Manager) {
	for {
		select {
		case <-ctx.Done():
			return
		case resp, ok := <-msgService.Responses():
			if !ok {
				return
			}
			go func() {
				if err := manager.HandleResponse(ctx, resp); err != nil {
					slog.Error("Failed to handle inbound response", "error", err, "from", resp.From)
				}
			}()
		}
	}
}

// pumpInteractions forwards inbound button presses and form submissions.
func pumpInteractions(ctx context.Context, msgService messaging.Service, manager *flow.Manager) {
	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-msgService.Interactions():
			if !ok {
				return
			}
			go func() {
				if err := manager.HandleInteraction(ctx, in); err != nil {
					slog.Error("Failed to handle inbound interaction", "error", err, "from", in.From)
				}
			}()
		}
	}
}
