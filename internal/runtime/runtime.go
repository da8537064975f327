// Package runtime assembles the rex daemon: telemetry, the message
// bus, the transcript store, the audio devices, and the voice session,
// plus the local HTTP surface for health and inspection.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rexdesk/rex-core/internal/audio"
	"github.com/rexdesk/rex-core/internal/bus"
	"github.com/rexdesk/rex-core/internal/config"
	"github.com/rexdesk/rex-core/internal/desk"
	"github.com/rexdesk/rex-core/internal/natsserver"
	"github.com/rexdesk/rex-core/internal/session"
	"github.com/rexdesk/rex-core/internal/transcriptstore"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	promServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	natsServer *natsserver.EmbeddedServer
	busClient  *bus.Client
	store      *transcriptstore.Store
	device     *audio.Device
	sess       *session.Session
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings up every subsystem, runs until ctx is cancelled, then
// tears them down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	ns, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	r.natsServer = ns

	busClient, err := bus.Connect(r.cfg.Bus, r.logger)
	if err != nil {
		// The session runs fine without change notifications.
		r.logger.Warn("bus unavailable, ticket notifications disabled", slog.String("error", err.Error()))
	}
	r.busClient = busClient

	store, err := transcriptstore.Open(ctx, r.cfg.Transcripts, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open transcript store: %w", err)
	}
	r.store = store

	device, err := audio.NewDevice(r.cfg.Audio.SampleRate, r.cfg.Audio.PlaybackBufferMS)
	if err != nil {
		return fmt.Errorf("failed to open audio output: %w", err)
	}
	r.device = device

	scheduler := audio.NewScheduler(audio.SchedulerConfig{
		SampleRate:   r.cfg.Audio.SampleRate,
		SafetyMargin: time.Duration(r.cfg.Audio.SafetyMarginMS) * time.Millisecond,
	}, device, r.logger)

	capture := audio.NewCapture(audio.CaptureConfig{
		SampleRate:   r.cfg.Audio.SampleRate,
		FrameSamples: r.cfg.Audio.FrameSamples,
		DeviceName:   r.cfg.Audio.CaptureDevice,
	}, r.logger)

	deskClient := desk.NewClient(r.cfg.Gateway.BaseURL)
	dialer := &gatewayDialer{
		cfg:  r.cfg.Gateway,
		desk: deskClient,
		log:  r.logger,
	}

	var notifier session.Notifier
	if busClient != nil {
		notifier = bus.NewTicketNotifier(busClient, r.logger)
	}

	r.sess = session.New(session.Config{
		ReconnectEnabled: r.cfg.Session.ReconnectEnabled,
		ReconnectBackoff: time.Duration(r.cfg.Session.ReconnectBackoffMS) * time.Millisecond,
		ReplayTurns:      r.cfg.Session.ReplayTurns,
		PreserveContext:  r.cfg.Session.PreserveContext,
	}, session.Deps{
		Transport: dialer,
		Capture:   capture,
		Playback:  scheduler,
		Notifier:  notifier,
		Recorder:  transcriptstore.NewRecorder(store, r.logger),
	}, r.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/api/session", r.handleSession)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	if metricHandler != nil {
		promMux := http.NewServeMux()
		promMux.Handle("/metrics", metricHandler)
		r.promServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           promMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.promServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	if r.cfg.Session.AutoConnect {
		if err := r.sess.Connect(ctx); err != nil {
			r.logger.Warn("initial voice connect failed", slog.String("error", err.Error()))
		}
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	r.sess.Disconnect()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.promServer != nil {
		if err := r.promServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if err := r.store.Close(); err != nil {
		r.logger.Error("transcript store close error", slog.String("error", err.Error()))
	}
	r.busClient.Close()
	r.natsServer.Shutdown()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// Session exposes the voice session for embedding callers.
func (r *Runtime) Session() *session.Session {
	return r.sess
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

// handleSession reports the live session snapshot, and accepts POST
// with {"action":"connect"|"disconnect"} to drive it.
func (r *Runtime) handleSession(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(r.sess.Snapshot()); err != nil {
			r.logger.Warn("session snapshot encode failed", slog.String("error", err.Error()))
		}

	case http.MethodPost:
		var body struct {
			Action string `json:"action"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		switch body.Action {
		case "connect":
			if err := r.sess.Connect(req.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusConflict)
				return
			}
		case "disconnect":
			r.sess.Disconnect()
		default:
			http.Error(w, "unknown action", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(r.sess.Snapshot())

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
