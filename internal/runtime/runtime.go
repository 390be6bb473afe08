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

	"github.com/nats-io/nats.go"
	"github.com/udhaarlabs/udhaar-core/internal/bus"
	"github.com/udhaarlabs/udhaar-core/internal/capture"
	"github.com/udhaarlabs/udhaar-core/internal/config"
	"github.com/udhaarlabs/udhaar-core/internal/extract"
	"github.com/udhaarlabs/udhaar-core/internal/journal"
	"github.com/udhaarlabs/udhaar-core/internal/ledger"
	"github.com/udhaarlabs/udhaar-core/internal/localasr"
	"github.com/udhaarlabs/udhaar-core/internal/natsserver"
	"github.com/udhaarlabs/udhaar-core/internal/protocol"
	"github.com/udhaarlabs/udhaar-core/internal/session"
)

// Runtime wires the capture, recognition, extraction and session components
// together and serves the voice API.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	defer embedded.Shutdown()

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	defer busClient.Close()

	store, err := journal.Open(ctx, r.cfg.Journal, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer store.Close()

	device, err := buildDevice(r.cfg.Capture)
	if err != nil {
		return fmt.Errorf("failed to build capture device: %w", err)
	}
	recorder := capture.New(r.cfg.Capture, device, busClient, r.logger)

	asr, err := buildASRService(ctx, r.cfg, busClient)
	if err != nil {
		return fmt.Errorf("failed to build local asr: %w", err)
	}
	if err := asr.Start(); err != nil {
		return fmt.Errorf("failed to start local asr: %w", err)
	}
	defer asr.Close()

	extractor := extract.NewClient(r.cfg.Extractor, r.cfg.Ledger.SessionCookie, r.logger)
	ledgerClient := ledger.NewClient(r.cfg.Ledger, r.logger)
	lender := ledger.NewAutoLendSubmitter(ledgerClient, r.logger)
	analyzer := ledger.NewRiskAnalysisRequester(ledgerClient, r.logger)

	manager := session.NewManager(ctx, r.cfg.Session, r.cfg.Extractor, recorder, extractor, lender, analyzer, store, r.logger)
	defer manager.Close()

	transcriptSub, err := busClient.Conn().Subscribe(protocol.SubjectTranscriptLocal, func(msg *nats.Msg) {
		var t protocol.Transcript
		if err := json.Unmarshal(msg.Data, &t); err != nil {
			r.logger.Warn("failed to decode local transcript", slog.String("error", err.Error()))
			return
		}
		manager.HandleLocalTranscript(t)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe transcripts: %w", err)
	}
	defer transcriptSub.Drain()

	api := &api{manager: manager, ledger: ledgerClient, logger: r.logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	api.register(mux)

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

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func buildDevice(cfg config.CaptureConfig) (capture.Device, error) {
	switch cfg.Mode {
	case "exec":
		return capture.NewExecDevice(cfg)
	default:
		return capture.NewMockDevice(cfg), nil
	}
}

func buildASRService(ctx context.Context, cfg config.Config, busClient *bus.Client) (*localasr.Service, error) {
	var recognizer localasr.Recognizer
	if cfg.LocalASR.Enabled {
		switch cfg.LocalASR.Mode {
		case "exec":
			r, err := localasr.NewExecRecognizer(cfg.LocalASR)
			if err != nil {
				return nil, err
			}
			recognizer = r
		default:
			recognizer = localasr.NewMockRecognizer()
		}
	}
	return localasr.NewService(ctx, cfg.LocalASR, cfg.Capture, busClient, recognizer), nil
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
