package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lexiqai/voice-live/internal/api"
	"github.com/lexiqai/voice-live/internal/audio"
	"github.com/lexiqai/voice-live/internal/config"
	"github.com/lexiqai/voice-live/internal/device"
	"github.com/lexiqai/voice-live/internal/live"
	"github.com/lexiqai/voice-live/internal/observability"
	"github.com/lexiqai/voice-live/internal/resilience"
	"github.com/lexiqai/voice-live/internal/session"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("live_endpoint", cfg.LiveEndpoint).
		Str("live_model", cfg.LiveModel).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice Live Service starting")

	// Audio devices
	var mic device.Microphone = device.SilenceMicrophone{}
	if cfg.MicSourceFile != "" {
		mic = device.NewFileMicrophone(cfg.MicSourceFile, audio.InputSampleRate)
		logger.Info().Str("file", cfg.MicSourceFile).Msg("Using WAV file as microphone")
	}
	devices := session.Devices{
		Microphone: mic,
		Input:      device.SoftInput{},
		Output:     device.SoftOutput{RecordPath: cfg.PlaybackRecordFile},
	}

	// Remote voice service, guarded by a circuit breaker on open
	breaker := resilience.NewCircuitBreaker(
		"live",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)
	dialer := live.NewWSDialer(cfg.LiveEndpoint, cfg.LiveAPIKey, cfg.OpenTimeout(), breaker)

	ctrl := session.NewController(session.Config{
		Live: live.Config{
			Model:             cfg.LiveModel,
			Voice:             cfg.LiveVoice,
			SystemInstruction: cfg.LiveSystemInstruction,
		},
		BlockSize: cfg.CaptureBlockSize,
		QueueSize: cfg.CaptureQueueSize,
		VAD: &audio.VADConfig{
			EnergyThreshold: cfg.VADEnergyThreshold,
			SilenceFrames:   cfg.VADSilenceFrames,
		},
	}, devices, dialer)

	// Create HTTP server
	mux := http.NewServeMux()

	// Session control and events
	handler := api.NewHandler(ctrl, observability.WithComponent("api"))
	handler.Register(mux)

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness: the remote service is reachable unless the breaker has tripped
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"live": breaker.Check,
		"microphone": func(ctx context.Context) (bool, error) {
			if cfg.MicSourceFile == "" {
				return true, nil
			}
			if _, err := os.Stat(cfg.MicSourceFile); err != nil {
				return false, err
			}
			return true, nil
		},
	}))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second, // start waits for the setup handshake
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("events", fmt.Sprintf("ws://localhost:%s/session/events", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	if cfg.AutoStart {
		go func() {
			if err := ctrl.Start(context.Background()); err != nil {
				logger.Error().Err(err).Msg("Auto start failed")
			}
		}()
	}

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := ctrl.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to stop session")
	}

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
