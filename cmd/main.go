package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"sleepywoodpecker/sensor-stream/internal/config"
	"sleepywoodpecker/sensor-stream/internal/logger"
	"sleepywoodpecker/sensor-stream/internal/metrics"
	"sleepywoodpecker/sensor-stream/internal/processing"
	rserial "sleepywoodpecker/sensor-stream/internal/rSerial"
	"sleepywoodpecker/sensor-stream/internal/sensor"
	"sleepywoodpecker/sensor-stream/internal/session"
	"sleepywoodpecker/sensor-stream/internal/stream"
)

const SHUTDOWN_TIMEOUT = 2 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	// context handler for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	// SIGUSR1 plays the role of the "switch sensor" button
	switchCh := make(chan os.Signal, 1)
	signal.Notify(switchCh, syscall.SIGUSR1)

	logger, err := logger.NewLogger(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	registry := prometheus.NewRegistry()
	pipelineMetrics, err := metrics.New(registry)
	if err != nil {
		logger.Fatal("[main] error registering metrics", zap.Error(err))
	}

	sess := session.New(newOpener(cfg, logger), func(sensorType sensor.Type) session.Store {
		return processing.NewCSVStore(cfg.DataDir, sensorType)
	}, session.Options{
		BufferSize:   cfg.BufferSize,
		WindowRetain: cfg.WindowRetain,
		Metrics:      pipelineMetrics,
	}, logger)

	if err := sess.Start(ctx, cfg.Sensor()); err != nil {
		logger.Fatal("[main] error starting session", zap.Error(err), zap.Stringer("sensor", cfg.Sensor()))
	}

	displays := []processing.Display{processing.NewLogDisplay(logger)}
	if cfg.TelegrafAddr != "" {
		// initialize UDP connection to grafana
		udpAddr, err := net.ResolveUDPAddr("udp", cfg.TelegrafAddr)
		if err != nil {
			logger.Fatal("[main] error resolving telegraf address", zap.Error(err), zap.String("addr", cfg.TelegrafAddr))
		}

		udpConn, err := net.DialUDP("udp", nil, udpAddr)
		if err != nil {
			logger.Fatal("[main] error dialing telegraf", zap.Error(err), zap.String("addr", cfg.TelegrafAddr))
		}
		defer udpConn.Close()

		displays = append(displays, processing.NewInfluxDisplay(udpConn))
	}

	sampler := processing.NewSampler(cfg.PollInterval, cfg.WindowLength, sess, logger, displays...)
	go sampler.Run(ctx)

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}

		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("[main] metrics server stopped", zap.Error(err))
			}
		}()
	}

	for {
		select {
		case <-switchCh:
			if err := sess.SwitchNext(ctx); err != nil {
				logger.Error("[main] error switching sensor", zap.Error(err))
			}
		case <-sigCh:
			logger.Info("[main] received shutdown signal")
			cancel()

			if err := sess.Stop(); err != nil {
				logger.Warn("[main] error stopping session", zap.Error(err))
			}

			if metricsServer != nil {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), SHUTDOWN_TIMEOUT)
				_ = metricsServer.Shutdown(shutdownCtx)
				shutdownCancel()
			}
			return
		}
	}
}

func newOpener(cfg config.Config, logger *zap.Logger) stream.Opener {
	if cfg.Transport == config.TransportSerial {
		return &rserial.Opener{
			PortName:     cfg.Serial.Port,
			BaudRate:     cfg.Serial.BaudRate,
			MaxFrameSize: cfg.Serial.MaxFrameSize,
			Logger:       logger,
		}
	}

	return &stream.WebSocketOpener{
		Address: cfg.Address,
		Path:    cfg.Path,
		Logger:  logger,
	}
}
