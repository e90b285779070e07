// sensorgw is the sensor data gateway daemon: it accepts TCP connections
// from temperature-sensor nodes, fans readings out to an analytics
// consumer and a persistence consumer, exposes Prometheus metrics, and
// answers administrative status queries over a Unix-domain socket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/sensorgw/internal/analytics"
	"github.com/dantte-lp/sensorgw/internal/buffer"
	"github.com/dantte-lp/sensorgw/internal/config"
	"github.com/dantte-lp/sensorgw/internal/control"
	"github.com/dantte-lp/sensorgw/internal/gwmetrics"
	"github.com/dantte-lp/sensorgw/internal/ingress"
	"github.com/dantte-lp/sensorgw/internal/logging"
	"github.com/dantte-lp/sensorgw/internal/roommap"
	"github.com/dantte-lp/sensorgw/internal/sensordata"
	"github.com/dantte-lp/sensorgw/internal/storage"
	"github.com/dantte-lp/sensorgw/internal/sysinfo"
	appversion "github.com/dantte-lp/sensorgw/internal/version"
)

const minPort, maxPort = 1, 65535

// bufferCapacity bounds each consumer's shared buffer. The original
// implementation compiled this in; the Go port keeps it a constant since
// nothing in the spec calls for tuning it at runtime.
const bufferCapacity = 15

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-version") {
		fmt.Println(appversion.Full("sensorgw"))
		return 0
	}

	bootstrap := slog.New(slog.NewTextHandler(os.Stderr, nil))

	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	// 1. Validate arguments, derive listening port.
	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [-config path] <port>\n", os.Args[0])
		return 1
	}
	port, err := strconv.Atoi(flag.Arg(0))
	if err != nil || port < minPort || port > maxPort {
		fmt.Fprintf(os.Stderr, "Error: Invalid port number '%s'. Must be between %d and %d.\n",
			flag.Arg(0), minPort, maxPort)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		bootstrap.Error("failed to load configuration", slog.String("error", err.Error()))
		return 1
	}
	cfg.Server.ListenAddr = fmt.Sprintf(":%d", port)

	// 2. Initialize logger (create pipe).
	if err := logging.CreateFIFO(cfg.Paths.LogPipe); err != nil {
		bootstrap.Error("failed to create log fifo", slog.String("error", err.Error()))
		return 1
	}
	logger := logging.New(cfg.Paths.LogPipe)

	// 3. Load room-sensor map (optional).
	rooms, err := loadRoomMap(cfg.Paths.RoomMap, bootstrap)
	if err != nil {
		bootstrap.Warn("failed to load room sensor map, continuing without it",
			slog.String("path", cfg.Paths.RoomMap), slog.String("error", err.Error()))
	}

	// 4. Fork/exec the sink process.
	sinkCmd, err := startLogSink(cfg.Paths.LogPipe, cfg.Paths.LogFile, bootstrap)
	if err != nil {
		bootstrap.Error("failed to start log sink process", slog.String("error", err.Error()))
		return 1
	}

	// 5. Parent opens the pipe write end (blocks until the sink opens the read end).
	if err := logger.OpenWrite(); err != nil {
		bootstrap.Error("failed to open log fifo write end", slog.String("error", err.Error()))
		_ = sinkCmd.Process.Kill()
		_, _ = sinkCmd.Process.Wait()
		return 1
	}
	logger.Log(logging.Info, "main process logger FIFO opened successfully.")
	logger.Log(logging.Info, "main process PID: %d, log process PID: %d", os.Getpid(), sinkCmd.Process.Pid)

	if rooms.Len() > 0 {
		logger.Log(logging.Info, "room sensor map '%s' loaded (%d entries).", cfg.Paths.RoomMap, rooms.Len())
	} else {
		logger.Log(logging.Warning, "room sensor map '%s' failed to load or was empty.", cfg.Paths.RoomMap)
	}

	// 6. Allocate shared buffers (one per consumer).
	analyticsBuf, err := buffer.New[sensordata.Reading](bufferCapacity)
	if err != nil {
		logger.Log(logging.Fatal, "failed to initialize analytics buffer: %v", err)
		return shutdownSink(sinkCmd, logger, bootstrap, 1)
	}
	storageBuf, err := buffer.New[sensordata.Reading](bufferCapacity)
	if err != nil {
		logger.Log(logging.Fatal, "failed to initialize storage buffer: %v", err)
		return shutdownSink(sinkCmd, logger, bootstrap, 1)
	}
	logger.Log(logging.Info, "shared buffers initialized.")

	reg := prometheus.NewRegistry()
	metrics := gwmetrics.NewCollector(reg)

	sampler, err := sysinfo.New(func(format string, args ...any) {
		logger.Log(logging.Warning, format, args...)
	})
	if err != nil {
		logger.Log(logging.Warning, "failed to initialize system sampler: %v", err)
	}

	ingressMgr := ingress.New(ingress.Config{
		ListenAddr:          cfg.Server.ListenAddr,
		MaxClients:          cfg.Limits.MaxClients,
		MaxConnectionsPerIP: cfg.Limits.MaxConnectionsPerIP,
		IdleTimeout:         cfg.Limits.IdleTimeout,
	}, logger, metrics, analyticsBuf, storageBuf)

	analyticsConsumer := analytics.New(analyticsBuf, logger, metrics,
		analytics.Thresholds{Cold: cfg.Thresholds.Cold, Hot: cfg.Thresholds.Hot}, rooms)

	// 7. Install signal handling.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storageConsumer := storage.New(storage.Config{
		DSN:                  cfg.Paths.DatabaseDSN,
		TableName:            cfg.Paths.TableName,
		ConnectRetryAttempts: cfg.Limits.ConnectRetryAttempts,
		ConnectRetryDelay:    cfg.Limits.ConnectRetryDelay,
		RetryQueueCapacity:   cfg.Limits.RetryQueueCapacity,
	}, storageBuf, logger, metrics, stop)

	adminServer := control.New(cfg.Paths.AdminSocket, logger, ingressMgr, sampler)

	metricsMux := http.NewServeMux()
	metricsMux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux, ReadHeaderTimeout: 10 * time.Second}

	// 8. Spawn workers under one errgroup.
	g, gCtx := errgroup.WithContext(ctx)

	logger.Log(logging.Info, "creating manager goroutines...")

	g.Go(func() error {
		return ingressMgr.Serve(gCtx)
	})
	g.Go(func() error {
		return analyticsConsumer.Run()
	})
	storageExhausted := false
	g.Go(func() error {
		if err := storageConsumer.Run(gCtx); err != nil {
			if errors.Is(err, storage.ErrExhaustedRetries) {
				storageExhausted = true
				return nil
			}
			return err
		}
		return nil
	})
	g.Go(func() error {
		lc := net.ListenConfig{}
		ln, err := lc.Listen(gCtx, "tcp", cfg.Metrics.Addr)
		if err != nil {
			return fmt.Errorf("metrics server listen on %s: %w", cfg.Metrics.Addr, err)
		}
		logger.Log(logging.Info, "metrics server listening on %s%s", cfg.Metrics.Addr, cfg.Metrics.Path)
		if err := metricsSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return adminServer.Run()
	})
	g.Go(func() error {
		return sampleBufferOccupancy(gCtx, metrics, analyticsBuf, storageBuf)
	})

	// Shutdown goroutine: waits for the context to be cancelled, then
	// stops every worker in the documented order.
	g.Go(func() error {
		<-gCtx.Done()
		shutdown(ingressMgr, adminServer, metricsSrv, analyticsBuf, storageBuf, logger)
		return nil
	})

	// 9. Main goroutine blocks on the errgroup.
	exitCode := 0
	if err := g.Wait(); err != nil {
		logger.Log(logging.Error, "gateway exited with error: %v", err)
		exitCode = 1
	}
	if storageExhausted {
		exitCode = 1
	}

	return shutdownSink(sinkCmd, logger, bootstrap, exitCode)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.DefaultConfig(), nil
}

func loadRoomMap(path string, bootstrap *slog.Logger) (*roommap.Map, error) {
	if path == "" {
		return nil, nil
	}
	return roommap.Load(path, func(format string, args ...any) {
		bootstrap.Warn(fmt.Sprintf(format, args...))
	})
}

// startLogSink forks the companion sensorgw-logsink process, which must
// open the FIFO's read end before the parent opens the write end.
func startLogSink(fifoPath, logPath string, bootstrap *slog.Logger) (*exec.Cmd, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable path: %w", err)
	}
	sinkPath := sinkBinaryPath(self)

	cmd := exec.Command(sinkPath, fifoPath, logPath)
	cmd.Stderr = os.Stderr
	cmd.Stdout = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", sinkPath, err)
	}

	bootstrap.Info("main process started", slog.Int("pid", os.Getpid()), slog.Int("log_pid", cmd.Process.Pid))
	return cmd, nil
}

// sampleBufferOccupancy periodically publishes each shared buffer's
// current element count to the buffer occupancy gauge, until ctx is
// cancelled.
func sampleBufferOccupancy(ctx context.Context, metrics *gwmetrics.Collector, analyticsBuf, storageBuf *buffer.Buffer[sensordata.Reading]) error {
	const interval = 2 * time.Second
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			metrics.SetBufferOccupancy("analytics", analyticsBuf.Len())
			metrics.SetBufferOccupancy("storage", storageBuf.Len())
		case <-ctx.Done():
			return nil
		}
	}
}

func sinkBinaryPath(selfPath string) string {
	return filepath.Join(filepath.Dir(selfPath), "sensorgw-logsink")
}

// shutdown stops the workers: first the admin channel and the metrics
// server, then the analytics and storage consumers (by shutting their
// buffers down), then ingress. Storage also observes context
// cancellation itself; analytics exits only once its buffer is shut down.
// This also closes the listeners that would otherwise block Accept.
func shutdown(ingressMgr *ingress.Manager, adminServer *control.Server, metricsSrv *http.Server, analyticsBuf, storageBuf *buffer.Buffer[sensordata.Reading], logger *logging.Logger) {
	logger.Log(logging.Info, "shutdown signal received, stopping workers...")

	adminServer.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	analyticsBuf.SignalShutdown()
	storageBuf.SignalShutdown()

	ingressMgr.Stop()
	ingressMgr.Close()
}

func shutdownSink(cmd *exec.Cmd, logger *logging.Logger, bootstrap *slog.Logger, code int) int {
	if err := logger.Close(); err != nil {
		bootstrap.Warn("failed to close log fifo", slog.String("error", err.Error()))
	}

	if cmd != nil && cmd.Process != nil {
		_, _ = cmd.Process.Wait()
	}

	return code
}
