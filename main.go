package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/Vortextech01/OpenLLM/pkg/activity"
	"github.com/Vortextech01/OpenLLM/pkg/artifact"
	"github.com/Vortextech01/OpenLLM/pkg/auth"
	"github.com/Vortextech01/OpenLLM/pkg/config"
	"github.com/Vortextech01/OpenLLM/pkg/gpuinfo"
	"github.com/Vortextech01/OpenLLM/pkg/hub"
	"github.com/Vortextech01/OpenLLM/pkg/inference"
	"github.com/Vortextech01/OpenLLM/pkg/inference/backends/llamacpp"
	"github.com/Vortextech01/OpenLLM/pkg/inference/backends/mlx"
	"github.com/Vortextech01/OpenLLM/pkg/inference/backends/vllm"
	"github.com/Vortextech01/OpenLLM/pkg/inference/memory"
	"github.com/Vortextech01/OpenLLM/pkg/inference/platform"
	"github.com/Vortextech01/OpenLLM/pkg/logging"
	"github.com/Vortextech01/OpenLLM/pkg/metrics"
	"github.com/Vortextech01/OpenLLM/pkg/middleware"
	"github.com/Vortextech01/OpenLLM/pkg/models"
	"github.com/Vortextech01/OpenLLM/pkg/routing"
	"github.com/Vortextech01/OpenLLM/pkg/scheduling"
)

var log = logrus.New()

// daemon bundles everything main serves and runs.
type daemon struct {
	handler   http.Handler
	scheduler *scheduling.Scheduler
	activity  *activity.Store
	keys      *auth.Store
}

func (d *daemon) Close() {
	if err := d.keys.Close(); err != nil {
		log.Warnf("Failed to close key store: %v", err)
	}
	if err := d.activity.Close(); err != nil {
		log.Warnf("Failed to close activity log: %v", err)
	}
}

// newDaemon assembles the daemon from its configuration: stores, backends,
// the model manager, the scheduler and the HTTP surface tying them together.
func newDaemon(cfg config.Config) (*daemon, error) {
	engineArgs, err := cfg.ParseEngineArgs()
	if err != nil {
		return nil, err
	}

	store, err := artifact.NewLocalStore(artifact.Options{
		RootPath: cfg.StorePath,
		Logger:   logging.Component(log, "store"),
	})
	if err != nil {
		return nil, fmt.Errorf("opening artifact store at %s: %w", cfg.StorePath, err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.ActivityPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	activityLog, err := activity.Open(activity.Options{
		Path: cfg.ActivityPath,
		Log:  logging.Component(log, "activity"),
	})
	if err != nil {
		return nil, fmt.Errorf("opening activity log at %s: %w", cfg.ActivityPath, err)
	}

	keys, err := auth.Open(auth.Options{
		Path: filepath.Join(filepath.Dir(cfg.ActivityPath), "keys.db"),
		Log:  logging.Component(log, "auth"),
	})
	if err != nil {
		activityLog.Close()
		return nil, fmt.Errorf("opening key store: %w", err)
	}

	gpuInfo := gpuinfo.New(logging.Component(log, "gpuinfo"))
	sysMemInfo, err := memory.NewSystemMemoryInfo(logging.Component(log, "memory"), gpuInfo)
	if err != nil {
		keys.Close()
		activityLog.Close()
		return nil, fmt.Errorf("initializing system memory info: %w", err)
	}

	// Sharded weight downloads open several connections to the same host, so
	// raise the per-host idle pool above the transport default of two.
	hubTransport := http.DefaultTransport.(*http.Transport).Clone()
	hubTransport.MaxIdleConnsPerHost = 8
	hubClient := hub.NewClient(cfg.HubURL, logging.Component(log, "hub"),
		hub.WithHTTPClient(&http.Client{Transport: hubTransport}))

	llamaConfig := llamacpp.NewDefaultConfig()
	llamaConfig.Args = append(llamaConfig.Args, engineArgs...)
	backends := map[string]inference.Backend{
		llamacpp.Name: llamacpp.New(
			logging.Component(log, "llamacpp"),
			logging.Component(log, "llamacpp-engine"),
			hubClient,
			cfg.EnginePath,
			llamaConfig,
		),
	}
	if platform.SupportsVLLM() {
		vllmConfig := vllm.NewDefaultConfig()
		vllmConfig.Args = append(vllmConfig.Args, engineArgs...)
		backends[vllm.Name] = vllm.New(
			logging.Component(log, "vllm"),
			logging.Component(log, "vllm-engine"),
			hubClient,
			filepath.Join(cfg.EnginePath, "vllm-serve"),
			vllmConfig,
		)
	}
	if platform.SupportsMLX() {
		backends[mlx.Name] = mlx.New(logging.Component(log, "mlx"), hubClient)
	}

	metricsRecorder := metrics.NewRecorder(logging.Component(log, "metrics"), func() int64 {
		size, err := store.DiskUsage(context.Background())
		if err != nil {
			return 0
		}
		return size
	})
	// Every recorded event updates the counters and lands in the activity log.
	recorder := metricsRecorder.WrapEvents(activityLog)

	stagingDir := filepath.Join(cfg.StorePath, "staging")
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		keys.Close()
		activityLog.Close()
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}

	modelManager := models.NewManager(
		logging.Component(log, "models"),
		store,
		backends,
		recorder,
		stagingDir,
	)
	modelManager.SetImportConcurrency(cfg.MaxConcurrentImports)

	scheduler := scheduling.NewScheduler(
		logging.Component(log, "scheduler"),
		backends,
		modelManager,
		http.DefaultClient,
		recorder,
		metricsRecorder,
		sysMemInfo,
	)

	// Engine instances listen on sockets beside the daemon socket.
	socketDir := filepath.Dir(cfg.Socket)
	scheduling.InstanceSocketPath = func(slot int) (string, error) {
		return filepath.Join(socketDir, fmt.Sprintf("openllm-instance-%d.sock", slot)), nil
	}

	router := routing.NewNormalizedServeMux()
	router.Handle("/v1/models", modelManager)
	router.Handle("/v1/models/", modelManager)
	router.Handle("/v1/families", modelManager)
	router.Handle("/v1/df", modelManager)
	router.Handle("/v1/status", scheduler)
	router.Handle("/v1/runners", scheduler)
	router.Handle("/v1/runners/", scheduler)
	router.Handle("/v1/activity", activityLog)
	router.Handle("/v1/auth/keys", keys)
	router.Handle("/v1/auth/keys/", keys)

	if !cfg.DisableMetrics {
		router.Handle("/metrics", metrics.NewAggregatedHandler(
			logging.Component(log, "metrics"),
			metricsRecorder,
			scheduler,
		))
		log.Info("Metrics endpoint enabled at /metrics")
	} else {
		log.Info("Metrics endpoint disabled")
	}

	var handler http.Handler = router
	if cfg.RequireAPIKey {
		handler = keys.Middleware(handler)
		log.Info("API key authentication enabled")
	}
	handler = middleware.Cors(cfg.Origins, handler)

	return &daemon{
		handler:   handler,
		scheduler: scheduler,
		activity:  activityLog,
		keys:      keys,
	}, nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(os.Getenv("OPENLLM_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	d, err := newDaemon(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize daemon: %v", err)
	}
	defer d.Close()

	server := &http.Server{Handler: d.handler}
	serverErrors := make(chan error, 1)

	if cfg.Port != "" {
		server.Addr = ":" + cfg.Port
		log.Infof("Listening on TCP port %s", cfg.Port)
		go func() {
			serverErrors <- server.ListenAndServe()
		}()
	} else {
		if err := os.Remove(cfg.Socket); err != nil && !os.IsNotExist(err) {
			log.Fatalf("Failed to remove existing socket: %v", err)
		}
		ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: cfg.Socket, Net: "unix"})
		if err != nil {
			log.Fatalf("Failed to listen on %s: %v", cfg.Socket, err)
		}
		log.Infof("Listening on %s", cfg.Socket)
		go func() {
			serverErrors <- server.Serve(ln)
		}()
	}

	schedulerDone := make(chan struct{})
	go func() {
		d.scheduler.Run(ctx)
		close(schedulerDone)
	}()

	select {
	case err := <-serverErrors:
		if err != nil {
			log.Errorf("Server error: %v", err)
		}
		cancel()
	case <-ctx.Done():
		log.Infoln("Shutdown signal received")
		log.Infoln("Shutting down the server")
		if err := server.Close(); err != nil {
			log.Errorf("Server shutdown error: %v", err)
		}
	}
	log.Infoln("Waiting for the scheduler to stop")
	<-schedulerDone
	log.Infoln("OpenLLM daemon stopped")
}
