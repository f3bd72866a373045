package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ocrstudio/internal/api"
	"ocrstudio/internal/config"
	"ocrstudio/internal/detect"
	"ocrstudio/internal/executor"
	fileutil "ocrstudio/internal/file"
	"ocrstudio/internal/recognize"
	"ocrstudio/internal/scheduler"
	"ocrstudio/internal/service"
	"ocrstudio/internal/task"
)

func main() {

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	configPath := os.Getenv("OCR_CONFIG")
	if configPath == "" {
		configPath = "config.yml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level, keeping info")
	}

	for _, dir := range []string{cfg.DataDir, cfg.TasksDir(), cfg.TempDir} {
		if err := fileutil.EnsureDir(dir); err != nil {
			log.Fatal().Err(err).Str("dir", dir).Msg("ensure data dir")
		}
	}

	repo, closeRepo, err := openRepository(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Store.Backend).Msg("open task store")
	}
	defer closeRepo()

	baseCtx, baseCancel := context.WithCancel(context.Background())
	manager := scheduler.NewManager(scheduler.Options{MaxConcurrentJobs: cfg.MaxConcurrentTasks})
	manager.Start(baseCtx)

	tasks, ocr := buildServices(cfg, repo, manager)
	if n, err := ocr.Recover(baseCtx); err != nil {
		log.Error().Err(err).Msg("recover tasks")
	} else if n > 0 {
		log.Warn().Int("tasks", n).Msg("tasks interrupted by previous shutdown marked failed")
	}

	housekeeper, err := service.StartHousekeeping(cfg.Housekeeping.ClearCron, ocr)
	if err != nil {
		log.Fatal().Err(err).Msg("start housekeeping")
	}

	router := setupRouter()
	wireAPI(router, tasks, ocr)

	const (
		readHeaderTimeout = 5 * time.Second
		shutdownTimeout   = 10 * time.Second
	)

	srv := newHTTPServer(cfg.Port, router, readHeaderTimeout)

	go func() {
		log.Info().Int("port", cfg.Port).Str("backend", cfg.Store.Backend).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdownSignal()

	gracefulShutdown(srv, baseCancel, manager, housekeeper, shutdownTimeout)
}

func setupRouter() *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(api.ZerologLogger())
	return r
}

func openRepository(cfg config.Config) (task.Repository, func(), error) {
	if cfg.Store.Backend == config.BackendFile {
		return task.NewFileRepository(cfg.DataDir), func() {}, nil
	}
	repo, err := task.OpenBoltRepository(cfg.Store.BoltPath)
	if err != nil {
		return nil, nil, err //nolint:wrapcheck
	}
	return repo, func() {
		if err := repo.Close(); err != nil {
			log.Warn().Err(err).Msg("close task store")
		}
	}, nil
}

func buildServices(cfg config.Config, repo task.Repository, manager *scheduler.Manager) (*service.TaskService, *service.OcrService) {
	storage := task.NewStorage(cfg.TasksDir())
	detector := detect.MimeDetector{}

	pipeline := recognize.NewPipeline(
		recognize.Config{TempDir: cfg.TempDir, DPI: cfg.OCR.DPI},
		buildEngine(cfg),
		recognize.NewPopplerRenderer(cfg.OCR.PdftoppmBin),
		detector,
	)
	deps := executor.Deps{Repository: repo, Storage: storage, Processor: pipeline}

	tasks := service.NewTaskService(repo, storage, service.TaskOptions{
		DefaultLanguage: cfg.OCR.DefaultLanguage,
		Detector:        detector,
		Jobs:            manager,
	})
	ocr := service.NewOcrService(tasks, manager, func(t *task.Task) scheduler.Executor {
		return executor.ForTask(t, deps)
	})
	return tasks, ocr
}

func buildEngine(cfg config.Config) recognize.Engine { //nolint:ireturn
	cli := recognize.NewTesseract(cfg.OCR.TesseractBin, cfg.OCR.TessdataDir)
	if cfg.OCR.Engine != config.EngineEmbedded {
		return cli
	}
	engine, err := recognize.NewEmbedded(cfg.OCR.TessdataDir, cli)
	if err != nil {
		log.Warn().Err(err).Msg("falling back to tesseract command line")
		return cli
	}
	return engine
}

func wireAPI(router *gin.Engine, tasks *service.TaskService, ocr *service.OcrService) {
	apiHandler := api.NewAPI(tasks, ocr)
	apiHandler.RegisterRoutes(router)
	apiHandler.RegisterUIRoutes(router)
}

func newHTTPServer(port int, handler http.Handler, readHeaderTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func waitForShutdownSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")
}

func gracefulShutdown(srv *http.Server, cancelBase context.CancelFunc, manager *scheduler.Manager, housekeeper *service.Housekeeper, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}
	housekeeper.Stop(ctx)

	cancelBase()
	done := manager.WaitAll(ctx)
	if !done {
		log.Warn().Msg("background workers did not finish before timeout")
	}
	log.Info().Msg("server exited cleanly")
}
