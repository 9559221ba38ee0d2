package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"TLDRTube/cache"
	"TLDRTube/config"
	"TLDRTube/core/auth"
	"TLDRTube/core/jobs"
	"TLDRTube/core/player"
	"TLDRTube/core/room"
	"TLDRTube/core/sieve"
	"TLDRTube/core/timeline"
	"TLDRTube/db"
	"TLDRTube/logger"
	"TLDRTube/repository"
	"TLDRTube/storage"

	"github.com/gorilla/mux"
)

// NewRouter 创建带 CORS 中间件的路由器
func NewRouter(h *APIHandler) *mux.Router {
	router := mux.NewRouter()
	router.Use(corsMiddleware)
	RegisterRoutes(router, h)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	return router
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// PlayerOptions 由配置生成播放控制器参数
func PlayerOptions(cfg *config.Config) player.Options {
	opts := player.DefaultOptions()
	if len(cfg.PlaybackRates) > 0 {
		opts.Rates = cfg.PlaybackRates
	}
	if cfg.PlayerPollInterval > 0 {
		opts.PollInterval = cfg.PlayerPollInterval
	}
	return opts
}

// MergeOptions 由配置生成区间合并参数
func MergeOptions(cfg *config.Config) timeline.MergeOptions {
	return timeline.MergeOptions{Padding: cfg.MergePadding, GapThreshold: cfg.MergeGapThreshold}
}

// NewSieveClient 由配置创建处理平台客户端
func NewSieveClient(cfg *config.Config) *sieve.Client {
	client := sieve.NewClient(cfg.SieveAPIKey)
	if cfg.SieveBaseURL != "" {
		client.SetBaseURL(cfg.SieveBaseURL)
	}
	if cfg.SieveFunction != "" {
		client.SetFunction(cfg.SieveFunction)
	}
	if cfg.SievePollInterval > 0 {
		client.SetPollInterval(cfg.SievePollInterval)
	}
	return client
}

// Start 连接依赖、启动 worker 和 HTTP 服务，直到收到退出信号
func Start(cfg *config.Config) error {
	if err := db.ConnectGormDB(cfg); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.CloseGormDB()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	if err := cache.ConnectRedis(cfg); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer cache.CloseRedis()
	logger.Info("Successfully connected to Redis")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// MinIO 归档可选，连接失败时只记录警告
	var archive *storage.ResultArchive
	if cfg.MinioEndpoint != "" {
		a, err := storage.NewResultArchive(ctx, cfg)
		if err != nil {
			logger.Warn("MinIO 不可用，处理结果不会归档", logger.ErrorField(err))
		} else {
			archive = a
		}
	}

	tokens, err := auth.NewTokenIssuer(cfg.SessionSecret, cfg.SessionTTL)
	if err != nil {
		return fmt.Errorf("failed to create token issuer: %w", err)
	}

	repo := repository.NewGormVideoRepository(db.GormDB)
	resultCache := cache.NewResultCache(cache.RedisClient, cfg.ResultCacheTTL)

	// 后台任务
	queue := jobs.NewQueue(cfg)
	stores := []jobs.ResultStore{resultCache}
	if archive != nil {
		stores = append(stores, archive)
	}
	handler := jobs.NewProcessVideoHandler(NewSieveClient(cfg), repo, cfg.JobTimeout, stores...)
	jobs.RegisterHandlers(queue, handler)
	if err := queue.Start(ctx); err != nil {
		return fmt.Errorf("failed to start job queue: %w", err)
	}
	defer queue.Stop()

	// 播放会话
	hub := room.NewRoomHub()
	go hub.Run()
	defer hub.Stop()
	rooms := room.NewRoomManager(hub, room.Options{
		Merge:   MergeOptions(cfg),
		Player:  PlayerOptions(cfg),
		IdleTTL: cfg.SessionTTL,
	})
	go rooms.Run(ctx)

	deps := HandlerDeps{
		Repo:   repo,
		Cache:  resultCache,
		Queue:  queue,
		Rooms:  rooms,
		Tokens: tokens,
		Merge:  MergeOptions(cfg),
	}
	if archive != nil {
		deps.Archive = archive
	}
	apiHandler := NewAPIHandler(deps)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      NewRouter(apiHandler),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	}
	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server stopped")
	return nil
}
