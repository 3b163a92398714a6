// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/form-forge/internal/config"
	"github.com/yourusername/form-forge/internal/form"
	"github.com/yourusername/form-forge/internal/jobs"
	"github.com/yourusername/form-forge/internal/storage"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// ストレージレイアウトの準備
	layout := storage.NewLayout(cfg.DataDir)
	if err := layout.EnsureDirs(); err != nil {
		log.Fatalf("Failed to prepare storage: %v", err)
	}

	svc := form.NewService(cfg, layout, nil)
	sweeper := storage.NewSweeper(layout, time.Duration(cfg.RetentionHours)*time.Hour, log.Default())

	manager, err := setupJobs(cfg, svc, sweeper)
	if err != nil {
		log.Fatalf("Failed to set up jobs: %v", err)
	}
	if err := manager.StartWorkers(); err != nil {
		log.Fatalf("Failed to start workers: %v", err)
	}

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	// ルーティングの設定
	setupRoutes(router, svc, manager)

	// サーバーの起動
	addr := ":" + cfg.Port
	log.Printf("Starting API server on %s (mode: %s)", addr, cfg.GinMode)
	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func setupJobs(cfg *config.Config, svc *form.Service, sweeper *storage.Sweeper) (*jobs.Manager, error) {
	opt, err := redis.ParseURL(cfg.QueueRedisURL)
	if err != nil {
		return nil, err
	}

	redisClient := redis.NewClient(opt)
	ttlMinutes := cfg.JobExpireMinutes
	if ttlMinutes <= 0 {
		ttlMinutes = 120
	}
	store := jobs.NewRedisStore(redisClient, time.Duration(ttlMinutes)*time.Minute)
	return jobs.NewManager(cfg, svc, store, sweeper, log.Default())
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "form-forge-api",
		"version": "0.1.0",
	})
}

// setupRoutes は API グループの配線を行います。
func setupRoutes(router *gin.Engine, svc *form.Service, manager *jobs.Manager) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", handleHealth)

	api := router.Group("/api")
	{
		api.POST("/upload", uploadHandler(svc, manager.Lifecycle()))
		api.POST("/detect", detectHandler(manager))
		api.GET("/poll", pollHandler(manager.Lifecycle()))
		api.GET("/download", downloadHandler(svc, manager.Lifecycle()))
	}
}
