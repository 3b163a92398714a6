// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// ストレージ設定
	DataDir        string // 入出力PDFを保存するルートディレクトリ
	RetentionHours int    // 成果物を保持する時間（時間単位）

	// ファイル制限
	MaxFileSize      int64 // 単一ファイルの最大サイズ（バイト）
	JobExpireMinutes int   // ジョブレコードの有効期限（分）

	// ジョブ/キュー設定
	QueueRedisURL string // Asynq用Redis接続URL

	// フォーム検出設定
	PreparerPath string // フォーム検出コマンドの実行ファイルパス
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{
		// サーバー設定
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		// CORS設定
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		// ストレージ設定
		DataDir:        getEnv("DATA_DIR", "./data"),
		RetentionHours: getEnvAsInt("RETENTION_HOURS", 1),

		// ファイル制限
		MaxFileSize: getEnvAsInt64("MAX_FILE_SIZE", 104857600), // 100MB
		// レコードは成果物の保持期間より長く残す（ポーリング中に消えないように）
		JobExpireMinutes: getEnvAsInt("JOB_EXPIRE_MINUTES", 120),

		// ジョブ/キュー設定
		QueueRedisURL: getEnv("QUEUE_REDIS_URL", "redis://127.0.0.1:6379/0"),

		// フォーム検出設定
		PreparerPath: getEnv("PREPARER_PATH", "commonforms"),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive")
	}
	if c.RetentionHours <= 0 {
		return fmt.Errorf("RETENTION_HOURS must be positive")
	}

	// ローカル開発ではキュー設定は任意
	// 本番環境では厳格にチェックする想定
	if c.GinMode == "release" {
		if c.QueueRedisURL == "" {
			return fmt.Errorf("QUEUE_REDIS_URL is required in release mode")
		}
		if c.PreparerPath == "" {
			return fmt.Errorf("PREPARER_PATH is required in release mode")
		}
	}

	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
