package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/yourusername/form-forge/internal/config"
	"github.com/yourusername/form-forge/internal/form"
	"github.com/yourusername/form-forge/internal/storage"
)

const (
	taskTypePrepare = "form:prepare"
	taskTypeSweep   = "storage:sweep"

	// 保持期限スイープの実行間隔
	sweepSchedule = "@every 1h"
)

// Manager はジョブの投入・実行・定期スイープのAsynq配線を担います。
type Manager struct {
	cfg       *config.Config
	client    *asynq.Client
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	lifecycle *Lifecycle
	svc       *form.Service
	sweeper   *storage.Sweeper
	logger    *log.Logger
}

// TaskPayload はフォーム検出ジョブのペイロードです。
type TaskPayload struct {
	JobID string `json:"jobId"`
}

// NewManager は Manager を初期化します。
func NewManager(cfg *config.Config, svc *form.Service, store Store, sweeper *storage.Sweeper, logger *log.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if svc == nil {
		return nil, errors.New("svc is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	opt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := asynq.NewClient(opt)
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				"form": 1,
			},
		},
	)
	scheduler := asynq.NewScheduler(opt, nil)

	mux := asynq.NewServeMux()
	manager := &Manager{
		cfg:       cfg,
		client:    client,
		server:    server,
		mux:       mux,
		scheduler: scheduler,
		lifecycle: NewLifecycle(store, logger),
		svc:       svc,
		sweeper:   sweeper,
		logger:    logger,
	}
	mux.HandleFunc(taskTypePrepare, manager.handlePrepareTask)
	mux.HandleFunc(taskTypeSweep, manager.handleSweepTask)
	return manager, nil
}

// Lifecycle は状態遷移とポーリングの操作を返します。
func (m *Manager) Lifecycle() *Lifecycle {
	return m.lifecycle
}

// StartWorkers は Asynq サーバーとスイープスケジューラーを
// バックグラウンドで起動します。
func (m *Manager) StartWorkers() error {
	if m.sweeper != nil {
		task := asynq.NewTask(taskTypeSweep, nil, asynq.Queue("form"))
		if _, err := m.scheduler.Register(sweepSchedule, task); err != nil {
			return fmt.Errorf("failed to register sweep schedule: %w", err)
		}
		if err := m.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	go func() {
		if err := m.server.Run(m.mux); err != nil && err != asynq.ErrServerClosed {
			if m.logger != nil {
				m.logger.Printf("asynq server stopped with error: %v", err)
			} else {
				log.Printf("asynq server stopped with error: %v", err)
			}
		}
	}()
	return nil
}

// Shutdown はサーバー・スケジューラー・クライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.scheduler.Shutdown()
	m.server.Shutdown()
	m.client.Close()
	return nil
}

// Submit はレコードを enqueued にしてからワーカーへディスパッチします。
// ストアへの書き込みが完了してから投入するため、同一ジョブについて
// Start が Submit を追い越すことはありません。完了は待ちません。
func (m *Manager) Submit(ctx context.Context, jobID string, cfg form.PreparationConfig) error {
	if err := m.lifecycle.Submit(ctx, jobID, cfg); err != nil {
		return err
	}

	body, err := json.Marshal(&TaskPayload{JobID: jobID})
	if err != nil {
		return err
	}

	// 失敗したジョブの自動再実行は行わない
	task := asynq.NewTask(taskTypePrepare, body, asynq.Queue("form"))
	if _, err := m.client.EnqueueContext(ctx, task, asynq.MaxRetry(0)); err != nil {
		return err
	}
	return nil
}

// handlePrepareTask はワーカー側のエントリーポイントです。
// 検出の失敗は failure として記録した上で asynq に返し、
// ワーカーログからも観測できるようにします。
func (m *Manager) handlePrepareTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}
	if payload.JobID == "" {
		return fmt.Errorf("missing jobId in payload")
	}

	if err := m.lifecycle.Start(ctx, payload.JobID); err != nil {
		return err
	}

	record, err := m.lifecycle.Record(ctx, payload.JobID)
	if err != nil {
		return err
	}
	if record == nil || record.Config == nil {
		return fmt.Errorf("job %s has no preparation config", payload.JobID)
	}

	prepErr := m.svc.Prepare(ctx, payload.JobID, *record.Config)

	if err := m.lifecycle.Finish(ctx, payload.JobID, prepErr); err != nil {
		if m.logger != nil {
			m.logger.Printf("failed to record completion job=%s: %v", payload.JobID, err)
		}
		return err
	}
	return prepErr
}

func (m *Manager) handleSweepTask(ctx context.Context, task *asynq.Task) error {
	if m.sweeper == nil {
		return nil
	}
	_, err := m.sweeper.Sweep(time.Now())
	return err
}
