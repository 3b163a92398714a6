package jobs

import (
	"context"
	"log"
	"time"

	"github.com/yourusername/form-forge/internal/form"
)

// Lifecycle はジョブの状態遷移とタイムスタンプ管理を担います。
// 遷移は enqueued → running → success/failure の一方向のみで、
// 状態の巻き戻しやスキップは行いません。
type Lifecycle struct {
	store  Store
	logger *log.Logger
	now    func() time.Time
}

// NewLifecycle は Lifecycle を作成します。
func NewLifecycle(store Store, logger *log.Logger) *Lifecycle {
	return &Lifecycle{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// CreateDocument はアップロード直後の未提出レコードを作成します。
func (l *Lifecycle) CreateDocument(ctx context.Context, jobID, originalFilename string) error {
	if originalFilename == "" {
		originalFilename = "document.pdf"
	}
	return l.store.Upsert(ctx, &Record{
		JobID:            jobID,
		OriginalFilename: originalFilename,
	})
}

// Submit はレコードを enqueued に遷移させ、検出設定と出力ファイル名を
// 確定します。レコードが存在しない場合は JOB_NOT_FOUND、提出済みの
// 場合は ALREADY_SUBMITTED を返します。
func (l *Lifecycle) Submit(ctx context.Context, jobID string, cfg form.PreparationConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	record, err := l.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if record == nil {
		return &form.Error{Code: form.CodeJobNotFound, Message: "指定されたドキュメントは存在しません。"}
	}
	if record.Status != StatusUnsubmitted {
		return &form.Error{Code: form.CodeAlreadySubmitted, Message: "このドキュメントは既に提出されています。"}
	}

	now := l.now().UTC()
	return l.store.Merge(ctx, jobID, func(r *Record) {
		r.Config = &cfg
		r.Status = StatusEnqueued
		r.EnqueueTime = &now
		r.RunTime = nil
		r.CompleteTime = nil
		r.OutputFilename = form.FillableFilename(r.OriginalFilename)
	})
}

// Start はワーカーが実行を開始したことを記録します。
// enqueued 以外のレコードには何もしません（正しいディスパッチでは
// 起こらないはずの呼び出しなので、ログだけ残します）。
func (l *Lifecycle) Start(ctx context.Context, jobID string) error {
	now := l.now().UTC()
	return l.store.Merge(ctx, jobID, func(r *Record) {
		if r.Status != StatusEnqueued {
			if l.logger != nil {
				l.logger.Printf("start ignored for job=%s in status=%q", jobID, r.Status)
			}
			return
		}
		r.Status = StatusRunning
		r.RunTime = &now
	})
}

// Finish はワーカーの実行結果を記録します。procErr が nil なら success、
// それ以外なら failure として完了時刻とともに保存します。
func (l *Lifecycle) Finish(ctx context.Context, jobID string, procErr error) error {
	now := l.now().UTC()
	return l.store.Merge(ctx, jobID, func(r *Record) {
		if r.Status.Terminal() {
			return
		}
		r.CompleteTime = &now
		if procErr != nil {
			r.Status = StatusFailed
		} else {
			r.Status = StatusSucceeded
		}
	})
}

// Poll は現在状態と待ち時間・実行時間（秒）を返します。
// レコードが存在しない、または未提出の場合は enqueued/0/0 を返します。
// 待ち時間は実行開始までポーリングごとに伸び、開始後は実際の
// 待機時間で固定されます。実行時間は enqueued の間は常に0です。
func (l *Lifecycle) Poll(ctx context.Context, jobID string) (StatusView, error) {
	record, err := l.store.Get(ctx, jobID)
	if err != nil {
		return StatusView{}, err
	}
	if record == nil || record.Status == StatusUnsubmitted {
		return StatusView{Status: StatusEnqueued}, nil
	}

	now := l.now().UTC()
	view := StatusView{Status: record.Status}

	if record.EnqueueTime != nil {
		queueEnd := now
		if record.RunTime != nil {
			queueEnd = *record.RunTime
		}
		view.QueueTime = queueEnd.Sub(*record.EnqueueTime).Seconds()
	}

	if record.RunTime != nil && record.Status != StatusEnqueued {
		runEnd := now
		if record.CompleteTime != nil {
			runEnd = *record.CompleteTime
		}
		view.RunTime = runEnd.Sub(*record.RunTime).Seconds()
	}

	return view, nil
}

// Record はレコードを取得します。ダウンロード時のファイル名解決に使います。
func (l *Lifecycle) Record(ctx context.Context, jobID string) (*Record, error) {
	return l.store.Get(ctx, jobID)
}
