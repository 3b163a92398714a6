package storage

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"
)

// Sweeper は保持期限を過ぎたPDFを定期的に削除します。
// ジョブの状態には関知せず、最終更新時刻だけを判断基準にします。
// 未ダウンロードの成果物も期限が来れば消える仕様です。
type Sweeper struct {
	layout    Layout
	retention time.Duration
	logger    *log.Logger
}

// NewSweeper は Sweeper を作成します。
func NewSweeper(layout Layout, retention time.Duration, logger *log.Logger) *Sweeper {
	return &Sweeper{
		layout:    layout,
		retention: retention,
		logger:    logger,
	}
}

// Sweep は inputs/ と outputs/ を走査し、now から見て保持期限を過ぎた
// PDFを削除します。削除したファイル数を返します。
// 走査と削除の間に他のスイープがファイルを消していても成功扱いです。
func (s *Sweeper) Sweep(now time.Time) (int, error) {
	cutoff := now.Add(-s.retention)
	removed := 0

	for _, dir := range []string{s.layout.InputDir(), s.layout.OutputDir()} {
		paths, err := filepath.Glob(filepath.Join(dir, "*.pdf"))
		if err != nil {
			return removed, err
		}

		for _, path := range paths {
			info, err := os.Stat(path)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				return removed, err
			}
			if !info.ModTime().Before(cutoff) {
				continue
			}

			if err := os.Remove(path); err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				return removed, err
			}
			removed++
		}
	}

	return removed, nil
}

// SweepNow は現在時刻でスイープを実行し、結果をログに残します。
func (s *Sweeper) SweepNow() error {
	removed, err := s.Sweep(time.Now())
	if err != nil {
		if s.logger != nil {
			s.logger.Printf("retention sweep failed after removing %d files: %v", removed, err)
		}
		return err
	}
	if s.logger != nil && removed > 0 {
		s.logger.Printf("retention sweep removed %d expired files", removed)
	}
	return nil
}
