package form

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"

	"github.com/google/uuid"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/yourusername/form-forge/internal/config"
	"github.com/yourusername/form-forge/internal/storage"
)

// pageCountFile はページ数の取得に使う関数です（テストで差し替え）。
var pageCountFile = pdfapi.PageCountFile

// Service はアップロードの受け付けとフォーム検出の実行を提供します。
type Service struct {
	cfg      *config.Config
	layout   storage.Layout
	preparer Preparer
}

// NewService は Service を作成します。
// preparer が nil の場合は設定のコマンドパスを使う既定の実装になります。
func NewService(cfg *config.Config, layout storage.Layout, preparer Preparer) *Service {
	if preparer == nil {
		preparer = &commandPreparer{path: cfg.PreparerPath}
	}
	return &Service{
		cfg:      cfg,
		layout:   layout,
		preparer: preparer,
	}
}

// Layout はストレージ配置を返します。
func (s *Service) Layout() storage.Layout {
	return s.layout
}

// UploadResult はアップロード受け付け結果です。
type UploadResult struct {
	DocumentID string `json:"documentId"`
	Pages      int    `json:"pages"`
	Size       int64  `json:"size"`
}

// SaveUpload はPDFストリームを検証・保存し、新しいドキュメントIDと
// ページ数・サイズを返します。保存は inputs/<documentId>.pdf への
// アトミックな昇格で行われます。
func (s *Service) SaveUpload(ctx context.Context, r io.Reader, originalName string) (*UploadResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	documentID := uuid.NewString()
	inputPath := s.layout.InputPath(documentID)

	size, err := s.SavePDFStream(r, inputPath)
	if err != nil {
		return nil, err
	}

	pages, err := pageCountFile(inputPath)
	if err != nil {
		// ページ数が取れないPDFは処理できないので受け付けない
		removeIfExists(inputPath)
		return nil, newError(CodeUnsupportedPDF, "PDFのページ数を取得できませんでした。", err)
	}

	return &UploadResult{
		DocumentID: documentID,
		Pages:      pages,
		Size:       size,
	}, nil
}

// Prepare はドキュメントIDに対応する入力PDFへフォーム検出を実行し、
// 出力PDFを outputs/ に生成します。
func (s *Service) Prepare(ctx context.Context, documentID string, cfg PreparationConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}

	inputPath := s.layout.InputPath(documentID)
	if _, err := os.Stat(inputPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return newError(CodeJobNotFound, "入力PDFが見つかりません。", err)
		}
		return err
	}

	return s.preparer.Prepare(ctx, inputPath, s.layout.OutputPath(documentID), cfg)
}

// OpenOutput はドキュメントIDに対応する出力PDFを開きます。
func (s *Service) OpenOutput(documentID string) (*os.File, int64, error) {
	file, err := os.Open(s.layout.OutputPath(documentID))
	if err != nil {
		return nil, 0, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, err
	}
	return file, info.Size(), nil
}
