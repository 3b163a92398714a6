package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/form-forge/internal/form"
	"github.com/yourusername/form-forge/internal/jobs"
)

// ストレージの書き込みが見えるまでのダウンロード再試行待ち。
// 再試行は1回だけで、それでも見つからなければ 404 を返します。
var downloadRetryWait = 2 * time.Second

// jobSubmitter は提出を受け付けてワーカーへディスパッチします。
// 実体は jobs.Manager です。
type jobSubmitter interface {
	Submit(ctx context.Context, jobID string, cfg form.PreparationConfig) error
}

// uploadHandler は POST /api/upload のハンドラーを返します。
// multipart ストリームをバッファせずにそのまま保存へ流し込みます。
func uploadHandler(svc *form.Service, lifecycle *jobs.Lifecycle) gin.HandlerFunc {
	return func(c *gin.Context) {
		reader, err := c.Request.MultipartReader()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    form.CodeInvalidInput,
				"message": "multipart/form-data でPDFファイルを送信してください。",
			})
			return
		}

		part, err := nextFilePart(reader)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    form.CodeInvalidInput,
				"message": "アップロードされたPDFファイルが見つかりません。",
			})
			return
		}
		defer part.Close()

		result, err := svc.SaveUpload(c.Request.Context(), part, part.FileName())
		if err != nil {
			respondWithError(c, err)
			return
		}

		if err := lifecycle.CreateDocument(c.Request.Context(), result.DocumentID, part.FileName()); err != nil {
			respondWithError(c, err)
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

// detectRequest は POST /api/detect のリクエストボディです。
type detectRequest struct {
	DocumentID string                 `json:"documentId" binding:"required"`
	Config     form.PreparationConfig `json:"config"`
}

// detectHandler は POST /api/detect のハンドラーを返します。
// 提出はディスパッチまでで応答し、処理の完了は待ちません。
func detectHandler(submitter jobSubmitter) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req detectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    form.CodeInvalidInput,
				"message": "documentId と config を JSON で送ってください。",
			})
			return
		}

		if err := submitter.Submit(c.Request.Context(), req.DocumentID, req.Config); err != nil {
			respondWithError(c, err)
			return
		}

		c.JSON(http.StatusOK, jobs.StatusView{Status: jobs.StatusEnqueued})
	}
}

// pollHandler は GET /api/poll のハンドラーを返します。
func pollHandler(lifecycle *jobs.Lifecycle) gin.HandlerFunc {
	return func(c *gin.Context) {
		documentID := strings.TrimSpace(c.Query("documentId"))
		if documentID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    form.CodeInvalidInput,
				"message": "documentId を指定してください。",
			})
			return
		}

		view, err := lifecycle.Poll(c.Request.Context(), documentID)
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

// downloadHandler は GET /api/download のハンドラーを返します。
func downloadHandler(svc *form.Service, lifecycle *jobs.Lifecycle) gin.HandlerFunc {
	return func(c *gin.Context) {
		documentID := strings.TrimSpace(c.Query("documentId"))
		if documentID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    form.CodeInvalidInput,
				"message": "documentId を指定してください。",
			})
			return
		}

		record, err := lifecycle.Record(c.Request.Context(), documentID)
		if err != nil {
			respondWithError(c, err)
			return
		}
		if record == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    form.CodeJobNotFound,
				"message": "指定されたドキュメントは存在しません。",
			})
			return
		}

		file, size, err := openOutputWithRetry(svc, documentID)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				c.JSON(http.StatusNotFound, gin.H{
					"code":    form.CodeResultNotFound,
					"message": "成果物がまだ生成されていません。",
				})
				return
			}
			respondWithError(c, err)
			return
		}
		defer file.Close()

		filename := record.OutputFilename
		if filename == "" {
			filename = form.FillableFilename(record.OriginalFilename)
		}

		contentType := "application/pdf"
		if mtype, derr := mimetype.DetectFile(svc.Layout().OutputPath(documentID)); derr == nil {
			contentType = mtype.String()
		}

		encodedName := url.PathEscape(filename)
		c.Header("Content-Type", contentType)
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", filename, encodedName))
		c.Header("Cache-Control", "no-store")
		c.Header("X-Job-Id", documentID)
		c.DataFromReader(http.StatusOK, size, contentType, file, nil)
	}
}

// openOutputWithRetry は成果物を開きます。ストレージの反映遅れに備えて
// 見つからない場合は短く待ってからもう一度だけ試します。
func openOutputWithRetry(svc *form.Service, documentID string) (*os.File, int64, error) {
	file, size, err := svc.OpenOutput(documentID)
	if err == nil || !errors.Is(err, fs.ErrNotExist) {
		return file, size, err
	}

	time.Sleep(downloadRetryWait)
	return svc.OpenOutput(documentID)
}

// nextFilePart は multipart ストリームから最初のファイルパートを返します。
// ファイルでないフィールドは読み飛ばします。
func nextFilePart(reader *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := reader.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FileName() == "" {
			part.Close()
			continue
		}
		return part, nil
	}
}

func respondWithError(c *gin.Context, err error) {
	var apiErr *form.Error
	switch {
	case errors.As(err, &apiErr):
		status := http.StatusBadRequest
		switch apiErr.Code {
		case form.CodeLimitExceeded:
			status = http.StatusRequestEntityTooLarge
		case form.CodeJobNotFound, form.CodeResultNotFound:
			status = http.StatusNotFound
		case form.CodeAlreadySubmitted:
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}
