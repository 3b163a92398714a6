// Package form はPDFフォーム化処理のドメイン機能を提供します。
// アップロードの検証・保存、検出設定の正規化、外部検出コマンドの実行を含みます。
package form

import "fmt"

// エラーコード一覧。respondWithError がHTTPステータスへ変換します。
const (
	CodeInvalidInput     = "INVALID_INPUT"
	CodeInvalidFormat    = "INVALID_FORMAT"
	CodeLimitExceeded    = "LIMIT_EXCEEDED"
	CodeEmptyUpload      = "EMPTY_UPLOAD"
	CodeInvalidConfig    = "INVALID_CONFIG"
	CodeJobNotFound      = "JOB_NOT_FOUND"
	CodeResultNotFound   = "JOB_RESULT_NOT_FOUND"
	CodeAlreadySubmitted = "ALREADY_SUBMITTED"
	CodeUnsupportedPDF   = "UNSUPPORTED_PDF"
)

// Error はクライアントに返すエラーコードとメッセージを保持します。
type Error struct {
	Code    string
	Message string
	Err     error
}

// Error は error インターフェースを実装します。
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap は原因となったエラーを返します。
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     cause,
	}
}
