package form

import (
	"bytes"
	"io"
	"os"
)

const (
	chunkSize = 1 << 20 // 1MiB

	// シグネチャ検査で参照する先頭バイト数
	headerWindow = 1024

	pdfMagic = "%PDF-"

	tempSuffix = ".part"
)

// SavePDFStream はPDFのバイトストリームを検証しながら dst に保存します。
// チャンク単位で一時ファイルに書き込み、全量を正常受信した場合のみ
// rename で dst に昇格させます。失敗時は一時ファイルを削除し、
// 部分的な書き込みが dst として見えることはありません。
// 戻り値は書き込んだバイト数です。
func (s *Service) SavePDFStream(r io.Reader, dst string) (written int64, err error) {
	tempPath := dst + tempSuffix

	out, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return 0, newError(CodeInvalidInput, "アップロードの保存先を開けませんでした。", err)
	}

	defer func() {
		if err != nil {
			out.Close()
			removeIfExists(tempPath)
		}
	}()

	header := make([]byte, 0, headerWindow)
	headerOK := false
	buf := make([]byte, chunkSize)

	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			chunk := buf[:n]

			if !headerOK {
				if need := headerWindow - len(header); need > 0 {
					if need > len(chunk) {
						need = len(chunk)
					}
					header = append(header, chunk[:need]...)
				}
				headerOK, err = checkPDFHeader(header, len(header) >= headerWindow)
				if err != nil {
					// 残りのストリームは読まずに打ち切る
					return written, err
				}
			}

			written += int64(n)
			if written > s.cfg.MaxFileSize {
				return written, newError(CodeLimitExceeded, "PDFのサイズが上限（100MB）を超えています。", nil)
			}

			if _, werr := out.Write(chunk); werr != nil {
				return written, newError(CodeInvalidInput, "アップロードの書き込みに失敗しました。", werr)
			}
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return written, newError(CodeInvalidInput, "アップロードの読み込みに失敗しました。", readErr)
		}
	}

	if written == 0 {
		return 0, newError(CodeEmptyUpload, "空のアップロードは受け付けられません。", nil)
	}
	if !headerOK {
		// 全量読み切ってもシグネチャが確定しなかった（短すぎる/空白のみ等）
		if _, cerr := checkPDFHeader(header, true); cerr != nil {
			return written, cerr
		}
		return written, newError(CodeInvalidFormat, "PDFのシグネチャが見つかりません。", nil)
	}

	if err = out.Sync(); err != nil {
		return written, newError(CodeInvalidInput, "アップロードの書き込みに失敗しました。", err)
	}
	if err = out.Close(); err != nil {
		return written, newError(CodeInvalidInput, "アップロードの書き込みに失敗しました。", err)
	}

	// rename だけが dst を可視化する。途中状態が dst に現れることはない。
	if err = os.Rename(tempPath, dst); err != nil {
		return written, newError(CodeInvalidInput, "アップロードの確定に失敗しました。", err)
	}

	return written, nil
}

// checkPDFHeader は先頭バイト列を検査します。
// 先頭の空白を読み飛ばした位置が %PDF- で始まれば (true, nil)、
// 始まらないことが確定したらエラー、まだ判断できなければ (false, nil) を返します。
// final は header がこれ以上伸びないことを示します。
func checkPDFHeader(header []byte, final bool) (bool, error) {
	trimmed := bytes.TrimLeft(header, " \t\n\v\f\r")

	if len(trimmed) >= len(pdfMagic) {
		if bytes.HasPrefix(trimmed, []byte(pdfMagic)) {
			return true, nil
		}
		return false, newError(CodeInvalidFormat, "PDFファイルではありません（シグネチャ不一致）。", nil)
	}

	if final && len(header) > 0 {
		// 検査窓を使い切った（または全量受信した）のにシグネチャが現れない
		return false, newError(CodeInvalidFormat, "PDFのシグネチャが見つかりません。", nil)
	}

	return false, nil
}

// removeIfExists は path を削除します。既に存在しない場合も成功扱いです。
// 削除に失敗しても呼び出し元にはエラーを返しません（残骸は保持期限
// スイープが回収します）。
func removeIfExists(path string) {
	_ = os.Remove(path)
}
