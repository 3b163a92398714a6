package form

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
)

// Preparer はフォーム検出の実行を抽象化します。
// 入力PDFと出力先パス、検出パラメータを受け取り、出力PDFを生成します。
type Preparer interface {
	Prepare(ctx context.Context, inputPath, outputPath string, cfg PreparationConfig) error
}

// commandPreparer は外部の検出コマンドを実行する Preparer 実装です。
type commandPreparer struct {
	path string
}

func (p *commandPreparer) Prepare(ctx context.Context, inputPath, outputPath string, cfg PreparationConfig) error {
	args := preparerArgs(inputPath, outputPath, cfg)

	cmd := exec.CommandContext(ctx, p.path, args...)
	var stderr bytes.Buffer
	cmd.Stdout = &stderr
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return newError(CodeUnsupportedPDF, fmt.Sprintf("フォーム検出に失敗しました: %s", stderr.String()), err)
	}
	return nil
}

func preparerArgs(inputPath, outputPath string, cfg PreparationConfig) []string {
	args := []string{
		inputPath,
		outputPath,
		"--model", cfg.ModelWeights(),
		"--confidence", strconv.FormatFloat(cfg.Confidence(), 'f', -1, 64),
	}
	if cfg.UseSignatureFields {
		args = append(args, "--use-signature-fields")
	}
	if cfg.KeepExistingFields {
		args = append(args, "--keep-existing-fields")
	}
	return args
}
