package form

import (
	"fmt"
	"strings"
)

// Model は検出モデルの種類を表します。
type Model string

const (
	ModelSmall Model = "small"
	ModelLarge Model = "large"
)

// modelWeights はAPI上のモデル名から実際の検出モデル名への対応表です。
var modelWeights = map[Model]string{
	ModelSmall: "FFDNet-S",
	ModelLarge: "FFDNet-L",
}

// sensitivityConfidence は感度（1〜5）から検出confidence閾値への対応表です。
// 1が最も保守的（高confidence）、5が最も寛容（低confidence）です。
var sensitivityConfidence = [5]float64{0.8, 0.5, 0.3, 0.1, 0.01}

// PreparationConfig はフォーム検出の実行パラメータです。
// 提出時に一度だけ指定され、以後変更されません。
type PreparationConfig struct {
	Model              Model `json:"model"`
	Sensitivity        int   `json:"sensitivity"`
	UseSignatureFields bool  `json:"use_signature_fields"`
	KeepExistingFields bool  `json:"keep_existing_fields"`
}

// Validate は設定値を検証します。
func (c PreparationConfig) Validate() error {
	if _, ok := modelWeights[c.Model]; !ok {
		return newError(CodeInvalidConfig, fmt.Sprintf("modelには small または large を指定してください (received: %s)", c.Model), nil)
	}
	if c.Sensitivity < 1 || c.Sensitivity > len(sensitivityConfidence) {
		return newError(CodeInvalidConfig, fmt.Sprintf("sensitivityには 1〜5 を指定してください (received: %d)", c.Sensitivity), nil)
	}
	return nil
}

// Confidence は感度に対応する検出confidence閾値を返します。
// Validate 済みの設定で呼ぶことを想定しています。
func (c PreparationConfig) Confidence() float64 {
	return sensitivityConfidence[c.Sensitivity-1]
}

// ModelWeights は検出コマンドに渡すモデル名を返します。
func (c PreparationConfig) ModelWeights() string {
	return modelWeights[c.Model]
}

// FillableFilename はダウンロード時のファイル名を元のファイル名から導出します。
// 末尾の .pdf（大文字小文字不問）を _fillable.pdf に置き換え、
// .pdf で終わらない場合は _fillable.pdf を付加します。
func FillableFilename(originalName string) string {
	if originalName == "" {
		originalName = "document.pdf"
	}
	if strings.HasSuffix(strings.ToLower(originalName), ".pdf") {
		return originalName[:len(originalName)-len(".pdf")] + "_fillable.pdf"
	}
	return originalName + "_fillable.pdf"
}
