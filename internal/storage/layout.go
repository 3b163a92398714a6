// Package storage は入出力PDFのファイル配置と保持期限による削除を提供します。
package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	inputsDirName  = "inputs"
	outputsDirName = "outputs"
)

// Layout はストレージルート配下のファイル配置を表します。
// 入力は inputs/<documentId>.pdf、出力は outputs/<documentId>.pdf に置かれます。
type Layout struct {
	root string
}

// NewLayout は Layout を作成します。
func NewLayout(root string) Layout {
	return Layout{root: root}
}

// Root はストレージルートを返します。
func (l Layout) Root() string {
	return l.root
}

// InputDir は入力PDFのディレクトリを返します。
func (l Layout) InputDir() string {
	return filepath.Join(l.root, inputsDirName)
}

// OutputDir は出力PDFのディレクトリを返します。
func (l Layout) OutputDir() string {
	return filepath.Join(l.root, outputsDirName)
}

// InputPath はドキュメントIDに対応する入力PDFのパスを返します。
func (l Layout) InputPath(documentID string) string {
	return filepath.Join(l.InputDir(), documentID+".pdf")
}

// OutputPath はドキュメントIDに対応する出力PDFのパスを返します。
func (l Layout) OutputPath(documentID string) string {
	return filepath.Join(l.OutputDir(), documentID+".pdf")
}

// EnsureDirs は入出力ディレクトリを作成します（既に存在する場合は何もしません）。
func (l Layout) EnsureDirs() error {
	for _, dir := range []string{l.InputDir(), l.OutputDir()} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create storage dir %s: %w", dir, err)
		}
	}
	return nil
}
