package repository

import "hairstyle-analyzer-app/internal/domain/entity"

// ResultExporter 処理結果のエクスポーターインターフェース
type ResultExporter interface {
	// Export 結果をファイルに書き出し、出力パスを返す
	Export(results []entity.ProcessResult, outputPath string) (string, error)

	// Binary 結果のバイナリデータを返す（ダウンロード用）
	Binary(results []entity.ProcessResult) ([]byte, error)
}
