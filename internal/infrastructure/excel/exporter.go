// Package excel 処理結果のExcel出力を実装する
package excel

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/xuri/excelize/v2"

	"hairstyle-analyzer-app/internal/config"
	"hairstyle-analyzer-app/internal/domain/entity"
)

const (
	minColumnWidth = 10.0
	maxColumnWidth = 50.0
)

// Exporter 処理結果をxlsx形式で出力するResultExporter実装
type Exporter struct {
	cfg    *config.ExcelConfig
	logger *log.Entry
}

// NewExporter 新しいExporterを作成
func NewExporter(cfg *config.ExcelConfig) *Exporter {
	return &Exporter{
		cfg:    cfg,
		logger: log.WithField("component", "excel"),
	}
}

// Export 結果をファイルに書き出し、出力パスを返す。
// 既存ファイルはタイムスタンプ付きでバックアップされる。
func (e *Exporter) Export(results []entity.ProcessResult, outputPath string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	if _, err := os.Stat(outputPath); err == nil {
		backupPath, err := e.createBackup(outputPath)
		if err != nil {
			return "", err
		}
		e.logger.WithField("backup", backupPath).Info("backed up existing file")
	}

	file, err := e.buildWorkbook(results)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = file.Close()
	}()

	if err := file.SaveAs(outputPath); err != nil {
		return "", fmt.Errorf("failed to save excel file: %w", err)
	}

	e.logger.WithFields(log.Fields{"path": outputPath, "rows": len(results)}).Info("exported results")
	return outputPath, nil
}

// Binary 結果のバイナリデータを返す（ダウンロード用）
func (e *Exporter) Binary(results []entity.ProcessResult) ([]byte, error) {
	file, err := e.buildWorkbook(results)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = file.Close()
	}()

	buf, err := file.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *Exporter) buildWorkbook(results []entity.ProcessResult) (*excelize.File, error) {
	file := excelize.NewFile()

	sheet := e.cfg.SheetName
	if err := file.SetSheetName(file.GetSheetName(0), sheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	// ヘッダー行
	columns := e.sortedColumns()
	for _, col := range columns {
		if err := file.SetCellValue(sheet, col+"1", e.cfg.Headers[col]); err != nil {
			return nil, fmt.Errorf("failed to set header: %w", err)
		}
	}

	widths := make(map[string]int)
	for col, header := range e.cfg.Headers {
		widths[col] = len([]rune(header))
	}

	for i, result := range results {
		row := i + 2
		for col, value := range rowValues(result) {
			cell := fmt.Sprintf("%s%d", col, row)
			if err := file.SetCellValue(sheet, cell, value); err != nil {
				return nil, fmt.Errorf("failed to set cell %s: %w", cell, err)
			}
			if n := len([]rune(value)); n > widths[col] {
				widths[col] = n
			}
		}
	}

	for col, width := range widths {
		adjusted := float64(width+2) * 1.1
		if adjusted < minColumnWidth {
			adjusted = minColumnWidth
		}
		if adjusted > maxColumnWidth {
			adjusted = maxColumnWidth
		}
		if err := file.SetColWidth(sheet, col, col, adjusted); err != nil {
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	return file, nil
}

// rowValues 1結果の列レター→セル値のマップを作る。
// 失敗アイテムは画像名とエラー内容のみ出力する。
func rowValues(result entity.ProcessResult) map[string]string {
	if result.Failed() {
		return map[string]string{
			"C": "処理失敗: " + result.Error,
			"I": result.ImageName,
		}
	}

	values := map[string]string{
		"C": result.SelectedTemplate.Comment,
		"D": result.SelectedTemplate.Title,
		"E": result.AttributeAnalysis.Sex,
		"F": result.AttributeAnalysis.Length,
		"G": result.SelectedTemplate.Menu,
		"H": result.SelectedTemplate.Hashtag,
		"I": result.ImageName,
	}
	if result.SelectedStylist != nil {
		values["A"] = result.SelectedStylist.Name
	}
	if result.SelectedCoupon != nil {
		values["B"] = result.SelectedCoupon.Name
	}
	return values
}

func (e *Exporter) sortedColumns() []string {
	columns := make([]string, 0, len(e.cfg.Headers))
	for col := range e.cfg.Headers {
		columns = append(columns, col)
	}
	sort.Strings(columns)
	return columns
}

func (e *Exporter) createBackup(path string) (string, error) {
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	backupPath := fmt.Sprintf("%s_%s_backup%s", stem, time.Now().Format("20060102_150405"), ext)

	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file for backup: %w", err)
	}
	defer func() {
		_ = src.Close()
	}()

	dst, err := os.Create(backupPath)
	if err != nil {
		return "", fmt.Errorf("failed to create backup file: %w", err)
	}
	defer func() {
		_ = dst.Close()
	}()

	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("failed to copy backup: %w", err)
	}
	return backupPath, nil
}
