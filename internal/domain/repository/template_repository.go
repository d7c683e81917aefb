package repository

import "hairstyle-analyzer-app/internal/domain/entity"

// TemplateRepository テンプレートカタログのリポジトリインターフェース
// 起動時に一度読み込まれ、以降は読み取り専用。
type TemplateRepository interface {
	TemplatesByCategory(category string) []entity.Template
	Categories() []string
	AllTemplates() []entity.Template

	// FindBestTemplate スコアリングで最適テンプレートを検索。
	// カタログが空の場合はfalseを返す。
	FindBestTemplate(analysis *entity.StyleAnalysis) (*entity.Template, bool)
}
