// Package catalog スタイルテンプレートカタログのCSV実装を提供する
package catalog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"github.com/apex/log"

	"hairstyle-analyzer-app/internal/apperr"
	"hairstyle-analyzer-app/internal/config"
	"hairstyle-analyzer-app/internal/domain/entity"
)

// requiredFields テンプレートCSVの必須ヘッダー
var requiredFields = []string{"category", "title", "menu", "comment", "hashtag"}

// CSVRepository CSVファイルから読み込むTemplateRepository実装
//
// 起動時に一度読み込み、以降は読み取り専用。不正な行はスキップし、
// 読み込み結果が0件の場合はエラーとする。
type CSVRepository struct {
	templates  []entity.Template
	byCategory map[string][]entity.Template
	categories []string // 読み込み順を保持
	weights    config.MatchingWeights
	cutoff     float64
	logger     *log.Entry
}

// NewCSVRepository CSVファイルからテンプレートカタログを読み込む
func NewCSVRepository(path string, matching *config.MatchingConfig) (*CSVRepository, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &apperr.ConfigError{Field: "paths.template_csv", Reason: fmt.Sprintf("cannot open %s: %v", path, err)}
	}
	defer func() {
		_ = f.Close()
	}()

	repo, err := newFromReader(f, matching)
	if err != nil {
		return nil, err
	}

	repo.logger.WithFields(log.Fields{
		"templates":  len(repo.templates),
		"categories": len(repo.categories),
	}).Info("template catalog loaded")
	return repo, nil
}

func newFromReader(r io.Reader, matching *config.MatchingConfig) (*CSVRepository, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	indices := make(map[string]int, len(header))
	for i, name := range header {
		indices[strings.TrimSpace(name)] = i
	}
	for _, field := range requiredFields {
		if _, ok := indices[field]; !ok {
			return nil, &apperr.ConfigError{Field: "paths.template_csv", Reason: fmt.Sprintf("missing required column %q", field)}
		}
	}

	repo := &CSVRepository{
		byCategory: make(map[string][]entity.Template),
		weights:    matching.Weights,
		cutoff:     matching.SimilarityCutoff,
		logger:     log.WithField("component", "catalog"),
	}

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			repo.logger.WithError(err).Warn("skipping malformed csv row")
			continue
		}
		if len(row) < len(requiredFields) {
			continue
		}

		tpl := entity.Template{
			Category: strings.TrimSpace(row[indices["category"]]),
			Title:    strings.TrimSpace(row[indices["title"]]),
			Menu:     strings.TrimSpace(row[indices["menu"]]),
			Comment:  strings.TrimSpace(row[indices["comment"]]),
			Hashtag:  strings.TrimSpace(row[indices["hashtag"]]),
		}
		if tpl.Category == "" || tpl.Title == "" {
			repo.logger.WithField("row", strings.Join(row, ",")).Warn("skipping invalid template row")
			continue
		}

		if _, seen := repo.byCategory[tpl.Category]; !seen {
			repo.categories = append(repo.categories, tpl.Category)
		}
		repo.templates = append(repo.templates, tpl)
		repo.byCategory[tpl.Category] = append(repo.byCategory[tpl.Category], tpl)
	}

	if len(repo.templates) == 0 {
		return nil, &apperr.ConfigError{Field: "paths.template_csv", Reason: "no valid templates found"}
	}
	return repo, nil
}

// TemplatesByCategory 指定カテゴリのテンプレートを返す
func (r *CSVRepository) TemplatesByCategory(category string) []entity.Template {
	return r.byCategory[category]
}

// Categories 全カテゴリを読み込み順で返す
func (r *CSVRepository) Categories() []string {
	return append([]string(nil), r.categories...)
}

// AllTemplates 全テンプレートを返す
func (r *CSVRepository) AllTemplates() []entity.Template {
	return append([]entity.Template(nil), r.templates...)
}

// FindBestTemplate 分析結果に最も合うテンプレートをスコアリングで検索する。
// カテゴリ不一致時は最も近いカテゴリ、それもなければ全件から選ぶ。
func (r *CSVRepository) FindBestTemplate(analysis *entity.StyleAnalysis) (*entity.Template, bool) {
	if len(r.templates) == 0 {
		return nil, false
	}

	candidates := r.byCategory[analysis.Category]
	if len(candidates) == 0 {
		if closest := r.closestCategory(analysis.Category); closest != "" {
			r.logger.WithFields(log.Fields{"category": analysis.Category, "closest": closest}).
				Debug("category not found, using closest")
			candidates = r.byCategory[closest]
		}
	}
	if len(candidates) == 0 {
		candidates = r.templates
	}

	best := r.scoreTemplates(candidates, analysis)
	return &best, true
}

// closestCategory カテゴリ名の類似度が最も高いカテゴリを返す。
// 類似度がカットオフ未満の場合は先頭カテゴリにフォールバックする。
func (r *CSVRepository) closestCategory(category string) string {
	if len(r.categories) == 0 {
		return ""
	}

	metric := metrics.NewSorensenDice()
	bestCategory := ""
	bestSimilarity := 0.0
	for _, candidate := range r.categories {
		similarity := strutil.Similarity(category, candidate, metric)
		if similarity > bestSimilarity {
			bestSimilarity = similarity
			bestCategory = candidate
		}
	}

	if bestSimilarity >= r.cutoff {
		return bestCategory
	}
	return r.categories[0]
}

// scoreTemplates 各テンプレートをスコアリングし最高スコアのものを返す。
// 同点の場合は先に現れたテンプレートが優先される。
func (r *CSVRepository) scoreTemplates(candidates []entity.Template, analysis *entity.StyleAnalysis) entity.Template {
	type scored struct {
		index int
		score float64
	}

	keywords := make(map[string]bool, len(analysis.Keywords))
	for _, kw := range analysis.Keywords {
		keywords[kw] = true
	}

	results := make([]scored, 0, len(candidates))
	for i, tpl := range candidates {
		score := 0.0

		if tpl.Category == analysis.Category {
			score += r.weights.Category
		}

		if tags := tpl.Hashtags(); len(tags) > 0 && len(keywords) > 0 {
			common := 0
			for _, tag := range tags {
				if keywords[tag] {
					common++
				}
			}
			score += float64(common) / float64(len(tags)) * r.weights.Keyword
		}

		combined := tpl.CombinedText()
		for _, feature := range analysis.Features.Values() {
			if feature != "" && strings.Contains(combined, strings.ToLower(feature)) {
				score += r.weights.Feature
			}
		}

		results = append(results, scored{index: i, score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})
	return candidates[results[0].index]
}
