package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"github.com/apex/log"

	"hairstyle-analyzer-app/internal/config"
	"hairstyle-analyzer-app/internal/domain/entity"
	"hairstyle-analyzer-app/internal/domain/repository"
)

// MatchingUseCase テンプレート・スタイリスト・クーポンの選択を行うユースケース
type MatchingUseCase struct {
	templates repository.TemplateRepository
	aiRepo    repository.AIRepository
	cfg       *config.MatchingConfig
	logger    *log.Entry
}

// NewMatchingUseCase 新しいMatchingUseCaseを作成
func NewMatchingUseCase(templates repository.TemplateRepository, aiRepo repository.AIRepository, cfg *config.MatchingConfig) *MatchingUseCase {
	return &MatchingUseCase{
		templates: templates,
		aiRepo:    aiRepo,
		cfg:       cfg,
		logger:    log.WithField("component", "matching"),
	}
}

// FindBestTemplate スコアリングで最適テンプレートを検索する
func (uc *MatchingUseCase) FindBestTemplate(analysis *entity.StyleAnalysis) (*entity.Template, bool) {
	return uc.templates.FindBestTemplate(analysis)
}

// FindBestTemplateWithAI 最適テンプレートを検索する。use_aiが有効な場合は
// AIに候補から選ばせ、失敗時はfallback_on_failureに従いスコアリングへ落ちる。
// 戻り値のusedAIはAIの選択が採用されたかどうかを示す。
func (uc *MatchingUseCase) FindBestTemplateWithAI(ctx context.Context, image entity.Image, analysis *entity.StyleAnalysis) (tpl *entity.Template, reason string, usedAI bool, err error) {
	if !uc.cfg.UseAI {
		tpl, ok := uc.FindBestTemplate(analysis)
		if !ok {
			return nil, "", false, fmt.Errorf("no templates available")
		}
		return tpl, "スコアリングにより選択", false, nil
	}

	candidates := uc.templateCandidates(analysis)
	if len(candidates) == 0 {
		return nil, "", false, fmt.Errorf("no templates available")
	}

	title, err := uc.aiRepo.SelectTemplate(ctx, image, candidates, analysis)
	if err != nil {
		if uc.cfg.FallbackOnFailure {
			uc.logger.WithError(err).Warn("ai template selection failed, falling back to scoring")
			tpl, ok := uc.FindBestTemplate(analysis)
			if !ok {
				return nil, "", false, fmt.Errorf("no templates available")
			}
			return tpl, "スコアリングにより選択（AI失敗）", false, nil
		}
		return nil, "", false, fmt.Errorf("ai template selection failed: %w", err)
	}

	for i := range candidates {
		if candidates[i].Title == title {
			return &candidates[i], "AIにより選択", true, nil
		}
	}
	// SelectTemplateは候補内のタイトルを返す契約だが、念のため
	return &candidates[0], "AIにより選択", true, nil
}

// SelectStylist 最適なスタイリストを選択する。候補が空の場合は
// nilを返す（エラーではない）。
func (uc *MatchingUseCase) SelectStylist(ctx context.Context, image entity.Image, analysis *entity.StyleAnalysis, stylists []entity.StylistInfo) (*entity.StylistInfo, string, error) {
	if len(stylists) == 0 {
		return nil, "", nil
	}

	if uc.cfg.UseAI {
		name, err := uc.aiRepo.SelectStylist(ctx, image, stylists, analysis)
		if err == nil {
			for i := range stylists {
				if stylists[i].Name == name {
					return &stylists[i], "AIにより選択", nil
				}
			}
		} else {
			if !uc.cfg.FallbackOnFailure {
				return nil, "", fmt.Errorf("ai stylist selection failed: %w", err)
			}
			uc.logger.WithError(err).Warn("ai stylist selection failed, falling back to similarity")
		}
	}

	best := bestBySimilarity(analysisText(analysis), stylists, func(s entity.StylistInfo) string { return s.Text() })
	return &stylists[best], "テキスト類似度により選択", nil
}

// SelectCoupon 最適なクーポンを選択する。候補が空の場合はnilを返す。
func (uc *MatchingUseCase) SelectCoupon(ctx context.Context, image entity.Image, analysis *entity.StyleAnalysis, coupons []entity.CouponInfo) (*entity.CouponInfo, string, error) {
	if len(coupons) == 0 {
		return nil, "", nil
	}

	if uc.cfg.UseAI {
		name, err := uc.aiRepo.SelectCoupon(ctx, image, coupons, analysis)
		if err == nil {
			for i := range coupons {
				if coupons[i].Name == name {
					return &coupons[i], "AIにより選択", nil
				}
			}
		} else {
			if !uc.cfg.FallbackOnFailure {
				return nil, "", fmt.Errorf("ai coupon selection failed: %w", err)
			}
			uc.logger.WithError(err).Warn("ai coupon selection failed, falling back to similarity")
		}
	}

	best := bestBySimilarity(analysisText(analysis), coupons, func(c entity.CouponInfo) string { return c.Text() })
	return &coupons[best], "テキスト類似度により選択", nil
}

// templateCandidates AI選択用の候補テンプレートを集める
func (uc *MatchingUseCase) templateCandidates(analysis *entity.StyleAnalysis) []entity.Template {
	var candidates []entity.Template
	if uc.cfg.UseCategoryFilter {
		candidates = uc.templates.TemplatesByCategory(analysis.Category)
	}
	if len(candidates) == 0 {
		candidates = uc.templates.AllTemplates()
	}
	if uc.cfg.MaxTemplates > 0 && len(candidates) > uc.cfg.MaxTemplates {
		candidates = candidates[:uc.cfg.MaxTemplates]
	}
	return candidates
}

// bestBySimilarity 分析テキストとの類似度が最も高い候補のインデックスを返す。
// 同点の場合は先に現れた候補が優先される。
func bestBySimilarity[T any](text string, items []T, textOf func(T) string) int {
	metric := metrics.NewSorensenDice()

	bestIndex := 0
	bestScore := -1.0
	for i, item := range items {
		score := strutil.Similarity(text, textOf(item), metric)
		if score > bestScore {
			bestScore = score
			bestIndex = i
		}
	}
	return bestIndex
}

// analysisText 類似度計算用に分析結果をテキスト化する
func analysisText(analysis *entity.StyleAnalysis) string {
	parts := []string{analysis.Category, analysis.Features.Description()}
	parts = append(parts, analysis.Keywords...)
	return strings.Join(parts, " ")
}
