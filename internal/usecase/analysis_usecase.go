package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"

	"hairstyle-analyzer-app/internal/config"
	"hairstyle-analyzer-app/internal/domain/entity"
	"hairstyle-analyzer-app/internal/domain/repository"
)

// analysisCacheContext 分析結果キャッシュの名前空間
const analysisCacheContext = "analysis"

// AnalysisUseCase 画像分析のユースケース。分析結果は画像ハッシュを
// キーにキャッシュされ、同一画像の再分析ではAPIを呼ばない。
type AnalysisUseCase struct {
	aiRepo   repository.AIRepository
	cache    repository.CacheRepository
	ttl      time.Duration
	useCache bool
	logger   *log.Entry
}

// NewAnalysisUseCase 新しいAnalysisUseCaseを作成
func NewAnalysisUseCase(aiRepo repository.AIRepository, cache repository.CacheRepository, cacheCfg *config.CacheConfig) *AnalysisUseCase {
	return &AnalysisUseCase{
		aiRepo:   aiRepo,
		cache:    cache,
		ttl:      time.Duration(cacheCfg.TTLDays) * 24 * time.Hour,
		useCache: true,
		logger:   log.WithField("component", "analysis"),
	}
}

// SetCacheEnabled キャッシュの使用を切り替える（--no-cache用）
func (uc *AnalysisUseCase) SetCacheEnabled(enabled bool) {
	uc.useCache = enabled
}

// AnalyzeStyle 画像のスタイル分析を行う（キャッシュ優先）
func (uc *AnalysisUseCase) AnalyzeStyle(ctx context.Context, image entity.Image, categories []string) (*entity.StyleAnalysis, error) {
	if len(image.Data) == 0 {
		return nil, fmt.Errorf("image data is empty")
	}

	key := cacheKey(image.Data, "style", categories...)

	if uc.useCache && uc.cache != nil {
		var cached entity.StyleAnalysis
		if hit := uc.cacheGet(ctx, key, &cached); hit {
			uc.logger.WithField("image", image.Name).Debug("style analysis cache hit")
			return &cached, nil
		}
	}

	analysis, err := uc.aiRepo.AnalyzeImage(ctx, image, categories)
	if err != nil {
		return nil, fmt.Errorf("style analysis failed: %w", err)
	}

	uc.cacheSet(ctx, key, analysis)
	return analysis, nil
}

// AnalyzeAttributes 画像の属性分析を行う（キャッシュ優先）
func (uc *AnalysisUseCase) AnalyzeAttributes(ctx context.Context, image entity.Image) (*entity.AttributeAnalysis, error) {
	if len(image.Data) == 0 {
		return nil, fmt.Errorf("image data is empty")
	}

	key := cacheKey(image.Data, "attributes")

	if uc.useCache && uc.cache != nil {
		var cached entity.AttributeAnalysis
		if hit := uc.cacheGet(ctx, key, &cached); hit {
			uc.logger.WithField("image", image.Name).Debug("attribute analysis cache hit")
			return &cached, nil
		}
	}

	attrs, err := uc.aiRepo.AnalyzeAttributes(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("attribute analysis failed: %w", err)
	}

	uc.cacheSet(ctx, key, attrs)
	return attrs, nil
}

// AnalyzeFull スタイル分析と属性分析を並行実行する。
// 片方だけ失敗した場合も両エラーをまとめて返す。
func (uc *AnalysisUseCase) AnalyzeFull(ctx context.Context, image entity.Image, categories []string) (*entity.StyleAnalysis, *entity.AttributeAnalysis, error) {
	var (
		wg       sync.WaitGroup
		style    *entity.StyleAnalysis
		attrs    *entity.AttributeAnalysis
		styleErr error
		attrsErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		style, styleErr = uc.AnalyzeStyle(ctx, image, categories)
	}()
	go func() {
		defer wg.Done()
		attrs, attrsErr = uc.AnalyzeAttributes(ctx, image)
	}()
	wg.Wait()

	if styleErr != nil || attrsErr != nil {
		return style, attrs, errors.Join(styleErr, attrsErr)
	}
	return style, attrs, nil
}

// ClearCache 分析キャッシュを削除し、削除件数を返す
func (uc *AnalysisUseCase) ClearCache(ctx context.Context) (int, error) {
	if uc.cache == nil {
		return 0, nil
	}
	return uc.cache.Clear(ctx, analysisCacheContext)
}

func (uc *AnalysisUseCase) cacheGet(ctx context.Context, key string, v interface{}) bool {
	data, hit, err := uc.cache.Get(ctx, key, analysisCacheContext)
	if err != nil {
		uc.logger.WithError(err).Warn("cache get failed")
		return false
	}
	if !hit {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		uc.logger.WithError(err).Warn("cached analysis is corrupt, ignoring")
		return false
	}
	return true
}

func (uc *AnalysisUseCase) cacheSet(ctx context.Context, key string, v interface{}) {
	if !uc.useCache || uc.cache == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		uc.logger.WithError(err).Warn("failed to marshal analysis for cache")
		return
	}
	if err := uc.cache.Set(ctx, key, data, uc.ttl, analysisCacheContext); err != nil {
		uc.logger.WithError(err).Warn("cache set failed")
	}
}

// cacheKey 画像データと分析パラメータからキャッシュキーを作る
func cacheKey(data []byte, kind string, params ...string) string {
	sum := sha256.Sum256(data)
	key := hex.EncodeToString(sum[:]) + ":" + kind
	if len(params) > 0 {
		paramSum := sha256.Sum256([]byte(strings.Join(params, "\x00")))
		key += ":" + hex.EncodeToString(paramSum[:8])
	}
	return key
}
