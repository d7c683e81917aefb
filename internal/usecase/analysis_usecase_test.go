package usecase

import (
	"context"
	"errors"
	"testing"

	"hairstyle-analyzer-app/internal/config"
	"hairstyle-analyzer-app/internal/domain/entity"
	"hairstyle-analyzer-app/internal/infrastructure/cache"
)

func newAnalysisUseCase(aiRepo *mockAIRepository) *AnalysisUseCase {
	cacheCfg := config.DefaultConfig().Cache
	return NewAnalysisUseCase(aiRepo, cache.NewMemoryRepository(100), &cacheCfg)
}

func TestAnalysisUseCase_AnalyzeStyle_CachesResult(t *testing.T) {
	ctx := context.Background()
	aiRepo := &mockAIRepository{}
	uc := newAnalysisUseCase(aiRepo)

	img := entity.Image{Name: "a.png", Data: testPNG(t)}
	categories := []string{"ボブ", "ショート"}

	first, err := uc.AnalyzeStyle(ctx, img, categories)
	if err != nil {
		t.Fatalf("AnalyzeStyle() error = %v", err)
	}

	second, err := uc.AnalyzeStyle(ctx, img, categories)
	if err != nil {
		t.Fatalf("AnalyzeStyle() error = %v", err)
	}

	if aiRepo.analyzeCallCount() != 1 {
		t.Errorf("api calls = %d, want 1 (second call from cache)", aiRepo.analyzeCallCount())
	}
	if first.Category != second.Category {
		t.Errorf("cached result differs: %s vs %s", first.Category, second.Category)
	}
}

func TestAnalysisUseCase_AnalyzeStyle_DifferentParamsBypassCache(t *testing.T) {
	ctx := context.Background()
	aiRepo := &mockAIRepository{}
	uc := newAnalysisUseCase(aiRepo)

	img := entity.Image{Name: "a.png", Data: testPNG(t)}

	if _, err := uc.AnalyzeStyle(ctx, img, []string{"ボブ"}); err != nil {
		t.Fatal(err)
	}
	if _, err := uc.AnalyzeStyle(ctx, img, []string{"ショート"}); err != nil {
		t.Fatal(err)
	}

	// カテゴリリストが異なればキャッシュキーも異なる
	if aiRepo.analyzeCallCount() != 2 {
		t.Errorf("api calls = %d, want 2", aiRepo.analyzeCallCount())
	}
}

func TestAnalysisUseCase_CacheDisabled(t *testing.T) {
	ctx := context.Background()
	aiRepo := &mockAIRepository{}
	uc := newAnalysisUseCase(aiRepo)
	uc.SetCacheEnabled(false)

	img := entity.Image{Name: "a.png", Data: testPNG(t)}

	for i := 0; i < 2; i++ {
		if _, err := uc.AnalyzeStyle(ctx, img, nil); err != nil {
			t.Fatal(err)
		}
	}

	if aiRepo.analyzeCallCount() != 2 {
		t.Errorf("api calls = %d, want 2 (cache disabled)", aiRepo.analyzeCallCount())
	}
}

func TestAnalysisUseCase_AnalyzeStyle_EmptyImage(t *testing.T) {
	uc := newAnalysisUseCase(&mockAIRepository{})

	if _, err := uc.AnalyzeStyle(context.Background(), entity.Image{Name: "empty.png"}, nil); err == nil {
		t.Error("expected error for empty image")
	}
}

func TestAnalysisUseCase_AnalyzeFull(t *testing.T) {
	t.Run("両分析が成功", func(t *testing.T) {
		uc := newAnalysisUseCase(&mockAIRepository{})

		style, attrs, err := uc.AnalyzeFull(context.Background(), entity.Image{Name: "a.png", Data: testPNG(t)}, []string{"ボブ"})
		if err != nil {
			t.Fatalf("AnalyzeFull() error = %v", err)
		}
		if style == nil || attrs == nil {
			t.Fatal("expected both results")
		}
		if style.Category != "ボブ" || attrs.Sex != "レディース" {
			t.Errorf("unexpected results: %+v %+v", style, attrs)
		}
	})

	t.Run("片方の失敗はエラーとして返る", func(t *testing.T) {
		wantErr := errors.New("attribute api down")
		aiRepo := &mockAIRepository{
			attributesFunc: func(ctx context.Context, img entity.Image) (*entity.AttributeAnalysis, error) {
				return nil, wantErr
			},
		}
		uc := newAnalysisUseCase(aiRepo)

		style, _, err := uc.AnalyzeFull(context.Background(), entity.Image{Name: "a.png", Data: testPNG(t)}, nil)
		if err == nil {
			t.Fatal("expected error")
		}
		if !errors.Is(err, wantErr) {
			t.Errorf("error should wrap the cause: %v", err)
		}
		// 成功した側の結果は返る
		if style == nil {
			t.Error("style analysis should still be returned")
		}
	})
}

func TestAnalysisUseCase_ClearCache(t *testing.T) {
	ctx := context.Background()
	aiRepo := &mockAIRepository{}
	uc := newAnalysisUseCase(aiRepo)

	img := entity.Image{Name: "a.png", Data: testPNG(t)}
	if _, err := uc.AnalyzeStyle(ctx, img, nil); err != nil {
		t.Fatal(err)
	}

	count, err := uc.ClearCache(ctx)
	if err != nil {
		t.Fatalf("ClearCache() error = %v", err)
	}
	if count != 1 {
		t.Errorf("cleared = %d, want 1", count)
	}

	// クリア後は再度APIが呼ばれる
	if _, err := uc.AnalyzeStyle(ctx, img, nil); err != nil {
		t.Fatal(err)
	}
	if aiRepo.analyzeCallCount() != 2 {
		t.Errorf("api calls = %d, want 2", aiRepo.analyzeCallCount())
	}
}
