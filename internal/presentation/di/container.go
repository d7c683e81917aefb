package di

import (
	"context"
	"fmt"

	"hairstyle-analyzer-app/internal/config"
	"hairstyle-analyzer-app/internal/domain/repository"
	"hairstyle-analyzer-app/internal/infrastructure/ai"
	"hairstyle-analyzer-app/internal/infrastructure/cache"
	"hairstyle-analyzer-app/internal/infrastructure/catalog"
	"hairstyle-analyzer-app/internal/infrastructure/database"
	"hairstyle-analyzer-app/internal/infrastructure/excel"
	"hairstyle-analyzer-app/internal/infrastructure/scraper"
	"hairstyle-analyzer-app/internal/usecase"
)

// Container DIコンテナ
type Container struct {
	// Infrastructure
	aiRepo       *ai.GeminiRepository
	cacheRepo    repository.CacheRepository
	listingRepo  *scraper.HotPepperRepository
	templateRepo *catalog.CSVRepository
	exporter     *excel.Exporter
	resultRepo   repository.ResultRepository // nil可（mysql.enabled=falseの場合）

	// UseCase
	analysisUseCase *usecase.AnalysisUseCase
	matchingUseCase *usecase.MatchingUseCase
	batchUseCase    *usecase.BatchUseCase
}

// NewContainer 新しいContainerを作成
func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	container := &Container{}

	// Infrastructure: Cache Repository
	cacheRepo, err := newCacheRepository(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache repository: %w", err)
	}
	container.cacheRepo = cacheRepo

	// Infrastructure: AI Repository
	aiRepo, err := ai.NewGeminiRepository(ctx, &cfg.Gemini)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ai repository: %w", err)
	}
	container.aiRepo = aiRepo

	// Infrastructure: Listing Repository
	container.listingRepo = scraper.NewHotPepperRepository(&cfg.Scraper, cacheRepo)

	// Infrastructure: Template Repository
	templateRepo, err := catalog.NewCSVRepository(cfg.Paths.TemplateCSV, &cfg.Matching)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize template repository: %w", err)
	}
	container.templateRepo = templateRepo

	// Infrastructure: Excel Exporter
	container.exporter = excel.NewExporter(&cfg.Excel)

	// Infrastructure: Result Repository（実行履歴、任意）
	if cfg.MySQL.Enabled {
		resultRepo, err := database.NewBunResultRepository(&cfg.MySQL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize result repository: %w", err)
		}
		container.resultRepo = resultRepo
	}

	// UseCase
	container.analysisUseCase = usecase.NewAnalysisUseCase(aiRepo, cacheRepo, &cfg.Cache)
	container.matchingUseCase = usecase.NewMatchingUseCase(templateRepo, aiRepo, &cfg.Matching)
	container.batchUseCase = usecase.NewBatchUseCase(
		container.analysisUseCase,
		container.matchingUseCase,
		templateRepo,
		container.exporter,
		container.resultRepo,
		&cfg.Processing,
	)

	return container, nil
}

// newCacheRepository 設定に応じたキャッシュバックエンドを作成
func newCacheRepository(cfg *config.Config) (repository.CacheRepository, error) {
	switch cfg.Cache.Backend {
	case "redis":
		return cache.NewRedisRepository(&cfg.Redis)
	default:
		return cache.NewMemoryRepository(cfg.Cache.MaxSize), nil
	}
}

// AnalysisUseCase 画像分析ユースケースを取得
func (c *Container) AnalysisUseCase() *usecase.AnalysisUseCase {
	return c.analysisUseCase
}

// MatchingUseCase マッチングユースケースを取得
func (c *Container) MatchingUseCase() *usecase.MatchingUseCase {
	return c.matchingUseCase
}

// BatchUseCase バッチ処理ユースケースを取得
func (c *Container) BatchUseCase() *usecase.BatchUseCase {
	return c.batchUseCase
}

// ListingRepository サロン掲載情報リポジトリを取得
func (c *Container) ListingRepository() *scraper.HotPepperRepository {
	return c.listingRepo
}

// TemplateRepository テンプレートリポジトリを取得
func (c *Container) TemplateRepository() *catalog.CSVRepository {
	return c.templateRepo
}

// ResultRepository 実行履歴リポジトリを取得（無効時はnil）
func (c *Container) ResultRepository() repository.ResultRepository {
	return c.resultRepo
}

// ProviderName 使用中のAIプロバイダー名を取得
func (c *Container) ProviderName() string {
	return c.aiRepo.ProviderName()
}

// Close リソースをクローズ
func (c *Container) Close() error {
	if c.aiRepo != nil {
		if err := c.aiRepo.Close(); err != nil {
			return fmt.Errorf("failed to close ai repository: %w", err)
		}
		c.aiRepo = nil
	}

	if c.cacheRepo != nil {
		if err := c.cacheRepo.Close(); err != nil {
			return fmt.Errorf("failed to close cache repository: %w", err)
		}
		c.cacheRepo = nil
	}

	if c.resultRepo != nil {
		if err := c.resultRepo.Close(); err != nil {
			return fmt.Errorf("failed to close result repository: %w", err)
		}
		c.resultRepo = nil
	}

	return nil
}
