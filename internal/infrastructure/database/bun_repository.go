// Package database 実行履歴のMySQL永続化を実装する
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"

	_ "github.com/go-sql-driver/mysql"

	"hairstyle-analyzer-app/internal/config"
	"hairstyle-analyzer-app/internal/domain/entity"
)

// Run BUNモデル（1回のバッチ実行）
type Run struct {
	bun.BaseModel `bun:"table:process_runs"`

	ID           string    `bun:"id,pk,type:varchar(36)"`
	SalonURL     string    `bun:"salon_url,notnull,type:varchar(255)"`
	ImageCount   int       `bun:"image_count,notnull"`
	SuccessCount int       `bun:"success_count,notnull"`
	StartedAt    time.Time `bun:"started_at,notnull"`
	FinishedAt   time.Time `bun:"finished_at,notnull"`
	CreatedAt    time.Time `bun:"created_at,notnull,default:current_timestamp"`

	Results []RunResult `bun:"rel:has-many,join:id=run_id"`
}

// RunResult BUNモデル（1画像分の処理結果）
type RunResult struct {
	bun.BaseModel `bun:"table:process_results"`

	ID             string    `bun:"id,pk,type:varchar(36)"`
	RunID          string    `bun:"run_id,notnull,type:varchar(36)"`
	ImageName      string    `bun:"image_name,notnull,type:varchar(255)"`
	Category       string    `bun:"category,type:varchar(100),default:''"`
	TemplateTitle  string    `bun:"template_title,type:varchar(255),default:''"`
	TemplateMenu   string    `bun:"template_menu,type:varchar(255),default:''"`
	StylistName    *string   `bun:"stylist_name,type:varchar(100)"`
	CouponName     *string   `bun:"coupon_name,type:varchar(255)"`
	Sex            string    `bun:"sex,type:varchar(20),default:''"`
	Length         string    `bun:"length,type:varchar(50),default:''"`
	Error          string    `bun:"error,type:text"`
	ProcessedAt    time.Time `bun:"processed_at,notnull"`
	CreatedAt      time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// BunResultRepository BUN実装のResultRepository
type BunResultRepository struct {
	db *bun.DB
}

// NewBunResultRepository 新しいBunResultRepositoryを作成
func NewBunResultRepository(cfg *config.MySQLConfig) (*BunResultRepository, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=true&loc=Local",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	sqldb, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := bun.NewDB(sqldb, mysqldialect.New())

	// 接続確認
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo := &BunResultRepository{db: db}
	if err := repo.createTables(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

// NewBunResultRepositoryWithDB DBインスタンスから作成（テスト用）
func NewBunResultRepositoryWithDB(ctx context.Context, db *bun.DB) (*BunResultRepository, error) {
	repo := &BunResultRepository{db: db}
	if err := repo.createTables(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *BunResultRepository) createTables(ctx context.Context) error {
	for _, model := range []interface{}{(*Run)(nil), (*RunResult)(nil)} {
		if _, err := r.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// SaveRun 実行と結果をトランザクション内で保存する。
// run.IDが空の場合は採番する。
func (r *BunResultRepository) SaveRun(ctx context.Context, run *entity.ProcessRun, results []entity.ProcessResult) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	runModel := &Run{
		ID:           run.ID,
		SalonURL:     run.SalonURL,
		ImageCount:   run.ImageCount,
		SuccessCount: run.SuccessCount,
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
	}

	resultModels := make([]RunResult, 0, len(results))
	for _, result := range results {
		resultModels = append(resultModels, toResultModel(run.ID, result))
	}

	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(runModel).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}
		if len(resultModels) > 0 {
			if _, err := tx.NewInsert().Model(&resultModels).Exec(ctx); err != nil {
				return fmt.Errorf("failed to insert results: %w", err)
			}
		}
		return nil
	})
}

// FindRuns 実行履歴を新しい順に取得
func (r *BunResultRepository) FindRuns(ctx context.Context, limit, offset int) ([]*entity.ProcessRun, error) {
	var models []Run
	query := r.db.NewSelect().
		Model(&models).
		Order("started_at DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	if err := query.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to find runs: %w", err)
	}

	runs := make([]*entity.ProcessRun, len(models))
	for i, model := range models {
		runs[i] = &entity.ProcessRun{
			ID:           model.ID,
			SalonURL:     model.SalonURL,
			ImageCount:   model.ImageCount,
			SuccessCount: model.SuccessCount,
			StartedAt:    model.StartedAt,
			FinishedAt:   model.FinishedAt,
		}
	}
	return runs, nil
}

// FindResultsByRun 指定実行の結果一覧を取得
func (r *BunResultRepository) FindResultsByRun(ctx context.Context, runID string) ([]entity.ProcessResult, error) {
	var models []RunResult
	err := r.db.NewSelect().
		Model(&models).
		Where("run_id = ?", runID).
		Order("image_name ASC").
		Scan(ctx)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find results: %w", err)
	}

	results := make([]entity.ProcessResult, len(models))
	for i, model := range models {
		results[i] = toResultEntity(model)
	}
	return results, nil
}

// Close データベース接続を閉じる
func (r *BunResultRepository) Close() error {
	return r.db.Close()
}

func toResultModel(runID string, result entity.ProcessResult) RunResult {
	model := RunResult{
		ID:            uuid.NewString(),
		RunID:         runID,
		ImageName:     result.ImageName,
		Category:      result.StyleAnalysis.Category,
		TemplateTitle: result.SelectedTemplate.Title,
		TemplateMenu:  result.SelectedTemplate.Menu,
		Sex:           result.AttributeAnalysis.Sex,
		Length:        result.AttributeAnalysis.Length,
		Error:         result.Error,
		ProcessedAt:   result.ProcessedAt,
	}
	if result.SelectedStylist != nil {
		model.StylistName = &result.SelectedStylist.Name
	}
	if result.SelectedCoupon != nil {
		model.CouponName = &result.SelectedCoupon.Name
	}
	return model
}

func toResultEntity(model RunResult) entity.ProcessResult {
	result := entity.ProcessResult{
		ImageName: model.ImageName,
		StyleAnalysis: entity.StyleAnalysis{
			Category: model.Category,
		},
		SelectedTemplate: entity.Template{
			Category: model.Category,
			Title:    model.TemplateTitle,
			Menu:     model.TemplateMenu,
		},
		AttributeAnalysis: entity.AttributeAnalysis{
			Sex:    model.Sex,
			Length: model.Length,
		},
		ProcessedAt: model.ProcessedAt,
		Error:       model.Error,
	}
	if model.StylistName != nil {
		result.SelectedStylist = &entity.StylistInfo{Name: *model.StylistName}
	}
	if model.CouponName != nil {
		result.SelectedCoupon = &entity.CouponInfo{Name: *model.CouponName}
	}
	return result
}
