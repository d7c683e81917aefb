package repository

import (
	"context"

	"hairstyle-analyzer-app/internal/domain/entity"
)

// ResultRepository 実行履歴のリポジトリインターフェース
type ResultRepository interface {
	SaveRun(ctx context.Context, run *entity.ProcessRun, results []entity.ProcessResult) error
	FindRuns(ctx context.Context, limit, offset int) ([]*entity.ProcessRun, error)
	FindResultsByRun(ctx context.Context, runID string) ([]entity.ProcessResult, error)
	Close() error
}
