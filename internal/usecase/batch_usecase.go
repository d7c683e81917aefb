package usecase

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/apex/log"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"golang.org/x/sync/errgroup"

	"hairstyle-analyzer-app/internal/apperr"
	"hairstyle-analyzer-app/internal/config"
	"hairstyle-analyzer-app/internal/domain/entity"
	"hairstyle-analyzer-app/internal/domain/repository"
	"hairstyle-analyzer-app/internal/domain/service"
)

// ProgressFunc 処理進捗の通知コールバック
type ProgressFunc func(done, total int, imageName string)

// BatchUseCase 複数画像のバッチ処理を行うユースケース
//
// 結果は入力と同数・同順で返り、失敗した画像はErrorが設定された
// 結果として表現される。キャンセルはバッチ境界でのみ判定され、
// 処理中のアイテムは完走する。
type BatchUseCase struct {
	analysis  *AnalysisUseCase
	matching  *MatchingUseCase
	templates repository.TemplateRepository
	exporter  repository.ResultExporter
	runs      repository.ResultRepository // nil可（履歴保存が無効の場合）
	cfg       *config.ProcessingConfig
	logger    *log.Entry

	progress  ProgressFunc
	processed atomic.Int64
}

// NewBatchUseCase 新しいBatchUseCaseを作成
func NewBatchUseCase(
	analysis *AnalysisUseCase,
	matching *MatchingUseCase,
	templates repository.TemplateRepository,
	exporter repository.ResultExporter,
	runs repository.ResultRepository,
	cfg *config.ProcessingConfig,
) *BatchUseCase {
	return &BatchUseCase{
		analysis:  analysis,
		matching:  matching,
		templates: templates,
		exporter:  exporter,
		runs:      runs,
		cfg:       cfg,
		logger:    log.WithField("component", "batch"),
	}
}

// SetProgressFunc 進捗コールバックを設定
func (uc *BatchUseCase) SetProgressFunc(fn ProgressFunc) {
	uc.progress = fn
}

// CalculateOptimalBatchSize 利用可能メモリとCPUコア数から同時処理数を決める。
// 取得に失敗した場合は設定値をそのまま使う。
func (uc *BatchUseCase) CalculateOptimalBatchSize() int {
	size := uc.cfg.BatchSize

	if vm, err := mem.VirtualMemory(); err == nil && uc.cfg.MemoryPerImageMB > 0 {
		usable := float64(vm.Available) * uc.cfg.MaxMemoryPercent / 100.0
		memoryBased := int(usable / float64(uc.cfg.MemoryPerImageMB*1024*1024))
		if memoryBased < size {
			size = memoryBased
		}
	}

	if counts, err := cpu.Counts(true); err == nil && uc.cfg.CPUFactor > 0 {
		cpuBased := int(float64(counts) * uc.cfg.CPUFactor)
		if cpuBased < size {
			size = cpuBased
		}
	}

	if size < uc.cfg.MinBatchSize {
		size = uc.cfg.MinBatchSize
	}
	if size > uc.cfg.BatchSize {
		size = uc.cfg.BatchSize
	}
	return size
}

// ProcessSingleImage 1画像を処理する。失敗はErrorが設定された結果として返る。
func (uc *BatchUseCase) ProcessSingleImage(ctx context.Context, image entity.Image, stylists []entity.StylistInfo, coupons []entity.CouponInfo) entity.ProcessResult {
	return uc.processOne(ctx, image, stylists, coupons)
}

// ProcessImages 画像群をバッチ処理する（サロン情報なし）。
func (uc *BatchUseCase) ProcessImages(ctx context.Context, images []entity.Image) []entity.ProcessResult {
	return uc.ProcessImagesWithExternalData(ctx, images, nil, nil)
}

// ProcessImagesWithExternalData サロン情報付きで画像群をバッチ処理する。
// 戻り値は入力と同数・同順。
func (uc *BatchUseCase) ProcessImagesWithExternalData(ctx context.Context, images []entity.Image, stylists []entity.StylistInfo, coupons []entity.CouponInfo) []entity.ProcessResult {
	total := len(images)
	results := make([]entity.ProcessResult, total)
	if total == 0 {
		return results
	}

	uc.processed.Store(0)
	batchSize := uc.CalculateOptimalBatchSize()
	apiDelay := time.Duration(uc.cfg.APIDelaySeconds * float64(time.Second))

	uc.logger.WithFields(log.Fields{"images": total, "batch_size": batchSize}).Info("batch processing started")

	// 処理中のアイテムはキャンセルの影響を受けない
	itemCtx := context.WithoutCancel(ctx)

	for start := 0; start < total; start += batchSize {
		// キャンセル判定はバッチ境界でのみ行う
		if err := ctx.Err(); err != nil {
			for i := start; i < total; i++ {
				results[i] = entity.NewFailedResult(images[i].Name, fmt.Errorf("processing halted: %w", err))
			}
			uc.logger.WithField("remaining", total-start).Warn("batch processing halted")
			return results
		}

		end := start + batchSize
		if end > total {
			end = total
		}

		g := new(errgroup.Group)
		g.SetLimit(batchSize)
		for i := start; i < end; i++ {
			i := i
			stagger := time.Duration(i-start) * apiDelay
			g.Go(func() error {
				// バッチ内でAPI呼び出しをずらして流量を平準化する
				if stagger > 0 {
					time.Sleep(stagger)
				}
				results[i] = uc.processOne(itemCtx, images[i], stylists, coupons)

				done := int(uc.processed.Add(1))
				if uc.progress != nil {
					uc.progress(done, total, images[i].Name)
				}
				return nil
			})
		}
		_ = g.Wait()

		if end < total && apiDelay > 0 {
			time.Sleep(2 * apiDelay)
		}
	}

	uc.logger.WithFields(log.Fields{
		"total":   total,
		"success": countSuccesses(results),
	}).Info("batch processing finished")
	return results
}

// processOne 1画像分の処理。失敗はErrorを設定した結果として返す。
func (uc *BatchUseCase) processOne(ctx context.Context, image entity.Image, stylists []entity.StylistInfo, coupons []entity.CouponInfo) entity.ProcessResult {
	if err := service.ValidateImageData(image.Data); err != nil {
		return uc.failed(image.Name, err)
	}

	style, attrs, err := uc.analysis.AnalyzeFull(ctx, image, uc.templates.Categories())
	if err != nil {
		return uc.failed(image.Name, err)
	}

	template, templateReason, _, err := uc.matching.FindBestTemplateWithAI(ctx, image, style)
	if err != nil {
		return uc.failed(image.Name, err)
	}

	stylist, stylistReason, err := uc.matching.SelectStylist(ctx, image, style, stylists)
	if err != nil {
		return uc.failed(image.Name, err)
	}

	coupon, couponReason, err := uc.matching.SelectCoupon(ctx, image, style, coupons)
	if err != nil {
		return uc.failed(image.Name, err)
	}

	return entity.ProcessResult{
		ImageName:         image.Name,
		StyleAnalysis:     *style,
		AttributeAnalysis: *attrs,
		SelectedTemplate:  *template,
		SelectedStylist:   stylist,
		SelectedCoupon:    coupon,
		TemplateReason:    templateReason,
		StylistReason:     stylistReason,
		CouponReason:      couponReason,
		ProcessedAt:       time.Now(),
	}
}

func (uc *BatchUseCase) failed(imageName string, err error) entity.ProcessResult {
	itemErr := &apperr.ItemError{Image: imageName, Err: err}
	uc.logger.WithField("image", imageName).WithError(err).Error("image processing failed")
	return entity.NewFailedResult(imageName, itemErr)
}

// ExportToExcel 結果をExcelファイルに出力する
func (uc *BatchUseCase) ExportToExcel(results []entity.ProcessResult, outputPath string) (string, error) {
	return uc.exporter.Export(results, outputPath)
}

// ExcelBinary 結果のExcelバイナリデータを返す
func (uc *BatchUseCase) ExcelBinary(results []entity.ProcessResult) ([]byte, error) {
	return uc.exporter.Binary(results)
}

// PersistRun 実行履歴を保存する。履歴保存が無効の場合は何もしない。
func (uc *BatchUseCase) PersistRun(ctx context.Context, salonURL string, results []entity.ProcessResult, startedAt, finishedAt time.Time) (*entity.ProcessRun, error) {
	if uc.runs == nil {
		return nil, nil
	}

	run := &entity.ProcessRun{
		SalonURL:     salonURL,
		ImageCount:   len(results),
		SuccessCount: countSuccesses(results),
		StartedAt:    startedAt,
		FinishedAt:   finishedAt,
	}
	if err := uc.runs.SaveRun(ctx, run, results); err != nil {
		return nil, fmt.Errorf("failed to persist run: %w", err)
	}

	uc.logger.WithField("run_id", run.ID).Info("run persisted")
	return run, nil
}

func countSuccesses(results []entity.ProcessResult) int {
	count := 0
	for _, result := range results {
		if !result.Failed() {
			count++
		}
	}
	return count
}
