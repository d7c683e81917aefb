package repository

import (
	"context"

	"hairstyle-analyzer-app/internal/domain/entity"
)

// AIRepository 画像分析AIのリポジトリインターフェース
type AIRepository interface {
	// AnalyzeImage 画像からスタイル分析結果を抽出
	AnalyzeImage(ctx context.Context, image entity.Image, categories []string) (*entity.StyleAnalysis, error)

	// AnalyzeAttributes 画像から属性（性別・髪の長さ）を抽出
	AnalyzeAttributes(ctx context.Context, image entity.Image) (*entity.AttributeAnalysis, error)

	// SelectTemplate 候補テンプレートから最適なタイトルを選択
	SelectTemplate(ctx context.Context, image entity.Image, candidates []entity.Template, analysis *entity.StyleAnalysis) (string, error)

	// SelectStylist 候補スタイリストから最適な名前を選択
	SelectStylist(ctx context.Context, image entity.Image, stylists []entity.StylistInfo, analysis *entity.StyleAnalysis) (string, error)

	// SelectCoupon 候補クーポンから最適な名前を選択
	SelectCoupon(ctx context.Context, image entity.Image, coupons []entity.CouponInfo, analysis *entity.StyleAnalysis) (string, error)

	// ProviderName プロバイダー名を返す
	ProviderName() string

	// Close リソースを解放する
	Close() error
}
