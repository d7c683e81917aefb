package repository

import (
	"context"

	"hairstyle-analyzer-app/internal/domain/entity"
)

// ListingRepository サロン掲載サイトのリポジトリインターフェース
//
// 「スタイリスト0人のサロン」と「取得・解析不能」は区別される:
// 前者は空スライス、後者はエラー（構造変化はapperr.StructuralError）。
type ListingRepository interface {
	GetAllStylists(ctx context.Context, salonURL string) ([]entity.StylistInfo, error)
	GetCoupons(ctx context.Context, salonURL string) ([]entity.CouponInfo, error)
	FetchAllData(ctx context.Context, salonURL string) ([]entity.StylistInfo, []entity.CouponInfo, error)
}
