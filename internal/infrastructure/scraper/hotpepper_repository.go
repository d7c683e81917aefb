// Package scraper ホットペッパービューティの掲載情報取得を実装する
package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/apex/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"hairstyle-analyzer-app/internal/apperr"
	"hairstyle-analyzer-app/internal/config"
	"hairstyle-analyzer-app/internal/domain/entity"
	"hairstyle-analyzer-app/internal/domain/repository"
	"hairstyle-analyzer-app/internal/domain/service"
)

// paginationPattern "1/3ページ" 形式のページネーション表記
var paginationPattern = regexp.MustCompile(`(\d+)/(\d+)ページ`)

var nonDigitPattern = regexp.MustCompile(`[^\d]`)

// 条件欄で拾う項目名
var conditionLabels = map[string]bool{
	"来店日条件":    true,
	"対象スタイリスト": true,
	"その他条件":    true,
}

// HotPepperRepository ホットペッパービューティのListingRepository実装
//
// 取得ページはキャッシュに保存され、リクエストはレートリミッターで
// 間隔制御される。同一サロンの再実行でサイトに負荷をかけない。
type HotPepperRepository struct {
	cfg        *config.ScraperConfig
	cache      repository.CacheRepository
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *log.Entry
}

// NewHotPepperRepository 新しいHotPepperRepositoryを作成。cacheはnil可。
func NewHotPepperRepository(cfg *config.ScraperConfig, cache repository.CacheRepository) *HotPepperRepository {
	interval := time.Duration(cfg.RequestIntervalSeconds * float64(time.Second))
	if interval <= 0 {
		interval = time.Second
	}
	return &HotPepperRepository{
		cfg:   cfg,
		cache: cache,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds * float64(time.Second)),
		},
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		logger:  log.WithField("component", "scraper"),
	}
}

// SetHTTPClient テスト用にHTTPクライアントを設定（テストコードからのみ使用）
func (r *HotPepperRepository) SetHTTPClient(client *http.Client) {
	r.httpClient = client
}

// GetAllStylists サロンの全スタイリスト情報を取得
func (r *HotPepperRepository) GetAllStylists(ctx context.Context, salonURL string) ([]entity.StylistInfo, error) {
	if err := service.ValidateSalonURL(salonURL); err != nil {
		return nil, err
	}

	stylistURL := ensureTrailingSlash(salonURL) + "stylist/"
	doc, err := r.fetchDocument(ctx, stylistURL)
	if err != nil {
		return nil, err
	}

	table := doc.Find(r.cfg.StylistTableSelector)
	if table.Length() == 0 {
		return nil, &apperr.StructuralError{URL: stylistURL, Missing: r.cfg.StylistTableSelector}
	}

	// スタイリスト0人のサロンは空スライスを返す（エラーではない）
	var stylists []entity.StylistInfo
	table.Find(r.cfg.StylistCellSelector).Each(func(_ int, cell *goquery.Selection) {
		nameElem := cell.Find(r.cfg.StylistNameSelector).First()
		if nameElem.Length() == 0 {
			return
		}

		stylist := entity.StylistInfo{
			Name:        strings.TrimSpace(nameElem.Text()),
			Specialties: strings.TrimSpace(cell.Find(r.cfg.StylistSpecialtySelector).First().Text()),
			Description: strings.TrimSpace(cell.Find(r.cfg.StylistDescSelector).First().Text()),
		}
		if href, ok := nameElem.Attr("href"); ok {
			stylist.URL = resolveURL(salonURL, href)
		}
		stylists = append(stylists, stylist)
	})

	r.logger.WithFields(log.Fields{"salon": salonURL, "count": len(stylists)}).Info("fetched stylists")
	return stylists, nil
}

// GetCoupons サロンの全クーポン情報を取得。ページネーションを辿り、
// 取得ページ数はcoupon_page_limitで制限される。
func (r *HotPepperRepository) GetCoupons(ctx context.Context, salonURL string) ([]entity.CouponInfo, error) {
	if err := service.ValidateSalonURL(salonURL); err != nil {
		return nil, err
	}

	couponBaseURL := ensureTrailingSlash(salonURL) + "coupon/"
	doc, err := r.fetchDocument(ctx, couponBaseURL)
	if err != nil {
		return nil, err
	}

	tables := doc.Find(r.cfg.CouponContainerSelector)
	if tables.Length() == 0 {
		return nil, &apperr.StructuralError{URL: couponBaseURL, Missing: r.cfg.CouponContainerSelector}
	}

	coupons := r.extractCoupons(tables, salonURL)
	r.logger.WithFields(log.Fields{"page": 1, "count": len(coupons)}).Debug("extracted coupons")

	maxPage := r.detectMaxPage(doc)
	lastPage := maxPage
	if limit := r.cfg.CouponPageLimit; lastPage > limit {
		lastPage = limit
	}

	for page := r.cfg.CouponPageStartNumber; page <= lastPage; page++ {
		pageURL := fmt.Sprintf("%s%s%d.html", couponBaseURL, r.cfg.CouponPageParameterName, page)

		pageDoc, err := r.fetchDocument(ctx, pageURL)
		if err != nil {
			// 2ページ目以降の失敗は打ち切りにとどめる
			r.logger.WithField("page", page).WithError(err).Warn("failed to fetch coupon page")
			break
		}

		pageCoupons := r.extractCoupons(pageDoc.Find(r.cfg.CouponContainerSelector), salonURL)
		if len(pageCoupons) == 0 {
			r.logger.WithField("page", page).Warn("no coupons on page")
		}
		coupons = append(coupons, pageCoupons...)
	}

	r.logger.WithFields(log.Fields{"salon": salonURL, "count": len(coupons), "pages": lastPage}).Info("fetched coupons")
	return coupons, nil
}

// FetchAllData スタイリストとクーポンを並行取得
func (r *HotPepperRepository) FetchAllData(ctx context.Context, salonURL string) ([]entity.StylistInfo, []entity.CouponInfo, error) {
	if err := service.ValidateSalonURL(salonURL); err != nil {
		return nil, nil, err
	}

	var (
		stylists []entity.StylistInfo
		coupons  []entity.CouponInfo
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stylists, err = r.GetAllStylists(gctx, salonURL)
		return err
	})
	g.Go(func() error {
		var err error
		coupons, err = r.GetCoupons(gctx, salonURL)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return stylists, coupons, nil
}

// detectMaxPage ページネーション表記から総ページ数を取得。見つからなければ1。
func (r *HotPepperRepository) detectMaxPage(doc *goquery.Document) int {
	pagination := doc.Find(r.cfg.PaginationSelector).First()
	if pagination.Length() == 0 {
		return 1
	}

	matches := paginationPattern.FindStringSubmatch(pagination.Text())
	if len(matches) != 3 {
		return 1
	}

	total, err := strconv.Atoi(matches[2])
	if err != nil || total < 1 {
		return 1
	}
	return total
}

// extractCoupons クーポンテーブル群からクーポン情報を抽出
func (r *HotPepperRepository) extractCoupons(tables *goquery.Selection, salonURL string) []entity.CouponInfo {
	var coupons []entity.CouponInfo

	tables.Each(func(_ int, table *goquery.Selection) {
		name := strings.TrimSpace(table.Find(r.cfg.CouponNameSelector).First().Text())
		if name == "" {
			name = "不明なクーポン"
		}

		coupon := entity.CouponInfo{
			Name:        name,
			Price:       parsePrice(table.Find(r.cfg.CouponPriceSelector).First().Text()),
			Description: strings.TrimSpace(table.Find(r.cfg.CouponDescSelector).First().Text()),
			URL:         salonURL,
		}

		table.Find(r.cfg.CouponCategorySelector).Each(func(_ int, icon *goquery.Selection) {
			if text := strings.TrimSpace(icon.Text()); text != "" {
				coupon.Categories = append(coupon.Categories, text)
			}
		})

		table.Find(r.cfg.CouponConditionSelector).Each(func(_ int, dt *goquery.Selection) {
			label := strings.TrimSpace(dt.Text())
			if !conditionLabels[label] {
				return
			}
			dd := dt.NextAllFiltered("dd").First()
			if dd.Length() == 0 {
				return
			}
			if coupon.Conditions == nil {
				coupon.Conditions = make(map[string]string)
			}
			coupon.Conditions[label] = strings.TrimSpace(dd.Text())
		})

		coupons = append(coupons, coupon)
	})

	return coupons
}

// fetchDocument レート制限・キャッシュ・リトライ付きでページを取得して解析
func (r *HotPepperRepository) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	html, err := r.fetchPage(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page %s: %w", pageURL, err)
	}
	return doc, nil
}

func (r *HotPepperRepository) fetchPage(ctx context.Context, pageURL string) (string, error) {
	// キャッシュヒット時はリクエストしない
	if r.cache != nil {
		if cached, hit, err := r.cache.Get(ctx, pageURL, "scraper"); err == nil && hit {
			r.logger.WithField("url", pageURL).Debug("page cache hit")
			return string(cached), nil
		}
	}

	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxRetries; attempt++ {
		if err := r.limiter.Wait(ctx); err != nil {
			return "", err
		}

		html, retryable, err := r.doRequest(ctx, pageURL)
		if err == nil {
			if r.cache != nil {
				ttl := time.Duration(r.cfg.PageCacheTTLHours) * time.Hour
				if cacheErr := r.cache.Set(ctx, pageURL, []byte(html), ttl, "scraper"); cacheErr != nil {
					r.logger.WithError(cacheErr).Warn("failed to cache page")
				}
			}
			return html, nil
		}

		lastErr = err
		if !retryable {
			break
		}

		r.logger.WithFields(log.Fields{"url": pageURL, "attempt": attempt}).WithError(err).Warn("fetch attempt failed")

		if attempt < r.cfg.MaxRetries {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(r.cfg.RetryDelaySeconds * float64(time.Second))):
			}
		}
	}

	return "", &apperr.APIError{Op: "fetch_page", Attempts: r.cfg.MaxRetries, Err: fmt.Errorf("fetch %s: %w", pageURL, lastErr)}
}

// doRequest 1回のHTTPリクエストを実行。retryableは再試行可能な失敗かどうか。
func (r *HotPepperRepository) doRequest(ctx context.Context, pageURL string) (html string, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36")
	req.Header.Set("Accept-Language", "ja-JP,ja;q=0.9,en-US;q=0.8,en;q=0.7")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", true, fmt.Errorf("failed to read response: %w", err)
		}
		return string(body), false, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", true, fmt.Errorf("rate limited (status %d)", resp.StatusCode)
	case resp.StatusCode >= 500:
		return "", true, fmt.Errorf("server error (status %d)", resp.StatusCode)
	default:
		return "", false, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}

func ensureTrailingSlash(s string) string {
	if strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}

func resolveURL(base, ref string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}

func parsePrice(text string) int {
	digits := nonDigitPattern.ReplaceAllString(text, "")
	if digits == "" {
		return 0
	}
	price, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return price
}
