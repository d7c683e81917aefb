package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/json"
	"github.com/apex/log/handlers/multi"
	"github.com/apex/log/handlers/text"

	"hairstyle-analyzer-app/internal/config"
	"hairstyle-analyzer-app/internal/domain/entity"
	"hairstyle-analyzer-app/internal/domain/service"
	"hairstyle-analyzer-app/internal/presentation/di"
)

// imageExtensions 読み込み対象の画像拡張子
var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

// Options コマンドラインオプション
type Options struct {
	ConfigPath  string
	ImageFolder string
	SalonURL    string
	OutputPath  string
	NoCache     bool
	NoScrape    bool
}

// parseFlags コマンドライン引数を解析する
func parseFlags(args []string) (*Options, error) {
	opts := &Options{}

	fs := flag.NewFlagSet("hairstyle-analyzer", flag.ContinueOnError)
	fs.StringVar(&opts.ConfigPath, "config", defaultConfigPath(), "設定ファイルのパス")
	fs.StringVar(&opts.ImageFolder, "images", "", "処理対象の画像フォルダ（未指定時は設定値）")
	fs.StringVar(&opts.SalonURL, "salon", "", "サロンのURL（スタイリスト・クーポン取得元）")
	fs.StringVar(&opts.OutputPath, "o", "", "出力Excelファイルのパス（未指定時は設定値）")
	fs.BoolVar(&opts.NoCache, "no-cache", false, "分析キャッシュを使用しない")
	fs.BoolVar(&opts.NoScrape, "no-scrape", false, "サロン情報の取得をスキップする")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return opts, nil
}

// defaultConfigPath デフォルトの設定ファイルパス
func defaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".hairstyle-analyzer", "config.yaml")
}

// setupLogging ロギング設定を適用する。ログファイルを開いた場合はクローズ関数を返す。
func setupLogging(cfg *config.LoggingConfig) (func(), error) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	handler := log.Handler(text.New(os.Stderr))
	closeFn := func() {}

	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		handler = multi.New(text.New(os.Stderr), json.New(f))
		closeFn = func() { _ = f.Close() }
	}

	log.SetHandler(handler)
	return closeFn, nil
}

// loadImages フォルダから画像ファイルを名前順で読み込む
func loadImages(folder string) ([]entity.Image, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("failed to read image folder: %w", err)
	}

	var images []entity.Image
	for _, entry := range entries {
		if entry.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		data, err := os.ReadFile(filepath.Join(folder, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read image %s: %w", entry.Name(), err)
		}
		images = append(images, entity.Image{Name: entry.Name(), Data: data})
	}

	sort.Slice(images, func(i, j int) bool { return images[i].Name < images[j].Name })
	return images, nil
}

// App アプリケーション本体
type App struct {
	opts      *Options
	cfg       *config.Config
	container *di.Container
}

// NewApp 設定を読み込みDIコンテナを初期化してAppを作成する
func NewApp(ctx context.Context, opts *Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// フラグ未指定の項目は設定値にフォールバックする
	if opts.ImageFolder == "" {
		opts.ImageFolder = cfg.Paths.ImageFolder
	}
	if opts.OutputPath == "" {
		opts.OutputPath = cfg.Paths.OutputExcel
	}

	container, err := di.NewContainer(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &App{opts: opts, cfg: cfg, container: container}, nil
}

// Close リソースをクローズ
func (a *App) Close() error {
	return a.container.Close()
}

// Run 画像の読み込みからExcel出力までの一連の処理を実行する
func (a *App) Run(ctx context.Context) error {
	images, err := loadImages(a.opts.ImageFolder)
	if err != nil {
		return err
	}
	if len(images) == 0 {
		return fmt.Errorf("no images found in %s", a.opts.ImageFolder)
	}
	log.WithFields(log.Fields{"folder": a.opts.ImageFolder, "images": len(images)}).Info("images loaded")

	// サロン情報の取得
	var stylists []entity.StylistInfo
	var coupons []entity.CouponInfo
	if a.opts.SalonURL != "" && !a.opts.NoScrape {
		if err := service.ValidateSalonURL(a.opts.SalonURL); err != nil {
			return err
		}
		stylists, coupons, err = a.container.ListingRepository().FetchAllData(ctx, a.opts.SalonURL)
		if err != nil {
			return fmt.Errorf("failed to fetch salon data: %w", err)
		}
		log.WithFields(log.Fields{"stylists": len(stylists), "coupons": len(coupons)}).Info("salon data fetched")
	}

	batch := a.container.BatchUseCase()
	a.container.AnalysisUseCase().SetCacheEnabled(!a.opts.NoCache)
	batch.SetProgressFunc(func(done, total int, imageName string) {
		log.WithFields(log.Fields{"done": done, "total": total, "image": imageName}).Info("progress")
	})

	startedAt := time.Now()
	results := batch.ProcessImagesWithExternalData(ctx, images, stylists, coupons)
	finishedAt := time.Now()

	outputPath, err := batch.ExportToExcel(results, a.opts.OutputPath)
	if err != nil {
		return fmt.Errorf("failed to export results: %w", err)
	}
	log.WithField("output", outputPath).Info("excel exported")

	// 実行履歴の保存（mysql.enabled=falseの場合は何もしない）
	if run, err := batch.PersistRun(ctx, a.opts.SalonURL, results, startedAt, finishedAt); err != nil {
		log.WithError(err).Warn("failed to persist run history")
	} else if run != nil {
		log.WithField("run_id", run.ID).Info("run history saved")
	}

	success := 0
	for _, result := range results {
		if !result.Failed() {
			success++
		}
	}
	log.WithFields(log.Fields{
		"total":    len(results),
		"success":  success,
		"failed":   len(results) - success,
		"duration": finishedAt.Sub(startedAt).String(),
	}).Info("processing finished")

	return nil
}

// realMain 実際のmain処理（テスト可能にするため分離）
func realMain(args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	closeLog, err := setupLogging(&cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.WithError(err).Warn("failed to close resources")
		}
	}()

	return app.Run(ctx)
}

func main() {
	if err := realMain(os.Args[1:]); err != nil {
		log.WithError(err).Error("application error")
		os.Exit(1)
	}
}
