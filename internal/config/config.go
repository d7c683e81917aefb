package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"hairstyle-analyzer-app/internal/apperr"
)

// Config アプリケーション全体の設定
type Config struct {
	Gemini     GeminiConfig     `yaml:"gemini"`
	Scraper    ScraperConfig    `yaml:"scraper"`
	Matching   MatchingConfig   `yaml:"matching"`
	Cache      CacheConfig      `yaml:"cache"`
	Redis      RedisConfig      `yaml:"redis"`
	MySQL      MySQLConfig      `yaml:"mysql"`
	Excel      ExcelConfig      `yaml:"excel"`
	Processing ProcessingConfig `yaml:"processing"`
	Paths      PathsConfig      `yaml:"paths"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// GeminiConfig Gemini APIの設定
type GeminiConfig struct {
	APIKey                  string   `yaml:"api_key"`
	Model                   string   `yaml:"model"`
	FallbackModel           string   `yaml:"fallback_model"`
	MaxTokens               int32    `yaml:"max_tokens"`
	Temperature             float32  `yaml:"temperature"`
	MaxRetries              int      `yaml:"max_retries"`
	RetryDelaySeconds       float64  `yaml:"retry_delay"`
	TimeoutSeconds          float64  `yaml:"timeout"`
	PromptTemplate          string   `yaml:"prompt_template"`
	AttributePromptTemplate string   `yaml:"attribute_prompt_template"`
	TemplatePromptTemplate  string   `yaml:"template_prompt_template"`
	StylistPromptTemplate   string   `yaml:"stylist_prompt_template"`
	CouponPromptTemplate    string   `yaml:"coupon_prompt_template"`
	LengthChoices           []string `yaml:"length_choices"`
}

// ScraperConfig 掲載サイトスクレイパーの設定
type ScraperConfig struct {
	BaseURL                   string  `yaml:"base_url"`
	StylistTableSelector      string  `yaml:"stylist_table_selector"`
	StylistCellSelector       string  `yaml:"stylist_cell_selector"`
	StylistNameSelector       string  `yaml:"stylist_name_selector"`
	StylistSpecialtySelector  string  `yaml:"stylist_specialty_selector"`
	StylistDescSelector       string  `yaml:"stylist_description_selector"`
	CouponContainerSelector   string  `yaml:"coupon_container_selector"`
	CouponConditionSelector   string  `yaml:"coupon_condition_selector"`
	CouponNameSelector        string  `yaml:"coupon_name_selector"`
	CouponPriceSelector       string  `yaml:"coupon_price_selector"`
	CouponDescSelector        string  `yaml:"coupon_description_selector"`
	CouponCategorySelector    string  `yaml:"coupon_category_selector"`
	PaginationSelector        string  `yaml:"pagination_selector"`
	CouponPageParameterName   string  `yaml:"coupon_page_parameter_name"`
	CouponPageStartNumber     int     `yaml:"coupon_page_start_number"`
	CouponPageLimit           int     `yaml:"coupon_page_limit"`
	TimeoutSeconds            float64 `yaml:"timeout"`
	MaxRetries                int     `yaml:"max_retries"`
	RetryDelaySeconds         float64 `yaml:"retry_delay"`
	RequestIntervalSeconds    float64 `yaml:"request_interval"`
	PageCacheTTLHours         int     `yaml:"page_cache_ttl_hours"`
}

// MatchingWeights テンプレートスコアリングの重み。正確な配合は運用で調整する。
type MatchingWeights struct {
	Category float64 `yaml:"category"`
	Keyword  float64 `yaml:"keyword"`
	Feature  float64 `yaml:"feature"`
}

// MatchingConfig マッチング処理の設定
type MatchingConfig struct {
	UseAI             bool            `yaml:"use_ai"`
	FallbackOnFailure bool            `yaml:"fallback_on_failure"`
	UseCategoryFilter bool            `yaml:"use_category_filter"`
	MaxTemplates      int             `yaml:"max_templates"`
	Weights           MatchingWeights `yaml:"weights"`
	SimilarityCutoff  float64         `yaml:"similarity_cutoff"`
}

// CacheConfig キャッシュの設定
type CacheConfig struct {
	Backend string `yaml:"backend"` // memory / redis
	TTLDays int    `yaml:"ttl_days"`
	MaxSize int    `yaml:"max_size"`
}

// RedisConfig Redisの設定
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MySQLConfig MySQLの設定（実行履歴の保存先、任意）
type MySQLConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// ExcelConfig Excel出力の設定
type ExcelConfig struct {
	SheetName string            `yaml:"sheet_name"`
	Headers   map[string]string `yaml:"headers"` // 列レター → ヘッダー文字列
}

// ProcessingConfig バッチ処理の設定
type ProcessingConfig struct {
	BatchSize        int     `yaml:"batch_size"`
	MinBatchSize     int     `yaml:"min_batch_size"`
	APIDelaySeconds  float64 `yaml:"api_delay"`
	MaxRetries       int     `yaml:"max_retries"`
	RetryDelay       float64 `yaml:"retry_delay"`
	MemoryPerImageMB int     `yaml:"memory_per_image_mb"`
	MaxMemoryPercent float64 `yaml:"max_memory_percent"`
	CPUFactor        float64 `yaml:"cpu_factor"`
}

// PathsConfig パスの設定
type PathsConfig struct {
	ImageFolder string `yaml:"image_folder"`
	TemplateCSV string `yaml:"template_csv"`
	OutputExcel string `yaml:"output_excel"`
}

// LoggingConfig ロギングの設定
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Load 設定ファイルを読み込む
func Load(configPath string) (*Config, error) {
	// 設定ファイルが存在しない場合はデフォルト設定を返す
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// 環境変数の展開（APIキーなどは ${GEMINI_API_KEY} で参照する）
	dataStr := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(dataStr), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save 設定をファイルに保存する
func (c *Config) Save(configPath string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate 設定を検証する。エラーは処理開始前に致命的として扱う。
func (c *Config) Validate() error {
	if c.Gemini.APIKey == "" {
		return &apperr.ConfigError{Field: "gemini.api_key", Reason: "api key is required (set GEMINI_API_KEY)"}
	}
	if c.Gemini.Model == "" {
		return &apperr.ConfigError{Field: "gemini.model", Reason: "model is required"}
	}
	if c.Gemini.MaxRetries <= 0 {
		return &apperr.ConfigError{Field: "gemini.max_retries", Reason: "must be positive"}
	}
	if !strings.HasPrefix(c.Scraper.BaseURL, "http") {
		return &apperr.ConfigError{Field: "scraper.base_url", Reason: "must start with http or https"}
	}
	if c.Scraper.CouponPageLimit <= 0 {
		return &apperr.ConfigError{Field: "scraper.coupon_page_limit", Reason: "must be positive"}
	}
	if c.Cache.MaxSize <= 0 {
		return &apperr.ConfigError{Field: "cache.max_size", Reason: "must be positive"}
	}
	if c.Processing.BatchSize <= 0 || c.Processing.MinBatchSize <= 0 {
		return &apperr.ConfigError{Field: "processing.batch_size", Reason: "batch sizes must be positive"}
	}
	if c.Processing.MinBatchSize > c.Processing.BatchSize {
		return &apperr.ConfigError{Field: "processing.min_batch_size", Reason: "must not exceed batch_size"}
	}
	if c.Paths.TemplateCSV == "" {
		return &apperr.ConfigError{Field: "paths.template_csv", Reason: "template csv path is required"}
	}
	return nil
}

// DefaultConfig デフォルト設定を返す
func DefaultConfig() *Config {
	// Redis/MySQLのホストはテスト環境では localhost を使用
	redisHost := "redis"
	mysqlHost := "mysql"
	if os.Getenv("GO_ENV") == "test" {
		redisHost = "localhost"
		mysqlHost = "localhost"
	}

	return &Config{
		Gemini: GeminiConfig{
			APIKey:                  os.Getenv("GEMINI_API_KEY"),
			Model:                   "gemini-2.0-flash",
			FallbackModel:           "gemini-2.0-flash-lite",
			MaxTokens:               1024,
			Temperature:             0.7,
			MaxRetries:              3,
			RetryDelaySeconds:       1.0,
			TimeoutSeconds:          30,
			PromptTemplate:          defaultStylePrompt,
			AttributePromptTemplate: defaultAttributePrompt,
			TemplatePromptTemplate:  defaultTemplatePrompt,
			StylistPromptTemplate:   defaultStylistPrompt,
			CouponPromptTemplate:    defaultCouponPrompt,
			LengthChoices: []string{
				"ベリーショート", "ショート", "ボブ", "ミディアム", "セミロング", "ロング",
			},
		},
		Scraper: ScraperConfig{
			BaseURL:                  "https://beauty.hotpepper.jp",
			StylistTableSelector:     "table.w756",
			StylistCellSelector:      "td.vaT",
			StylistNameSelector:      "p.mT10.fs16.b > a",
			StylistSpecialtySelector: "div.mT5.fs10 > span.fgPink",
			StylistDescSelector:      "div.mT5.fs10.hMin30",
			CouponContainerSelector:  "div.usingPointToggle table.couponTbl",
			CouponConditionSelector:  "dt.mT5.fl.fgPink",
			CouponNameSelector:       "p.couponMenuName",
			CouponPriceSelector:      "span.fs16.fgPink",
			CouponDescSelector:       "p.fgGray.fs11.wbba",
			CouponCategorySelector:   "ul.couponMenuIcons li.couponMenuIcon",
			PaginationSelector:       "p.pa.bottom0.right0",
			CouponPageParameterName:  "PN",
			CouponPageStartNumber:    2,
			CouponPageLimit:          3,
			TimeoutSeconds:           10,
			MaxRetries:               3,
			RetryDelaySeconds:        1.0,
			RequestIntervalSeconds:   1.0,
			PageCacheTTLHours:        24,
		},
		Matching: MatchingConfig{
			UseAI:             false,
			FallbackOnFailure: true,
			UseCategoryFilter: true,
			MaxTemplates:      10,
			Weights: MatchingWeights{
				Category: 3.0,
				Keyword:  2.0,
				Feature:  0.5,
			},
			SimilarityCutoff: 0.6,
		},
		Cache: CacheConfig{
			Backend: "memory",
			TTLDays: 30,
			MaxSize: 10000,
		},
		Redis: RedisConfig{
			Host:     redisHost,
			Port:     6379,
			Password: "",
			DB:       0,
		},
		MySQL: MySQLConfig{
			Enabled:  false,
			Host:     mysqlHost,
			Port:     3306,
			User:     "root",
			Password: os.Getenv("MYSQL_ROOT_PASSWORD"),
			Database: "hairstyle",
		},
		Excel: ExcelConfig{
			SheetName: "スタイルタイトル",
			Headers: map[string]string{
				"A": "スタイリスト名",
				"B": "クーポン名",
				"C": "コメント",
				"D": "スタイルタイトル",
				"E": "性別",
				"F": "長さ",
				"G": "スタイルメニュー",
				"H": "ハッシュタグ",
				"I": "画像ファイル名",
			},
		},
		Processing: ProcessingConfig{
			BatchSize:        5,
			MinBatchSize:     1,
			APIDelaySeconds:  1.0,
			MaxRetries:       3,
			RetryDelay:       1.0,
			MemoryPerImageMB: 5,
			MaxMemoryPercent: 70.0,
			CPUFactor:        0.5,
		},
		Paths: PathsConfig{
			ImageFolder: "./images",
			TemplateCSV: "./templates.csv",
			OutputExcel: "./output.xlsx",
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}

// プロンプトテンプレート。{categories} などのプレースホルダーは呼び出し時に置換される。
const defaultStylePrompt = `あなたはヘアスタイルの専門家です。この画像のヘアスタイルを分析してください。

カテゴリは以下から最も近いものを1つ選んでください:
{categories}

以下のJSON形式のみで回答してください:
{
  "category": "選択したカテゴリ",
  "features": {
    "color": "髪色の詳細説明",
    "cut_technique": "カット技法の詳細",
    "styling": "スタイリング方法",
    "impression": "全体的な印象"
  },
  "keywords": ["キーワード1", "キーワード2", "キーワード3"]
}`

const defaultAttributePrompt = `この画像の人物の属性を判定してください。

髪の長さは以下から選んでください:
{length_choices}

以下のJSON形式のみで回答してください:
{
  "sex": "レディース または メンズ",
  "length": "選択した長さ"
}`

const defaultTemplatePrompt = `この画像のヘアスタイルに最も合うテンプレートを以下の候補から1つ選んでください。

分析結果:
カテゴリ: {category}
特徴: {features}

候補:
{templates}

以下のJSON形式のみで回答してください:
{
  "template_title": "選択したテンプレートのタイトル",
  "reason": "選択理由（簡潔に）"
}`

const defaultStylistPrompt = `この画像のヘアスタイルに最も適したスタイリストを以下の候補から1人選んでください。

分析結果:
カテゴリ: {category}
特徴: {features}

候補:
{stylists}

以下のJSON形式のみで回答してください:
{
  "stylist_name": "選択したスタイリストの名前",
  "reason": "選択理由（簡潔に）"
}`

const defaultCouponPrompt = `この画像のヘアスタイルに最も適したクーポンを以下の候補から1つ選んでください。

分析結果:
カテゴリ: {category}
特徴: {features}

候補:
{coupons}

以下のJSON形式のみで回答してください:
{
  "coupon_name": "選択したクーポンの名前",
  "reason": "選択理由（簡潔に）"
}`
