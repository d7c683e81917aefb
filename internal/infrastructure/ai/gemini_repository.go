package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"hairstyle-analyzer-app/internal/apperr"
	"hairstyle-analyzer-app/internal/config"
	"hairstyle-analyzer-app/internal/domain/entity"
)

// generator モデル呼び出しの差し替え可能なシーム（テストコードからのみ差し替え）
type generator interface {
	generate(ctx context.Context, modelName string, parts []genai.Part) (string, error)
	close() error
}

// genaiGenerator Gemini API経由のgenerator実装
type genaiGenerator struct {
	client *genai.Client
	cfg    *config.GeminiConfig

	mu     sync.Mutex
	models map[string]*genai.GenerativeModel
}

func newGenaiGenerator(ctx context.Context, cfg *config.GeminiConfig) (*genaiGenerator, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &genaiGenerator{
		client: client,
		cfg:    cfg,
		models: make(map[string]*genai.GenerativeModel),
	}, nil
}

func (g *genaiGenerator) model(name string) *genai.GenerativeModel {
	g.mu.Lock()
	defer g.mu.Unlock()

	if m, ok := g.models[name]; ok {
		return m
	}
	m := g.client.GenerativeModel(name)
	m.SetTemperature(g.cfg.Temperature)
	m.SetMaxOutputTokens(g.cfg.MaxTokens)
	m.ResponseMIMEType = "application/json"
	g.models[name] = m
	return m
}

func (g *genaiGenerator) generate(ctx context.Context, modelName string, parts []genai.Part) (string, error) {
	resp, err := g.model(modelName).GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no content generated")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String(), nil
}

func (g *genaiGenerator) close() error {
	return g.client.Close()
}

// GeminiRepository Gemini APIのリポジトリ実装
type GeminiRepository struct {
	cfg    *config.GeminiConfig
	gen    generator
	logger *log.Entry
}

// NewGeminiRepository 新しいGeminiRepositoryを作成
func NewGeminiRepository(ctx context.Context, cfg *config.GeminiConfig) (*GeminiRepository, error) {
	gen, err := newGenaiGenerator(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &GeminiRepository{
		cfg:    cfg,
		gen:    gen,
		logger: log.WithField("component", "gemini"),
	}, nil
}

// AnalyzeImage 画像からスタイル分析結果を抽出
func (r *GeminiRepository) AnalyzeImage(ctx context.Context, image entity.Image, categories []string) (*entity.StyleAnalysis, error) {
	prompt := renderPrompt(r.cfg.PromptTemplate, map[string]string{
		"{categories}": bulletList(categories),
	})

	raw, err := r.generateWithRetry(ctx, "analyze_image", image.Name, imageParts(prompt, image.Data))
	if err != nil {
		return nil, err
	}

	var analysis entity.StyleAnalysis
	if err := decodeJSON(raw, &analysis); err != nil {
		return nil, &apperr.ParseError{Op: "analyze_image", Raw: raw, Err: err}
	}
	if analysis.Category == "" {
		return nil, &apperr.ParseError{Op: "analyze_image", Raw: raw, Err: fmt.Errorf("category is empty")}
	}
	return &analysis, nil
}

// AnalyzeAttributes 画像から属性（性別・髪の長さ）を抽出
func (r *GeminiRepository) AnalyzeAttributes(ctx context.Context, image entity.Image) (*entity.AttributeAnalysis, error) {
	prompt := renderPrompt(r.cfg.AttributePromptTemplate, map[string]string{
		"{length_choices}": bulletList(r.cfg.LengthChoices),
	})

	raw, err := r.generateWithRetry(ctx, "analyze_attributes", image.Name, imageParts(prompt, image.Data))
	if err != nil {
		return nil, err
	}

	var attrs entity.AttributeAnalysis
	if err := decodeJSON(raw, &attrs); err != nil {
		return nil, &apperr.ParseError{Op: "analyze_attributes", Raw: raw, Err: err}
	}
	if attrs.Sex != "レディース" && attrs.Sex != "メンズ" {
		attrs.Sex = "レディース"
	}
	if !contains(r.cfg.LengthChoices, attrs.Length) && len(r.cfg.LengthChoices) > 0 {
		attrs.Length = r.cfg.LengthChoices[len(r.cfg.LengthChoices)/2]
	}
	return &attrs, nil
}

// SelectTemplate 候補テンプレートから最適なタイトルを選択
func (r *GeminiRepository) SelectTemplate(ctx context.Context, image entity.Image, candidates []entity.Template, analysis *entity.StyleAnalysis) (string, error) {
	if len(candidates) == 0 {
		return "", fmt.Errorf("no template candidates")
	}

	var lines []string
	for i, c := range candidates {
		lines = append(lines, fmt.Sprintf("%d. %s（%s）", i+1, c.Title, c.Menu))
	}
	prompt := renderPrompt(r.cfg.TemplatePromptTemplate, map[string]string{
		"{category}":  analysis.Category,
		"{features}":  analysis.Features.Description(),
		"{templates}": strings.Join(lines, "\n"),
	})

	raw, err := r.generateWithRetry(ctx, "select_template", image.Name, imageParts(prompt, image.Data))
	if err != nil {
		return "", err
	}

	var resp struct {
		Title  string `json:"template_title"`
		Reason string `json:"reason"`
	}
	if err := decodeJSON(raw, &resp); err != nil {
		return "", &apperr.ParseError{Op: "select_template", Raw: raw, Err: err}
	}

	for _, c := range candidates {
		if c.Title == resp.Title {
			return resp.Title, nil
		}
	}
	// 候補外のタイトルが返った場合は先頭候補にフォールバック
	r.logger.WithField("title", resp.Title).Warn("selected template not in candidates, using first")
	return candidates[0].Title, nil
}

// SelectStylist 候補スタイリストから最適な名前を選択
func (r *GeminiRepository) SelectStylist(ctx context.Context, image entity.Image, stylists []entity.StylistInfo, analysis *entity.StyleAnalysis) (string, error) {
	if len(stylists) == 0 {
		return "", fmt.Errorf("no stylist candidates")
	}

	var lines []string
	for i, s := range stylists {
		lines = append(lines, fmt.Sprintf("%d. %s: %s %s", i+1, s.Name, s.Specialties, s.Description))
	}
	prompt := renderPrompt(r.cfg.StylistPromptTemplate, map[string]string{
		"{category}": analysis.Category,
		"{features}": analysis.Features.Description(),
		"{stylists}": strings.Join(lines, "\n"),
	})

	raw, err := r.generateWithRetry(ctx, "select_stylist", image.Name, imageParts(prompt, image.Data))
	if err != nil {
		return "", err
	}

	var resp struct {
		Name   string `json:"stylist_name"`
		Reason string `json:"reason"`
	}
	if err := decodeJSON(raw, &resp); err != nil {
		return "", &apperr.ParseError{Op: "select_stylist", Raw: raw, Err: err}
	}

	for _, s := range stylists {
		if s.Name == resp.Name {
			return resp.Name, nil
		}
	}
	r.logger.WithField("name", resp.Name).Warn("selected stylist not in candidates, using first")
	return stylists[0].Name, nil
}

// SelectCoupon 候補クーポンから最適な名前を選択
func (r *GeminiRepository) SelectCoupon(ctx context.Context, image entity.Image, coupons []entity.CouponInfo, analysis *entity.StyleAnalysis) (string, error) {
	if len(coupons) == 0 {
		return "", fmt.Errorf("no coupon candidates")
	}

	var lines []string
	for i, c := range coupons {
		lines = append(lines, fmt.Sprintf("%d. %s: %s", i+1, c.Name, c.Description))
	}
	prompt := renderPrompt(r.cfg.CouponPromptTemplate, map[string]string{
		"{category}": analysis.Category,
		"{features}": analysis.Features.Description(),
		"{coupons}":  strings.Join(lines, "\n"),
	})

	raw, err := r.generateWithRetry(ctx, "select_coupon", image.Name, imageParts(prompt, image.Data))
	if err != nil {
		return "", err
	}

	var resp struct {
		Name   string `json:"coupon_name"`
		Reason string `json:"reason"`
	}
	if err := decodeJSON(raw, &resp); err != nil {
		return "", &apperr.ParseError{Op: "select_coupon", Raw: raw, Err: err}
	}

	for _, c := range coupons {
		if c.Name == resp.Name {
			return resp.Name, nil
		}
	}
	r.logger.WithField("name", resp.Name).Warn("selected coupon not in candidates, using first")
	return coupons[0].Name, nil
}

// generateWithRetry プライマリモデルでリトライし、失敗時はフォールバックモデルで
// もう1サイクル試行する。全滅した場合はAPIErrorに総試行回数を載せて返す。
func (r *GeminiRepository) generateWithRetry(ctx context.Context, op, imageName string, parts []genai.Part) (string, error) {
	models := []string{r.cfg.Model}
	if r.cfg.FallbackModel != "" && r.cfg.FallbackModel != r.cfg.Model {
		models = append(models, r.cfg.FallbackModel)
	}

	attempts := 0
	var lastErr error

	for _, modelName := range models {
		policy := backoff.WithContext(backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(time.Duration(r.cfg.RetryDelaySeconds*float64(time.Second))),
			),
			uint64(r.cfg.MaxRetries-1),
		), ctx)

		var result string
		err := backoff.Retry(func() error {
			attempts++
			callCtx, cancel := context.WithTimeout(ctx, time.Duration(r.cfg.TimeoutSeconds*float64(time.Second)))
			defer cancel()

			text, genErr := r.gen.generate(callCtx, modelName, parts)
			if genErr != nil {
				r.logger.WithFields(log.Fields{
					"op":      op,
					"model":   modelName,
					"attempt": attempts,
				}).WithError(genErr).Warn("generation attempt failed")
				return genErr
			}
			result = text
			return nil
		}, policy)

		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		if modelName != models[len(models)-1] {
			r.logger.WithFields(log.Fields{"op": op, "model": modelName}).Warn("switching to fallback model")
		}
	}

	return "", &apperr.APIError{Op: op, Image: imageName, Attempts: attempts, Err: lastErr}
}

// ProviderName プロバイダー名を返す
func (r *GeminiRepository) ProviderName() string {
	return "Google Gemini"
}

// Close リソースを解放する
func (r *GeminiRepository) Close() error {
	return r.gen.close()
}

// imageParts プロンプトと画像をリクエストパーツに変換
func imageParts(prompt string, data []byte) []genai.Part {
	format := "png"
	if len(data) > 2 && data[0] == 0xFF && data[1] == 0xD8 {
		format = "jpeg"
	}
	return []genai.Part{
		genai.Text(prompt),
		genai.ImageData(format, data),
	}
}

// renderPrompt プレースホルダーを置換してプロンプトを組み立てる
func renderPrompt(template string, values map[string]string) string {
	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, k, v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

func bulletList(items []string) string {
	var sb strings.Builder
	for _, item := range items {
		sb.WriteString("- ")
		sb.WriteString(item)
		sb.WriteString("\n")
	}
	return sb.String()
}

// decodeJSON レスポンステキストからJSONを抽出してデコードする。
// コードフェンスや前後の説明文が混入するケースに対応する。
func decodeJSON(raw string, v interface{}) error {
	text := strings.TrimSpace(raw)
	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			text = text[start : end+1]
		}
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

func contains(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
