package usecase

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"sync"
	"testing"

	"hairstyle-analyzer-app/internal/domain/entity"
)

// mockAIRepository テスト用のAIRepository実装
type mockAIRepository struct {
	mu             sync.Mutex
	analyzeCalls   int
	attributeCalls int

	analyzeFunc        func(ctx context.Context, image entity.Image, categories []string) (*entity.StyleAnalysis, error)
	attributesFunc     func(ctx context.Context, image entity.Image) (*entity.AttributeAnalysis, error)
	selectTemplateFunc func(ctx context.Context, image entity.Image, candidates []entity.Template, analysis *entity.StyleAnalysis) (string, error)
	selectStylistFunc  func(ctx context.Context, image entity.Image, stylists []entity.StylistInfo, analysis *entity.StyleAnalysis) (string, error)
	selectCouponFunc   func(ctx context.Context, image entity.Image, coupons []entity.CouponInfo, analysis *entity.StyleAnalysis) (string, error)
}

func (m *mockAIRepository) AnalyzeImage(ctx context.Context, img entity.Image, categories []string) (*entity.StyleAnalysis, error) {
	m.mu.Lock()
	m.analyzeCalls++
	m.mu.Unlock()
	if m.analyzeFunc != nil {
		return m.analyzeFunc(ctx, img, categories)
	}
	return &entity.StyleAnalysis{Category: "ボブ", Keywords: []string{"ボブ"}}, nil
}

func (m *mockAIRepository) AnalyzeAttributes(ctx context.Context, img entity.Image) (*entity.AttributeAnalysis, error) {
	m.mu.Lock()
	m.attributeCalls++
	m.mu.Unlock()
	if m.attributesFunc != nil {
		return m.attributesFunc(ctx, img)
	}
	return &entity.AttributeAnalysis{Sex: "レディース", Length: "ボブ"}, nil
}

func (m *mockAIRepository) SelectTemplate(ctx context.Context, img entity.Image, candidates []entity.Template, analysis *entity.StyleAnalysis) (string, error) {
	if m.selectTemplateFunc != nil {
		return m.selectTemplateFunc(ctx, img, candidates, analysis)
	}
	return candidates[0].Title, nil
}

func (m *mockAIRepository) SelectStylist(ctx context.Context, img entity.Image, stylists []entity.StylistInfo, analysis *entity.StyleAnalysis) (string, error) {
	if m.selectStylistFunc != nil {
		return m.selectStylistFunc(ctx, img, stylists, analysis)
	}
	return stylists[0].Name, nil
}

func (m *mockAIRepository) SelectCoupon(ctx context.Context, img entity.Image, coupons []entity.CouponInfo, analysis *entity.StyleAnalysis) (string, error) {
	if m.selectCouponFunc != nil {
		return m.selectCouponFunc(ctx, img, coupons, analysis)
	}
	return coupons[0].Name, nil
}

func (m *mockAIRepository) ProviderName() string { return "mock" }
func (m *mockAIRepository) Close() error         { return nil }

func (m *mockAIRepository) analyzeCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.analyzeCalls
}

// mockTemplateRepository テスト用のTemplateRepository実装
type mockTemplateRepository struct {
	templates []entity.Template
}

func (m *mockTemplateRepository) TemplatesByCategory(category string) []entity.Template {
	var out []entity.Template
	for _, t := range m.templates {
		if t.Category == category {
			out = append(out, t)
		}
	}
	return out
}

func (m *mockTemplateRepository) Categories() []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range m.templates {
		if !seen[t.Category] {
			seen[t.Category] = true
			out = append(out, t.Category)
		}
	}
	return out
}

func (m *mockTemplateRepository) AllTemplates() []entity.Template {
	return m.templates
}

func (m *mockTemplateRepository) FindBestTemplate(analysis *entity.StyleAnalysis) (*entity.Template, bool) {
	if len(m.templates) == 0 {
		return nil, false
	}
	for i := range m.templates {
		if m.templates[i].Category == analysis.Category {
			return &m.templates[i], true
		}
	}
	return &m.templates[0], true
}

// mockExporter テスト用のResultExporter実装
type mockExporter struct {
	exported []entity.ProcessResult
}

func (m *mockExporter) Export(results []entity.ProcessResult, outputPath string) (string, error) {
	m.exported = results
	return outputPath, nil
}

func (m *mockExporter) Binary(results []entity.ProcessResult) ([]byte, error) {
	m.exported = results
	return []byte("xlsx"), nil
}

// mockResultRepository テスト用のResultRepository実装
type mockResultRepository struct {
	savedRun     *entity.ProcessRun
	savedResults []entity.ProcessResult
}

func (m *mockResultRepository) SaveRun(ctx context.Context, run *entity.ProcessRun, results []entity.ProcessResult) error {
	run.ID = "run-1"
	m.savedRun = run
	m.savedResults = results
	return nil
}

func (m *mockResultRepository) FindRuns(ctx context.Context, limit, offset int) ([]*entity.ProcessRun, error) {
	if m.savedRun == nil {
		return nil, nil
	}
	return []*entity.ProcessRun{m.savedRun}, nil
}

func (m *mockResultRepository) FindResultsByRun(ctx context.Context, runID string) ([]entity.ProcessResult, error) {
	return m.savedResults, nil
}

func (m *mockResultRepository) Close() error { return nil }

// testPNG 有効な1x1 PNG画像データを生成する
func testPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 1, 1))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}
