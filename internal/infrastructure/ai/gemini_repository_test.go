package ai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"
	"github.com/google/generative-ai-go/genai"

	"hairstyle-analyzer-app/internal/apperr"
	"hairstyle-analyzer-app/internal/config"
	"hairstyle-analyzer-app/internal/domain/entity"
)

// fakeGenerator テスト用のgenerator実装。モデル別の応答と失敗回数を制御する。
type fakeGenerator struct {
	responses map[string]string // モデル名 → 応答テキスト
	failures  map[string]int    // モデル名 → 失敗させる回数
	calls     map[string]int    // モデル名 → 呼び出し回数
	lastParts []genai.Part
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{
		responses: make(map[string]string),
		failures:  make(map[string]int),
		calls:     make(map[string]int),
	}
}

func (f *fakeGenerator) generate(ctx context.Context, modelName string, parts []genai.Part) (string, error) {
	f.calls[modelName]++
	f.lastParts = parts
	if f.failures[modelName] > 0 {
		f.failures[modelName]--
		return "", errors.New("simulated api error")
	}
	resp, ok := f.responses[modelName]
	if !ok {
		return "", errors.New("no response configured")
	}
	return resp, nil
}

func (f *fakeGenerator) close() error { return nil }

func testConfig() *config.GeminiConfig {
	cfg := config.DefaultConfig().Gemini
	cfg.APIKey = "test-key"
	cfg.MaxRetries = 3
	cfg.RetryDelaySeconds = 0.001
	cfg.TimeoutSeconds = 5
	return &cfg
}

func newTestRepo(gen generator) *GeminiRepository {
	cfg := testConfig()
	return &GeminiRepository{cfg: cfg, gen: gen, logger: discardLogger()}
}

func discardLogger() *log.Entry {
	logger := &log.Logger{Handler: discard.New(), Level: log.ErrorLevel}
	return logger.WithField("component", "test")
}

func testImage() entity.Image {
	// JPEGマジックバイト付きのダミー画像
	return entity.Image{Name: "test.jpg", Data: []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00}}
}

func TestGeminiRepository_AnalyzeImage(t *testing.T) {
	tests := []struct {
		name         string
		response     string
		wantCategory string
		wantErr      bool
		wantParseErr bool
	}{
		{
			name:         "正常系: プレーンなJSON",
			response:     `{"category":"ボブ","features":{"color":"アッシュ","cut_technique":"レイヤー","styling":"外ハネ","impression":"柔らかい"},"keywords":["ボブ","アッシュ"]}`,
			wantCategory: "ボブ",
		},
		{
			name:         "正常系: コードフェンス付きJSON",
			response:     "```json\n{\"category\":\"ミディアム\",\"features\":{},\"keywords\":[]}\n```",
			wantCategory: "ミディアム",
		},
		{
			name:         "異常系: JSONでない応答",
			response:     "これはJSONではありません",
			wantErr:      true,
			wantParseErr: true,
		},
		{
			name:         "異常系: カテゴリが空",
			response:     `{"category":"","features":{},"keywords":[]}`,
			wantErr:      true,
			wantParseErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := newFakeGenerator()
			gen.responses["gemini-2.0-flash"] = tt.response
			repo := newTestRepo(gen)

			analysis, err := repo.AnalyzeImage(context.Background(), testImage(), []string{"ボブ", "ミディアム"})
			if (err != nil) != tt.wantErr {
				t.Fatalf("AnalyzeImage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantParseErr {
				var parseErr *apperr.ParseError
				if !errors.As(err, &parseErr) {
					t.Errorf("expected ParseError, got %T", err)
				}
				return
			}
			if !tt.wantErr && analysis.Category != tt.wantCategory {
				t.Errorf("category = %s, want %s", analysis.Category, tt.wantCategory)
			}
		})
	}
}

func TestGeminiRepository_AnalyzeImage_PromptContainsCategories(t *testing.T) {
	gen := newFakeGenerator()
	gen.responses["gemini-2.0-flash"] = `{"category":"ボブ","features":{},"keywords":[]}`
	repo := newTestRepo(gen)

	if _, err := repo.AnalyzeImage(context.Background(), testImage(), []string{"ボブ", "ショート"}); err != nil {
		t.Fatalf("AnalyzeImage() error = %v", err)
	}

	text, ok := gen.lastParts[0].(genai.Text)
	if !ok {
		t.Fatal("first part should be prompt text")
	}
	if !strings.Contains(string(text), "- ボブ") || !strings.Contains(string(text), "- ショート") {
		t.Errorf("prompt should contain category list, got: %s", text)
	}
	if strings.Contains(string(text), "{categories}") {
		t.Error("placeholder was not replaced")
	}
}

func TestGeminiRepository_RetryAndFallback(t *testing.T) {
	t.Run("プライマリのリトライで成功", func(t *testing.T) {
		gen := newFakeGenerator()
		gen.failures["gemini-2.0-flash"] = 2
		gen.responses["gemini-2.0-flash"] = `{"category":"ボブ","features":{},"keywords":[]}`
		repo := newTestRepo(gen)

		if _, err := repo.AnalyzeImage(context.Background(), testImage(), nil); err != nil {
			t.Fatalf("AnalyzeImage() error = %v", err)
		}
		if gen.calls["gemini-2.0-flash"] != 3 {
			t.Errorf("primary calls = %d, want 3", gen.calls["gemini-2.0-flash"])
		}
		if gen.calls["gemini-2.0-flash-lite"] != 0 {
			t.Error("fallback should not be called when primary succeeds")
		}
	})

	t.Run("プライマリ枯渇後フォールバックで成功", func(t *testing.T) {
		gen := newFakeGenerator()
		gen.failures["gemini-2.0-flash"] = 10
		gen.responses["gemini-2.0-flash-lite"] = `{"category":"ボブ","features":{},"keywords":[]}`
		repo := newTestRepo(gen)

		if _, err := repo.AnalyzeImage(context.Background(), testImage(), nil); err != nil {
			t.Fatalf("AnalyzeImage() error = %v", err)
		}
		if gen.calls["gemini-2.0-flash"] != 3 {
			t.Errorf("primary calls = %d, want 3", gen.calls["gemini-2.0-flash"])
		}
		if gen.calls["gemini-2.0-flash-lite"] != 1 {
			t.Errorf("fallback calls = %d, want 1", gen.calls["gemini-2.0-flash-lite"])
		}
	})

	t.Run("全滅でAPIErrorに総試行回数が載る", func(t *testing.T) {
		gen := newFakeGenerator()
		gen.failures["gemini-2.0-flash"] = 10
		gen.failures["gemini-2.0-flash-lite"] = 10
		repo := newTestRepo(gen)

		_, err := repo.AnalyzeImage(context.Background(), testImage(), nil)
		if err == nil {
			t.Fatal("expected error")
		}

		var apiErr *apperr.APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected APIError, got %T", err)
		}
		if apiErr.Attempts != 6 {
			t.Errorf("attempts = %d, want 6", apiErr.Attempts)
		}
		if apiErr.Image != "test.jpg" {
			t.Errorf("image = %s, want test.jpg", apiErr.Image)
		}
	})
}

func TestGeminiRepository_AnalyzeAttributes(t *testing.T) {
	tests := []struct {
		name       string
		response   string
		wantSex    string
		wantLength string
	}{
		{
			name:       "正常系: 有効な属性",
			response:   `{"sex":"メンズ","length":"ショート"}`,
			wantSex:    "メンズ",
			wantLength: "ショート",
		},
		{
			name:       "正常系: 不明な性別はレディースに正規化",
			response:   `{"sex":"不明","length":"ボブ"}`,
			wantSex:    "レディース",
			wantLength: "ボブ",
		},
		{
			name:       "正常系: 選択肢外の長さは中央値に正規化",
			response:   `{"sex":"レディース","length":"超ロング"}`,
			wantSex:    "レディース",
			wantLength: "ミディアム",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := newFakeGenerator()
			gen.responses["gemini-2.0-flash"] = tt.response
			repo := newTestRepo(gen)

			attrs, err := repo.AnalyzeAttributes(context.Background(), testImage())
			if err != nil {
				t.Fatalf("AnalyzeAttributes() error = %v", err)
			}
			if attrs.Sex != tt.wantSex {
				t.Errorf("sex = %s, want %s", attrs.Sex, tt.wantSex)
			}
			if attrs.Length != tt.wantLength {
				t.Errorf("length = %s, want %s", attrs.Length, tt.wantLength)
			}
		})
	}
}

func TestGeminiRepository_SelectTemplate(t *testing.T) {
	candidates := []entity.Template{
		{Category: "ボブ", Title: "大人かわいい切りっぱなしボブ"},
		{Category: "ボブ", Title: "ふんわりミニボブ"},
	}
	analysis := &entity.StyleAnalysis{Category: "ボブ"}

	t.Run("正常系: 候補内のタイトルが選択される", func(t *testing.T) {
		gen := newFakeGenerator()
		gen.responses["gemini-2.0-flash"] = `{"template_title":"ふんわりミニボブ","reason":"印象が一致"}`
		repo := newTestRepo(gen)

		title, err := repo.SelectTemplate(context.Background(), testImage(), candidates, analysis)
		if err != nil {
			t.Fatalf("SelectTemplate() error = %v", err)
		}
		if title != "ふんわりミニボブ" {
			t.Errorf("title = %s, want ふんわりミニボブ", title)
		}
	})

	t.Run("正常系: 候補外のタイトルは先頭候補にフォールバック", func(t *testing.T) {
		gen := newFakeGenerator()
		gen.responses["gemini-2.0-flash"] = `{"template_title":"存在しないタイトル","reason":""}`
		repo := newTestRepo(gen)

		title, err := repo.SelectTemplate(context.Background(), testImage(), candidates, analysis)
		if err != nil {
			t.Fatalf("SelectTemplate() error = %v", err)
		}
		if title != candidates[0].Title {
			t.Errorf("title = %s, want first candidate", title)
		}
	})

	t.Run("異常系: 候補が空", func(t *testing.T) {
		repo := newTestRepo(newFakeGenerator())
		if _, err := repo.SelectTemplate(context.Background(), testImage(), nil, analysis); err == nil {
			t.Error("expected error for empty candidates")
		}
	})
}

func TestGeminiRepository_SelectStylistAndCoupon(t *testing.T) {
	analysis := &entity.StyleAnalysis{Category: "ボブ"}

	gen := newFakeGenerator()
	gen.responses["gemini-2.0-flash"] = `{"stylist_name":"佐藤","reason":"ボブが得意"}`
	repo := newTestRepo(gen)

	stylists := []entity.StylistInfo{{Name: "田中"}, {Name: "佐藤"}}
	name, err := repo.SelectStylist(context.Background(), testImage(), stylists, analysis)
	if err != nil {
		t.Fatalf("SelectStylist() error = %v", err)
	}
	if name != "佐藤" {
		t.Errorf("stylist = %s, want 佐藤", name)
	}

	gen.responses["gemini-2.0-flash"] = `{"coupon_name":"カット+カラー","reason":"カラーが特徴的"}`
	coupons := []entity.CouponInfo{{Name: "カットのみ"}, {Name: "カット+カラー"}}
	cname, err := repo.SelectCoupon(context.Background(), testImage(), coupons, analysis)
	if err != nil {
		t.Fatalf("SelectCoupon() error = %v", err)
	}
	if cname != "カット+カラー" {
		t.Errorf("coupon = %s, want カット+カラー", cname)
	}
}

func TestImageParts(t *testing.T) {
	jpeg := imageParts("prompt", []byte{0xFF, 0xD8, 0xFF})
	if blob, ok := jpeg[1].(genai.Blob); !ok || blob.MIMEType != "image/jpeg" {
		t.Errorf("expected jpeg blob, got %+v", jpeg[1])
	}

	png := imageParts("prompt", []byte{0x89, 0x50, 0x4E, 0x47})
	if blob, ok := png[1].(genai.Blob); !ok || blob.MIMEType != "image/png" {
		t.Errorf("expected png blob, got %+v", png[1])
	}
}
