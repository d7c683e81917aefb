package entity

import (
	"strings"
	"time"
)

// Image 処理対象の画像（ファイル名と生データ）
type Image struct {
	Name string
	Data []byte
}

// StyleFeatures ヘアスタイルの特徴
type StyleFeatures struct {
	Color        string `json:"color"`         // 髪色の詳細説明
	CutTechnique string `json:"cut_technique"` // カット技法
	Styling      string `json:"styling"`       // スタイリング方法
	Impression   string `json:"impression"`    // 全体的な印象
}

// Values 特徴値のリストを返す（テキストマッチング用）
func (f StyleFeatures) Values() []string {
	return []string{f.Color, f.CutTechnique, f.Styling, f.Impression}
}

// Description 特徴を1つのテキストに結合する
func (f StyleFeatures) Description() string {
	return strings.Join(f.Values(), " ")
}

// StyleAnalysis スタイル分析結果
type StyleAnalysis struct {
	Category string        `json:"category"`
	Features StyleFeatures `json:"features"`
	Keywords []string      `json:"keywords"`
}

// AttributeAnalysis 属性分析結果（性別・髪の長さ）
type AttributeAnalysis struct {
	Sex    string `json:"sex"`    // レディース / メンズ
	Length string `json:"length"` // 設定された長さ選択肢のいずれか
}

// Template スタイルテンプレート
type Template struct {
	Category string
	Title    string
	Menu     string
	Comment  string
	Hashtag  string // カンマ区切り
}

// Hashtags ハッシュタグのリストを返す
func (t Template) Hashtags() []string {
	if t.Hashtag == "" {
		return nil
	}
	var tags []string
	for _, tag := range strings.Split(t.Hashtag, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// CombinedText タイトル・コメント・メニューを結合した小文字テキストを返す
func (t Template) CombinedText() string {
	return strings.ToLower(t.Title + " " + t.Comment + " " + t.Menu)
}

// StylistInfo スタイリスト情報
type StylistInfo struct {
	Name        string
	Specialties string
	Description string
	URL         string
}

// Text 類似度計算用の説明テキストを返す
func (s StylistInfo) Text() string {
	return s.Name + " " + s.Specialties + " " + s.Description
}

// CouponInfo クーポン情報
type CouponInfo struct {
	Name        string
	Price       int
	Description string
	Categories  []string
	Conditions  map[string]string
	URL         string
}

// Text 類似度計算用の説明テキストを返す
func (c CouponInfo) Text() string {
	return c.Name + " " + c.Description + " " + strings.Join(c.Categories, " ")
}

// ProcessResult 1画像分の処理結果。Errorが空でなければ失敗アイテム。
type ProcessResult struct {
	ImageName         string
	StyleAnalysis     StyleAnalysis
	AttributeAnalysis AttributeAnalysis
	SelectedTemplate  Template
	SelectedStylist   *StylistInfo
	SelectedCoupon    *CouponInfo
	TemplateReason    string
	StylistReason     string
	CouponReason      string
	ProcessedAt       time.Time
	Error             string
}

// Failed 処理が失敗したかどうかを返す
func (r ProcessResult) Failed() bool { return r.Error != "" }

// NewFailedResult 失敗アイテム用のProcessResultを作成する
func NewFailedResult(imageName string, err error) ProcessResult {
	return ProcessResult{
		ImageName:   imageName,
		ProcessedAt: time.Now(),
		Error:       err.Error(),
	}
}

// ProcessRun 1回のバッチ実行の記録
type ProcessRun struct {
	ID           string
	SalonURL     string
	ImageCount   int
	SuccessCount int
	StartedAt    time.Time
	FinishedAt   time.Time
}
