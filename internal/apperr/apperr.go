// Package apperr アプリケーション共通のエラー型を定義する
package apperr

import "fmt"

// APIError リモート呼び出しの一時的な失敗（リトライ・フォールバック枯渇後に報告される）
type APIError struct {
	Op       string // 呼び出し名（analyze_image など）
	Image    string // 対象画像（あれば）
	Attempts int    // 総試行回数（プライマリ + フォールバック）
	Err      error
}

func (e *APIError) Error() string {
	if e.Image != "" {
		return fmt.Sprintf("%s failed for %s after %d attempts: %v", e.Op, e.Image, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// StructuralError 上流ページの構造変化（リトライ対象外）
// 「サービス停止」と「サイト構造変更」を呼び出し側が区別できるようにする。
type StructuralError struct {
	URL     string
	Missing string // 見つからなかった要素のセレクタ
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("page structure changed at %s: missing %q", e.URL, e.Missing)
}

// ItemError 単一画像の処理失敗（バッチ全体には伝播しない）
type ItemError struct {
	Image string
	Err   error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("processing %s failed: %v", e.Image, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// ConfigError 起動時の設定・検証エラー（処理開始前に致命的として報告する）
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

// ParseError LLMレスポンスのJSON検証失敗。元テキストを保持する。
type ParseError struct {
	Op  string
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: response parse failed: %v", e.Op, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
