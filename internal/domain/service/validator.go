package service

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // JPEG形式のサポート
	_ "image/png"  // PNG形式のサポート
	"net/url"
	"regexp"
	"strings"
)

var salonPathPattern = regexp.MustCompile(`/sln[A-Z][0-9]+/`)

// ValidateImageData 画像データを検証
func ValidateImageData(data []byte) error {
	if len(data) == 0 {
		return errors.New("image data is empty")
	}

	if len(data) > 10*1024*1024 { // 10MB制限
		return errors.New("image size exceeds 10MB")
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("invalid image format: %w", err)
	}

	allowedFormats := map[string]bool{"png": true, "jpeg": true, "jpg": true}
	if !allowedFormats[format] {
		return fmt.Errorf("unsupported format: %s", format)
	}

	return nil
}

// ValidateSalonURL サロンURLがホットペッパービューティの形式かを検証
func ValidateSalonURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid salon url: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("salon url must be http(s): %s", rawURL)
	}

	if !strings.HasSuffix(parsed.Host, "beauty.hotpepper.jp") {
		return fmt.Errorf("salon url must be a beauty.hotpepper.jp url: %s", rawURL)
	}

	// サロンURLは /slnH000000000/ のような形式
	if !salonPathPattern.MatchString(parsed.Path) {
		return fmt.Errorf("salon url path must contain a salon id: %s", rawURL)
	}

	return nil
}
