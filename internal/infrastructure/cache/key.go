package cache

import (
	"crypto/md5"
	"encoding/hex"
)

// buildKey 論理キーをストレージキーに変換する。
// キー本体はmd5でハッシュ化し、cacheContextを接頭辞として残すことで
// パターン指定でのコンテキスト単位クリアを可能にする。
func buildKey(key, cacheContext string) string {
	if cacheContext == "" {
		cacheContext = "default"
	}
	sum := md5.Sum([]byte(key))
	return cacheContext + ":" + hex.EncodeToString(sum[:])
}
