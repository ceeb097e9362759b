package service

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const (
	MaxDisplayNameLen = 32
	MaxRoomNameLen    = 48
	MaxMessageLen     = 2000

	defaultDisplayName = "User"
)

var strictPolicy = bluemonday.StrictPolicy()

// stripMarkup 去掉名称中的 HTML 标签，保留普通文本字符。
func stripMarkup(s string) string {
	if !strings.ContainsAny(s, "<>") {
		return s
	}
	return html.UnescapeString(strictPolicy.Sanitize(s))
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// NormalizeDisplayName 合并空白并截断到 32 个字符。
func NormalizeDisplayName(name string) string {
	name = strings.Join(strings.Fields(stripMarkup(name)), " ")
	return strings.TrimSpace(truncateRunes(name, MaxDisplayNameLen))
}

func NormalizeRoomName(name string) string {
	name = strings.Join(strings.Fields(stripMarkup(name)), " ")
	return strings.TrimSpace(truncateRunes(name, MaxRoomNameLen))
}

// NormalizeMessageText 统一换行符、去掉首尾空白并截断到 2000 个字符。
func NormalizeMessageText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.TrimSpace(text)
	return strings.TrimSpace(truncateRunes(text, MaxMessageLen))
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
