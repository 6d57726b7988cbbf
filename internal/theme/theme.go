package theme

import "strings"

// Theme 是主题偏好，只有 light 与 dark 两个取值。
type Theme string

const (
	Light Theme = "light"
	Dark  Theme = "dark"
)

// Default 是未保存偏好时使用的主题。
const Default = Light

// Parse 解析字符串形式的主题，大小写与首尾空白不敏感。
func Parse(raw string) (Theme, bool) {
	switch Theme(strings.ToLower(strings.TrimSpace(raw))) {
	case Light:
		return Light, true
	case Dark:
		return Dark, true
	}
	return "", false
}

// Opposite 返回另一个主题；未知值视为 light。
func (t Theme) Opposite() Theme {
	if t == Dark {
		return Light
	}
	return Dark
}

func (t Theme) String() string {
	return string(t)
}

// Storage 是按 key 读写的持久化偏好存储，读写均视为必然成功。
type Storage interface {
	Get(key string) (string, bool)
	Set(key, value string)
}

// Document 是主题控制器需要的页面能力：根元素属性与图标 class 列表。
type Document interface {
	SetAttribute(name, value string)
	Attribute(name string) string
	// ReplaceClass 把图标上的 old 替换为 replacement，old 不存在时返回 false。
	ReplaceClass(old, replacement string) bool
	HasClass(name string) bool
	AddClass(name string)
}

// MemoryStorage 是基于 map 的 Storage，用于测试与无持久化场景。
type MemoryStorage map[string]string

func (m MemoryStorage) Get(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

func (m MemoryStorage) Set(key, value string) {
	m[key] = value
}
