package config

import (
	"os"
	"path/filepath"
	"testing"
)

// siteOrigin 是测试配置中最小可用的 Origin 段落。
const siteOrigin = `
[[Origin]]
Name = "site"
Domain = "la-tribu.local"
Upstream = "https://la-tribu.example"
`

func testConfigPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join("testdata", name)
}

// writeTempConfig 把内容写入临时 config.toml 并返回路径，withOrigin 为 true 时追加 siteOrigin。
func writeTempConfig(t *testing.T, content string, withOrigin bool) string {
	t.Helper()
	if withOrigin {
		content += siteOrigin
	}
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}
