package config

import (
	"errors"
	"os"
	"testing"
	"time"
)

func TestLoadFailsWithMissingFields(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("缺失字段的配置应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
StoragePath = "./data"
UpstreamTimeout = "boom"
`
	path := writeTempConfig(t, cfg, true)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadRejectsOriginPort(t *testing.T) {
	cfg := `
[[Origin]]
Name = "site"
Domain = "la-tribu.local"
Upstream = "https://la-tribu.example"
Port = 8080
`
	path := writeTempConfig(t, cfg, false)
	_, err := Load(path)
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != "Origin[site].Port" {
		t.Fatalf("Origin 级端口应被拒绝，实际 %v", err)
	}
}

func TestLoadSQLiteBackend(t *testing.T) {
	cfg := `
StorageBackend = "SQLite"
CacheVersion = "la-tribu-cache-v7"
StaticPathMarkers = ["/static/", "/assets/"]
`
	loaded, err := Load(writeTempConfig(t, cfg, true))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if loaded.Global.StorageBackend != BackendSQLite {
		t.Fatalf("StorageBackend 应规范化为小写: %s", loaded.Global.StorageBackend)
	}
	if loaded.Global.CacheVersion != "la-tribu-cache-v7" {
		t.Fatalf("CacheVersion 解析失败: %s", loaded.Global.CacheVersion)
	}
	if len(loaded.Global.StaticPathMarkers) != 2 {
		t.Fatalf("StaticPathMarkers 解析失败: %v", loaded.Global.StaticPathMarkers)
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	path := writeTempConfig(t, `CacheVersion = "la-tribu-cache-v1"`+"\n", true)
	changes := make(chan *Config, 4)
	if err := Watch(path, func(cfg *Config) { changes <- cfg }, nil); err != nil {
		t.Fatalf("Watch 返回错误: %v", err)
	}

	updated := `CacheVersion = "la-tribu-cache-v2"` + "\n" + siteOrigin
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changes:
			if cfg.Global.CacheVersion == "la-tribu-cache-v2" {
				return
			}
		case <-deadline:
			t.Fatalf("等待配置重载超时")
		}
	}
}
