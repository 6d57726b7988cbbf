package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// 缓存后端取值。
const (
	BackendFS     = "fs"
	BackendSQLite = "sqlite"
)

// GlobalConfig 描述全局运行时行为，所有 Origin 共享同一份参数。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFormat     string `mapstructure:"LogFormat"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`

	StoragePath    string `mapstructure:"StoragePath"`
	StorageBackend string `mapstructure:"StorageBackend"`
	CompressBodies bool   `mapstructure:"CompressBodies"`

	// CacheVersion 同时是当前 bucket 名，修改后触发新的 install/activate。
	CacheVersion        string   `mapstructure:"CacheVersion"`
	Precache            []string `mapstructure:"Precache"`
	StaticPathMarkers   []string `mapstructure:"StaticPathMarkers"`
	StaticHosts         []string `mapstructure:"StaticHosts"`
	StoreErrorResponses bool     `mapstructure:"StoreErrorResponses"`
	UpstreamTimeout     Duration `mapstructure:"UpstreamTimeout"`

	ThemeStorageKey string `mapstructure:"ThemeStorageKey"`
	ThemeAttribute  string `mapstructure:"ThemeAttribute"`
	ThemeDarkIcon   string `mapstructure:"ThemeDarkIcon"`
	ThemeLightIcon  string `mapstructure:"ThemeLightIcon"`

	WatchConfig bool `mapstructure:"WatchConfig"`
}

// OriginConfig 描述一个被代理的站点：按 Domain 匹配请求 Host，并回源到 Upstream。
type OriginConfig struct {
	Name     string `mapstructure:"Name"`
	Domain   string `mapstructure:"Domain"`
	Upstream string `mapstructure:"Upstream"`
	Proxy    string `mapstructure:"Proxy"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global  GlobalConfig   `mapstructure:",squash"`
	Origins []OriginConfig `mapstructure:"Origin"`
}

// OriginNames 返回所有 Origin 名称，按配置顺序。
func OriginNames(origins []OriginConfig) []string {
	if len(origins) == 0 {
		return nil
	}
	result := make([]string, len(origins))
	for i, origin := range origins {
		result[i] = origin.Name
	}
	return result
}

// WorkerChanged 判断两份配置是否需要重新注册 worker：版本、预缓存列表或分类规则不同。
func WorkerChanged(prev, next *Config) bool {
	if prev == nil || next == nil {
		return prev != next
	}
	a, b := prev.Global, next.Global
	return a.CacheVersion != b.CacheVersion ||
		a.StoreErrorResponses != b.StoreErrorResponses ||
		!equalStrings(a.Precache, b.Precache) ||
		!equalStrings(a.StaticPathMarkers, b.StaticPathMarkers) ||
		!equalStrings(a.StaticHosts, b.StaticHosts)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
