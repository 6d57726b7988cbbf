package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// DefaultCacheVersion 是未配置 CacheVersion 时使用的 bucket 名。
const DefaultCacheVersion = "la-tribu-cache-v1"

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	if err := rejectOriginLevelPorts(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	for i := range cfg.Origins {
		applyOriginDefaults(&cfg.Origins[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFormat", "json")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("StorageBackend", BackendFS)
	v.SetDefault("CompressBodies", false)
	v.SetDefault("CacheVersion", DefaultCacheVersion)
	v.SetDefault("Precache", []string{})
	v.SetDefault("StaticPathMarkers", []string{"/static/"})
	v.SetDefault("StaticHosts", []string{"cdn.jsdelivr.net", "cdnjs.cloudflare.com"})
	v.SetDefault("StoreErrorResponses", false)
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("ThemeStorageKey", "theme")
	v.SetDefault("ThemeAttribute", "data-theme")
	v.SetDefault("ThemeDarkIcon", "fa-moon")
	v.SetDefault("ThemeLightIcon", "fa-sun")
	v.SetDefault("WatchConfig", false)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	g.StorageBackend = strings.ToLower(strings.TrimSpace(g.StorageBackend))
	if g.StorageBackend == "" {
		g.StorageBackend = BackendFS
	}
	g.LogFormat = strings.ToLower(strings.TrimSpace(g.LogFormat))
	g.CacheVersion = strings.TrimSpace(g.CacheVersion)
	g.Precache = trimAll(g.Precache)
	g.StaticPathMarkers = trimAll(g.StaticPathMarkers)
	g.StaticHosts = trimAll(g.StaticHosts)
}

func applyOriginDefaults(o *OriginConfig) {
	o.Name = strings.TrimSpace(o.Name)
	o.Domain = strings.TrimSpace(o.Domain)
	o.Upstream = strings.TrimRight(strings.TrimSpace(o.Upstream), "/")
	o.Proxy = strings.TrimSpace(o.Proxy)
}

func trimAll(values []string) []string {
	result := make([]string, 0, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			result = append(result, value)
		}
	}
	return result
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

// rejectOriginLevelPorts 拒绝在 [[Origin]] 中声明端口，所有 Origin 共用 ListenPort。
func rejectOriginLevelPorts(v *viper.Viper) error {
	raw := v.Get("Origin")
	origins, ok := raw.([]interface{})
	if !ok {
		return nil
	}

	for idx, entry := range origins {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		if _, exists := m["Port"]; exists {
			name := fmt.Sprintf("#%d", idx)
			if rawName, ok := m["Name"].(string); ok && rawName != "" {
				name = rawName
			}
			return newFieldError(originField(name, "Port"), "不支持单独端口，请使用全局 ListenPort")
		}
	}

	return nil
}
