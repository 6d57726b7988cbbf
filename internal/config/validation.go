package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.LogLevel != "" {
		if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
			return newFieldError("Global.LogLevel", "无法识别的日志级别")
		}
	}
	if g.LogFormat != "" && g.LogFormat != "json" && g.LogFormat != "text" {
		return newFieldError("Global.LogFormat", "仅支持 json/text")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.StorageBackend != BackendFS && g.StorageBackend != BackendSQLite {
		return newFieldError("Global.StorageBackend", "仅支持 fs/sqlite")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if err := validateCacheVersion(g.CacheVersion); err != nil {
		return fmt.Errorf("Global.CacheVersion: %w", err)
	}
	for i, raw := range g.Precache {
		if err := validateUpstream(raw); err != nil {
			return fmt.Errorf("Global.Precache[%d]: %w", i, err)
		}
	}
	for field, value := range map[string]string{
		"Global.ThemeStorageKey": g.ThemeStorageKey,
		"Global.ThemeAttribute":  g.ThemeAttribute,
		"Global.ThemeDarkIcon":   g.ThemeDarkIcon,
		"Global.ThemeLightIcon":  g.ThemeLightIcon,
	} {
		if strings.TrimSpace(value) == "" {
			return newFieldError(field, "不能为空")
		}
	}
	if g.ThemeDarkIcon == g.ThemeLightIcon {
		return newFieldError("Global.ThemeDarkIcon", "不能与 ThemeLightIcon 相同")
	}

	if len(c.Origins) == 0 {
		return errors.New("至少需要配置一个 Origin")
	}

	seenNames := map[string]struct{}{}
	seenDomains := map[string]struct{}{}
	for i := range c.Origins {
		origin := &c.Origins[i]
		if origin.Name == "" {
			return newFieldError("Origin[].Name", "不能为空")
		}
		if _, exists := seenNames[origin.Name]; exists {
			return newFieldError(originField(origin.Name, "Name"), "重复")
		}
		seenNames[origin.Name] = struct{}{}

		if err := validateDomain(origin.Domain); err != nil {
			return fmt.Errorf("%s: %w", originField(origin.Name, "Domain"), err)
		}
		domain := strings.ToLower(origin.Domain)
		if _, exists := seenDomains[domain]; exists {
			return newFieldError(originField(origin.Name, "Domain"), "重复")
		}
		seenDomains[domain] = struct{}{}

		if err := validateUpstream(origin.Upstream); err != nil {
			return fmt.Errorf("%s: %w", originField(origin.Name, "Upstream"), err)
		}
		if origin.Proxy != "" {
			if err := validateUpstream(origin.Proxy); err != nil {
				return fmt.Errorf("%s: %w", originField(origin.Name, "Proxy"), err)
			}
		}
	}

	return nil
}

func validateCacheVersion(version string) error {
	if version == "" {
		return errors.New("不能为空")
	}
	if strings.ContainsAny(version, `/\`) {
		return errors.New("不允许包含路径分隔符")
	}
	if strings.HasPrefix(version, ".") {
		return errors.New("不能以 . 开头")
	}
	return nil
}

func validateDomain(domain string) error {
	if domain == "" {
		return errors.New("Domain 不能为空")
	}
	if strings.Contains(domain, "/") {
		return errors.New("Domain 不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("Domain 不允许包含空格")
	}
	if strings.HasPrefix(domain, "http") {
		return errors.New("Domain 不应包含协议头")
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
