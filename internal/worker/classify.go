package worker

import (
	"net/url"
	"strings"

	"github.com/la-tribu/tribu-cache/internal/strategy"
)

// Class 是请求 URL 的静态分类结果。
type Class string

const (
	ClassStatic  Class = "static"
	ClassDynamic Class = "dynamic"
)

// 默认的静态资源判定：站内 /static/ 路径与两个 CDN 主机。
var (
	DefaultStaticPathMarkers = []string{"/static/"}
	DefaultStaticHosts       = []string{"cdn.jsdelivr.net", "cdnjs.cloudflare.com"}
)

// Classifier 根据 URL 判断请求走 cache-first 还是 network-first。
type Classifier struct {
	pathMarkers []string
	hosts       map[string]struct{}
}

// NewClassifier 构造分类器，两个参数都为空时使用默认值。
func NewClassifier(pathMarkers, hosts []string) Classifier {
	if len(pathMarkers) == 0 && len(hosts) == 0 {
		pathMarkers = DefaultStaticPathMarkers
		hosts = DefaultStaticHosts
	}
	c := Classifier{hosts: make(map[string]struct{}, len(hosts))}
	for _, marker := range pathMarkers {
		if marker = strings.TrimSpace(marker); marker != "" {
			c.pathMarkers = append(c.pathMarkers, marker)
		}
	}
	for _, host := range hosts {
		if host = strings.ToLower(strings.TrimSpace(host)); host != "" {
			c.hosts[host] = struct{}{}
		}
	}
	return c
}

// Classify URL 含任一路径标记或主机命中 CDN 列表时为 static，否则为 dynamic。
func (c Classifier) Classify(u *url.URL) Class {
	if u == nil {
		return ClassDynamic
	}
	if _, ok := c.hosts[strings.ToLower(u.Hostname())]; ok {
		return ClassStatic
	}
	raw := u.String()
	for _, marker := range c.pathMarkers {
		if strings.Contains(raw, marker) {
			return ClassStatic
		}
	}
	return ClassDynamic
}

// StrategyFor 返回分类对应的策略键。
func StrategyFor(class Class) string {
	if class == ClassStatic {
		return strategy.KeyCacheFirst
	}
	return strategy.KeyNetworkFirst
}
