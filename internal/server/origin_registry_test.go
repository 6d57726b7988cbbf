package server

import (
	"testing"

	"github.com/la-tribu/tribu-cache/internal/config"
)

func TestOriginRegistryLookupByHost(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{ListenPort: 5000},
		Origins: []config.OriginConfig{
			{
				Name:     "site",
				Domain:   "la-tribu.local",
				Upstream: "https://la-tribu.example",
			},
			{
				Name:     "jsdelivr",
				Domain:   "cdn.jsdelivr.local",
				Upstream: "https://cdn.jsdelivr.net",
				Proxy:    "http://127.0.0.1:3128",
			},
		},
	}

	registry, err := NewOriginRegistry(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	route, ok := registry.Lookup("LA-TRIBU.local")
	if !ok {
		t.Fatalf("expected site route")
	}
	if route.Config.Name != "site" {
		t.Errorf("wrong origin returned: %s", route.Config.Name)
	}
	if route.UpstreamURL.String() != "https://la-tribu.example" {
		t.Errorf("unexpected upstream URL: %s", route.UpstreamURL)
	}
	if route.ProxyURL != nil {
		t.Errorf("expected nil proxy")
	}
	if route.ListenPort != cfg.Global.ListenPort {
		t.Fatalf("route listen port mismatch: %d", route.ListenPort)
	}

	cdn, ok := registry.Lookup("cdn.jsdelivr.local")
	if !ok || cdn.ProxyURL == nil || cdn.ProxyURL.Host != "127.0.0.1:3128" {
		t.Fatalf("expected proxy url on jsdelivr route: %+v", cdn)
	}

	if got := len(registry.List()); got != 2 {
		t.Fatalf("expected 2 routes in list, got %d", got)
	}
}

func TestOriginRegistryParsesHostHeaderPort(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{ListenPort: 5000},
		Origins: []config.OriginConfig{
			{Name: "site", Domain: "la-tribu.local", Upstream: "https://la-tribu.example"},
		},
	}

	registry, err := NewOriginRegistry(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := registry.Lookup("la-tribu.local:6000"); !ok {
		t.Fatalf("expected lookup to ignore host header port")
	}
	if _, ok := registry.Lookup(""); ok {
		t.Fatalf("empty host must not resolve")
	}
}

func TestOriginRegistryRejectsDuplicateDomains(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{ListenPort: 5000},
		Origins: []config.OriginConfig{
			{Name: "site", Domain: "la-tribu.local", Upstream: "https://la-tribu.example"},
			{Name: "site-alt", Domain: "la-tribu.local.", Upstream: "https://mirror.la-tribu.example"},
		},
	}

	if _, err := NewOriginRegistry(cfg); err == nil {
		t.Fatalf("expected duplicate domain error")
	}
}
