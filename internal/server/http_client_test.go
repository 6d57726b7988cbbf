package server

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/la-tribu/tribu-cache/internal/config"
)

func TestNewUpstreamClientUsesConfigTimeout(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{
			UpstreamTimeout: config.Duration(45 * time.Second),
		},
	}

	client := NewUpstreamClient(cfg)
	if client.Timeout != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %s", client.Timeout)
	}
	if fallback := NewUpstreamClient(nil); fallback.Timeout != 30*time.Second {
		t.Fatalf("expected default timeout 30s, got %s", fallback.Timeout)
	}
}

func TestCopyHeadersSkipsHopByHop(t *testing.T) {
	src := http.Header{}
	src.Add("Connection", "keep-alive")
	src.Add("Keep-Alive", "timeout=5")
	src.Add("X-Test-Header", "1")
	src.Add("x-test-header", "2")

	dst := http.Header{}
	CopyHeaders(dst, src)

	if _, exists := dst["Connection"]; exists {
		t.Fatalf("connection header should not be copied")
	}
	if _, exists := dst["Keep-Alive"]; exists {
		t.Fatalf("keep-alive header should not be copied")
	}

	got := dst.Values("X-Test-Header")
	if len(got) != 2 {
		t.Fatalf("expected 2 values, got %v", got)
	}
}

func TestClientForProxyClonesTransport(t *testing.T) {
	base := NewUpstreamClient(nil)
	if same := ClientForProxy(base, nil); same != base {
		t.Fatalf("nil proxy should return the base client")
	}

	proxyURL, _ := url.Parse("http://127.0.0.1:3128")
	proxied := ClientForProxy(base, proxyURL)
	if proxied == base || proxied.Transport == base.Transport {
		t.Fatalf("proxied client must not share the base transport")
	}
	transport := proxied.Transport.(*http.Transport)
	req, _ := http.NewRequest(http.MethodGet, "https://cdn.jsdelivr.net/npm/x.js", nil)
	got, err := transport.Proxy(req)
	if err != nil || got.String() != proxyURL.String() {
		t.Fatalf("unexpected proxy %v (%v)", got, err)
	}
	if proxied.Timeout != base.Timeout {
		t.Fatalf("timeout should be preserved")
	}
}
