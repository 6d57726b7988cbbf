package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/la-tribu/tribu-cache/internal/logging"
	"github.com/la-tribu/tribu-cache/internal/metrics"
	"github.com/la-tribu/tribu-cache/internal/server"
	"github.com/la-tribu/tribu-cache/internal/worker"
)

// 网关附加的响应头。
const (
	HeaderCacheHit     = "X-Tribu-Cache-Hit"
	HeaderStrategy     = "X-Tribu-Strategy"
	HeaderCacheVersion = "X-Tribu-Cache-Version"
	HeaderUpstream     = "X-Tribu-Upstream"

	strategyPassthrough = "passthrough"
	strategyUncached    = "uncached"
)

// Dispatcher 把 fetch 事件交给当前激活的 worker，通常是 *worker.Container。
type Dispatcher interface {
	Dispatch(ctx context.Context, req *http.Request) (*worker.Outcome, error)
}

// Handler 把下游请求转换为上游 *http.Request，交给 worker 处理；worker 不接管时直接流式回源。
type Handler struct {
	network    *Network
	dispatcher Dispatcher
	logger     *logrus.Logger
	recorder   *metrics.Recorder
}

// NewHandler constructs a gateway handler; recorder may be nil.
func NewHandler(network *Network, dispatcher Dispatcher, logger *logrus.Logger, recorder *metrics.Recorder) *Handler {
	return &Handler{
		network:    network,
		dispatcher: dispatcher,
		logger:     logger,
		recorder:   recorder,
	}
}

// Handle 实现 server.ProxyHandler。
func (h *Handler) Handle(c fiber.Ctx, route *server.OriginRoute) error {
	started := time.Now()
	requestID := server.RequestID(c)

	upstreamURL := resolveUpstreamURL(route.UpstreamURL, c)
	req, err := buildUpstreamRequest(c, upstreamURL, route, bytesReader(c.Body()))
	if err != nil {
		h.logResult(route, nil, "build_request", upstreamURL.String(), requestID, 0, started, err)
		return writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}

	outcome, err := h.dispatcher.Dispatch(req.Context(), req)
	var oversized *OversizedError
	switch {
	case errors.Is(err, worker.ErrPassthrough):
		return h.passthrough(c, route, req, requestID, started)
	case errors.As(err, &oversized):
		// 上游已应答但正文超出缓存上限：不写缓存，直接把响应流给客户端。
		defer oversized.Close()
		return h.stream(c, route, req, oversized.Response, strategyUncached, requestID, started)
	case err != nil:
		h.logResult(route, nil, "worker", upstreamURL.String(), requestID, 0, started, err)
		return writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}

	resp := outcome.Response
	copyResponseHeaders(c, resp.Header)
	c.Set(HeaderUpstream, upstreamURL.String())
	c.Set(HeaderCacheHit, strconv.FormatBool(outcome.CacheHit()))
	c.Set(HeaderStrategy, outcome.Strategy)
	c.Set(HeaderCacheVersion, outcome.Version)
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.StatusCode)
	h.logResult(route, outcome, "", upstreamURL.String(), requestID, resp.StatusCode, started, nil)
	return c.Send(resp.Body)
}

// passthrough 对 worker 不处理的请求（非 GET、Range 请求或无激活 worker）直接流式回源，不触碰缓存。
func (h *Handler) passthrough(c fiber.Ctx, route *server.OriginRoute, req *http.Request, requestID string, started time.Time) error {
	resp, err := h.network.Do(req)
	if err != nil {
		h.recorder.ObserveFetch(strategyPassthrough, metrics.OutcomeFailed, time.Since(started))
		h.logResult(route, nil, strategyPassthrough, req.URL.String(), requestID, 0, started, err)
		return writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	defer resp.Body.Close()
	return h.stream(c, route, req, resp, strategyPassthrough, requestID, started)
}

// stream 把未缓存的上游响应原样写回客户端，调用方负责关闭 resp.Body。
func (h *Handler) stream(c fiber.Ctx, route *server.OriginRoute, req *http.Request, resp *http.Response, mode, requestID string, started time.Time) error {
	upstream := req.URL.String()
	copyResponseHeaders(c, resp.Header)
	c.Set(HeaderUpstream, upstream)
	c.Set(HeaderCacheHit, "false")
	c.Set(HeaderStrategy, mode)
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.StatusCode)

	if req.Method == http.MethodHead {
		h.recorder.ObserveFetch(mode, metrics.OutcomeBypass, time.Since(started))
		h.logResult(route, nil, mode, upstream, requestID, resp.StatusCode, started, nil)
		return nil
	}

	_, err := io.Copy(c.Response().BodyWriter(), resp.Body)
	h.recorder.ObserveFetch(mode, metrics.OutcomeBypass, time.Since(started))
	h.logResult(route, nil, mode, upstream, requestID, resp.StatusCode, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

func buildUpstreamRequest(c fiber.Ctx, upstream *url.URL, route *server.OriginRoute, body io.Reader) (*http.Request, error) {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if body == nil {
		body = http.NoBody
	}

	req, err := http.NewRequestWithContext(ctx, c.Method(), upstream.String(), body)
	if err != nil {
		return nil, err
	}

	server.CopyHeaders(req.Header, fiberHeadersAsHTTP(c))
	req.Header.Del("Accept-Encoding")
	req.Host = upstream.Host
	req.Header.Set("Host", upstream.Host)
	req.Header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			req.Header.Set("X-Forwarded-For", ip)
		}
	}
	req.Header.Set("X-Forwarded-Proto", c.Protocol())
	req.Header.Set("X-Forwarded-Port", routePort(route))
	return req, nil
}

func resolveUpstreamURL(base *url.URL, c fiber.Ctx) *url.URL {
	uri := c.Request().URI()
	clean := normalizeRequestPath(string(uri.Path()))
	relative := &url.URL{Path: clean}
	if query := uri.QueryString(); len(query) > 0 {
		relative.RawQuery = string(query)
	}
	resolved := base.ResolveReference(relative)
	if basePath := base.Path; basePath != "" && basePath != "/" {
		resolved.Path = path.Join(basePath, clean)
		if clean != "/" && clean[len(clean)-1] == '/' {
			resolved.Path += "/"
		}
	}
	return resolved
}

func normalizeRequestPath(raw string) string {
	if raw == "" {
		raw = "/"
	}
	clean := path.Clean("/" + raw)
	if clean != "/" && raw[len(raw)-1] == '/' {
		clean += "/"
	}
	return clean
}

func bytesReader(b []byte) io.Reader {
	if len(b) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(append([]byte(nil), b...))
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) || http.CanonicalHeaderKey(key) == "Content-Length" {
			continue
		}
		for _, value := range values {
			c.Set(key, value)
		}
	}
}

func routePort(route *server.OriginRoute) string {
	if route == nil || route.ListenPort <= 0 {
		return "0"
	}
	return strconv.Itoa(route.ListenPort)
}

func writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	route *server.OriginRoute,
	outcome *worker.Outcome,
	mode string,
	upstream string,
	requestID string,
	status int,
	started time.Time,
	err error,
) {
	strategyKey, class, version := mode, "", ""
	if outcome != nil {
		strategyKey, class, version = outcome.Strategy, string(outcome.Class), outcome.Version
	}
	fields := logging.RequestFields(route.Config.Name, route.Config.Domain, strategyKey, class, outcome.CacheHit())
	fields["action"] = "fetch"
	fields["upstream"] = upstream
	fields["upstream_status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if version != "" {
		fields["cache_version"] = version
	}
	if outcome != nil {
		fields["source"] = string(outcome.Source)
		fields["stored"] = outcome.Stored
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("fetch_failed")
		return
	}
	h.logger.WithFields(fields).Info("fetch_complete")
}
