package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ProxyHandler answers a request for a mapped origin, normally by dispatching
// it to the active worker. Tests inject fakes.
type ProxyHandler interface {
	Handle(fiber.Ctx, *OriginRoute) error
}

// ProxyHandlerFunc adapts a function to the ProxyHandler interface.
type ProxyHandlerFunc func(fiber.Ctx, *OriginRoute) error

// Handle makes ProxyHandlerFunc satisfy ProxyHandler.
func (f ProxyHandlerFunc) Handle(c fiber.Ctx, route *OriginRoute) error {
	return f(c, route)
}

// AppOptions controls how the Fiber application behaves on the listen port.
type AppOptions struct {
	Logger     *logrus.Logger
	Registry   *OriginRegistry
	Proxy      ProxyHandler
	ListenPort int
}

const (
	localsRoute     = "_tribu_route"
	localsRequestID = "_tribu_request_id"

	diagnosticsPrefix = "/-/"
	headerHost        = "X-Tribu-Host"
	headerOrigin      = "X-Tribu-Origin"
)

// hostRouter 持有 Host 路由所需的依赖，拆成方法便于 middleware 与终端 handler 共享。
type hostRouter struct {
	logger   *logrus.Logger
	registry *OriginRegistry
	proxy    ProxyHandler
	port     int
}

// NewApp builds a Fiber application with Host routing middleware and a JSON
// error handler. Diagnostics routes under /-/ are registered by the caller.
func NewApp(opts AppOptions) (*fiber.App, error) {
	switch {
	case opts.Logger == nil:
		return nil, errors.New("logger is required")
	case opts.Registry == nil:
		return nil, errors.New("origin registry is required")
	case opts.Proxy == nil:
		return nil, errors.New("proxy handler is required")
	case opts.ListenPort <= 0:
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	r := &hostRouter{
		logger:   opts.Logger,
		registry: opts.Registry,
		proxy:    opts.Proxy,
		port:     opts.ListenPort,
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		ErrorHandler:  r.handleError,
	})
	app.Use(recover.New())
	app.Use(r.resolve)
	app.All("/*", r.dispatch)
	return app, nil
}

// resolve 生成请求 ID，并按 Host 头（忽略端口）定位 OriginRoute。
func (r *hostRouter) resolve(c fiber.Ctx) error {
	reqID := uuid.NewString()
	c.Locals(localsRequestID, reqID)
	c.Set("X-Request-ID", reqID)

	if isDiagnostics(c) {
		return c.Next()
	}

	host := strings.TrimSpace(requestHost(c))
	route, ok := r.registry.Lookup(host)
	if !ok {
		return r.unmapped(c, host)
	}
	c.Locals(localsRoute, route)
	c.Set(headerOrigin, route.Config.Name)
	return c.Next()
}

func (r *hostRouter) dispatch(c fiber.Ctx) error {
	if isDiagnostics(c) {
		return c.Next()
	}
	route, ok := c.Locals(localsRoute).(*OriginRoute)
	if !ok || route == nil {
		return r.unmapped(c, "")
	}
	return r.proxy.Handle(c, route)
}

func (r *hostRouter) unmapped(c fiber.Ctx, host string) error {
	r.logger.WithFields(logrus.Fields{
		"action": "host_lookup",
		"host":   host,
		"port":   r.port,
	}).Warn("host_unmapped")

	if host != "" {
		c.Set(headerHost, host)
	}
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "host_unmapped"})
}

// handleError 把未处理的 error 渲染为 {"error": code}。
func (r *hostRouter) handleError(c fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
	}
	r.logger.WithFields(logrus.Fields{
		"action":     "request_error",
		"path":       string(c.Request().URI().Path()),
		"status":     status,
		"request_id": RequestID(c),
		"error":      err.Error(),
	}).Error("request_failed")
	return c.Status(status).JSON(fiber.Map{"error": errorCode(status)})
}

func requestHost(c fiber.Ctx) string {
	if raw := c.Request().Header.Peek(fiber.HeaderHost); len(raw) > 0 {
		return string(raw)
	}
	return c.Hostname()
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	reqID, _ := c.Locals(localsRequestID).(string)
	return reqID
}

func isDiagnostics(c fiber.Ctx) bool {
	return strings.HasPrefix(string(c.Request().URI().Path()), diagnosticsPrefix)
}

func errorCode(status int) string {
	switch status {
	case fiber.StatusNotFound:
		return "not_found"
	case fiber.StatusMethodNotAllowed:
		return "method_not_allowed"
	case fiber.StatusBadGateway:
		return "upstream_failed"
	case fiber.StatusBadRequest:
		return "bad_request"
	}
	return "internal_error"
}
