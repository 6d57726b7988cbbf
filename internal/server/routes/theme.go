package routes

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/la-tribu/tribu-cache/internal/theme"
)

// ClientCookie 标识浏览器客户端，主题偏好按该值隔离保存。
const ClientCookie = "tribu_client"

// ThemeStorageFunc 返回某个客户端的偏好存储。
type ThemeStorageFunc func(ctx context.Context, clientID string) theme.Storage

// RegisterThemeRoutes 暴露 /-/theme 与 /-/theme/toggle：前者按已保存偏好初始化，后者切换并保存。
func RegisterThemeRoutes(app *fiber.App, opts theme.Options, storage ThemeStorageFunc) {
	if app == nil || storage == nil {
		return
	}

	app.Get("/-/theme", func(c fiber.Ctx) error {
		controller := newThemeController(c, opts, storage)
		controller.Initialize()
		return c.JSON(encodeTheme(controller))
	})

	app.Post("/-/theme/toggle", func(c fiber.Ctx) error {
		controller := newThemeController(c, opts, storage)
		controller.Initialize()
		controller.Toggle()
		return c.JSON(encodeTheme(controller))
	})
}

type themePayload struct {
	Theme     theme.Theme `json:"theme"`
	Icon      string      `json:"icon"`
	Attribute string      `json:"attribute"`
}

func encodeTheme(controller *theme.Controller) themePayload {
	return themePayload{
		Theme:     controller.Current(),
		Icon:      controller.Icon(),
		Attribute: controller.Options().Attribute,
	}
}

func newThemeController(c fiber.Ctx, opts theme.Options, storage ThemeStorageFunc) *theme.Controller {
	clientID := clientIDFromCookie(c)
	return theme.NewController(opts, storage(c.Context(), clientID), theme.NewPage())
}

// clientIDFromCookie 读取客户端标识，缺失或非法时签发新的 UUID。
func clientIDFromCookie(c fiber.Ctx) string {
	if raw := c.Cookies(ClientCookie); raw != "" {
		if parsed, err := uuid.Parse(raw); err == nil {
			return parsed.String()
		}
	}
	id := uuid.NewString()
	c.Cookie(&fiber.Cookie{
		Name:     ClientCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int((365 * 24 * time.Hour) / time.Second),
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return id
}
