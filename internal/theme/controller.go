package theme

import "strings"

// Options 定义偏好 key、页面属性名与两种图标 class。
type Options struct {
	StorageKey string
	Attribute  string
	DarkIcon   string
	LightIcon  string
}

// DefaultOptions 返回页面脚本使用的默认值。
func DefaultOptions() Options {
	return Options{
		StorageKey: "theme",
		Attribute:  "data-theme",
		DarkIcon:   "fa-moon",
		LightIcon:  "fa-sun",
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if strings.TrimSpace(o.StorageKey) == "" {
		o.StorageKey = def.StorageKey
	}
	if strings.TrimSpace(o.Attribute) == "" {
		o.Attribute = def.Attribute
	}
	if strings.TrimSpace(o.DarkIcon) == "" {
		o.DarkIcon = def.DarkIcon
	}
	if strings.TrimSpace(o.LightIcon) == "" {
		o.LightIcon = def.LightIcon
	}
	return o
}

// IconFor 返回主题对应的图标 class：dark 为月亮，light 为太阳。
func (o Options) IconFor(t Theme) string {
	o = o.withDefaults()
	if t == Dark {
		return o.DarkIcon
	}
	return o.LightIcon
}

// Controller 把主题偏好同步到页面与存储。非并发安全，每个页面上下文使用一个实例。
type Controller struct {
	opts    Options
	storage Storage
	doc     Document
}

// NewController 构造控制器，空字段使用 DefaultOptions。
func NewController(opts Options, storage Storage, doc Document) *Controller {
	return &Controller{
		opts:    opts.withDefaults(),
		storage: storage,
		doc:     doc,
	}
}

// Options 返回补全默认值后的配置。
func (c *Controller) Options() Options {
	return c.opts
}

// Initialize 读取已保存的偏好（缺失或无法识别时为 light）并应用。
func (c *Controller) Initialize() Theme {
	t := Default
	if raw, ok := c.storage.Get(c.opts.StorageKey); ok {
		if parsed, valid := Parse(raw); valid {
			t = parsed
		}
	}
	c.Apply(t)
	return t
}

// Apply 设置页面属性、保存偏好并切换图标。
func (c *Controller) Apply(t Theme) {
	if _, ok := Parse(string(t)); !ok {
		t = Default
	}
	c.doc.SetAttribute(c.opts.Attribute, string(t))
	c.storage.Set(c.opts.StorageKey, string(t))

	from, to := c.opts.DarkIcon, c.opts.LightIcon
	if t == Dark {
		from, to = c.opts.LightIcon, c.opts.DarkIcon
	}
	if !c.doc.ReplaceClass(from, to) && !c.doc.HasClass(to) {
		c.doc.AddClass(to)
	}
}

// Toggle 读取当前已应用的主题，切换到相反主题并返回新值。
func (c *Controller) Toggle() Theme {
	next := c.Current().Opposite()
	c.Apply(next)
	return next
}

// Current 返回页面上当前应用的主题，属性缺失时为 light。
func (c *Controller) Current() Theme {
	if t, ok := Parse(c.doc.Attribute(c.opts.Attribute)); ok {
		return t
	}
	return Default
}

// Icon 返回当前图标 class。
func (c *Controller) Icon() string {
	return c.opts.IconFor(c.Current())
}
