package theme

import (
	"slices"
	"strings"
	"sync"
)

// Page 是内存中的页面文档：根元素属性加一个图标元素的 class 列表。
type Page struct {
	mu      sync.Mutex
	attrs   map[string]string
	classes []string
}

// NewPage 以给定的图标 class 创建页面，例如 NewPage("fas", "fa-moon")。
func NewPage(iconClasses ...string) *Page {
	p := &Page{attrs: map[string]string{}}
	for _, class := range iconClasses {
		p.AddClass(class)
	}
	return p
}

func (p *Page) SetAttribute(name, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attrs[name] = value
}

func (p *Page) Attribute(name string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attrs[name]
}

func (p *Page) ReplaceClass(old, replacement string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := slices.Index(p.classes, old)
	if idx < 0 {
		return false
	}
	if slices.Contains(p.classes, replacement) {
		p.classes = slices.Delete(p.classes, idx, idx+1)
		return true
	}
	p.classes[idx] = replacement
	return true
}

func (p *Page) HasClass(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Contains(p.classes, name)
}

func (p *Page) AddClass(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !slices.Contains(p.classes, name) {
		p.classes = append(p.classes, name)
	}
}

// Classes 返回图标 class 列表的副本。
func (p *Page) Classes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.classes)
}

// ClassName 返回空格拼接的 class 属性值。
func (p *Page) ClassName() string {
	return strings.Join(p.Classes(), " ")
}
