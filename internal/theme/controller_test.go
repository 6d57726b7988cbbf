package theme

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	got, ok := Parse(" Dark ")
	require.True(t, ok)
	assert.Equal(t, Dark, got)

	_, ok = Parse("sepia")
	assert.False(t, ok)
	assert.Equal(t, Light, Dark.Opposite())
	assert.Equal(t, Dark, Light.Opposite())
}

func TestInitializeDefaultsToLight(t *testing.T) {
	storage := MemoryStorage{}
	page := NewPage("fas", "fa-moon")
	c := NewController(Options{}, storage, page)

	assert.Equal(t, Light, c.Initialize())
	assert.Equal(t, "light", page.Attribute("data-theme"))
	assert.Equal(t, "light", storage["theme"])
	assert.Equal(t, []string{"fas", "fa-sun"}, page.Classes())
}

func TestInitializeRestoresSavedPreference(t *testing.T) {
	storage := MemoryStorage{"theme": "dark"}
	page := NewPage("fas", "fa-sun")
	c := NewController(Options{}, storage, page)

	assert.Equal(t, Dark, c.Initialize())
	assert.Equal(t, "dark", page.Attribute("data-theme"))
	assert.Equal(t, "fas fa-moon", page.ClassName())
	assert.Equal(t, "fa-moon", c.Icon())
}

func TestInitializeIgnoresUnknownValue(t *testing.T) {
	storage := MemoryStorage{"theme": "solarized"}
	c := NewController(Options{}, storage, NewPage())

	assert.Equal(t, Light, c.Initialize())
	assert.Equal(t, "light", storage["theme"])
}

func TestToggleTwiceRoundTrips(t *testing.T) {
	storage := MemoryStorage{}
	page := NewPage("fas", "fa-moon")
	c := NewController(Options{}, storage, page)
	initial := c.Initialize()

	assert.Equal(t, Dark, c.Toggle())
	assert.Equal(t, "dark", storage["theme"])
	assert.True(t, page.HasClass("fa-moon"))
	assert.False(t, page.HasClass("fa-sun"))

	assert.Equal(t, initial, c.Toggle())
	assert.Equal(t, "light", storage["theme"])
	assert.True(t, page.HasClass("fa-sun"))
	assert.False(t, page.HasClass("fa-moon"))
}

func TestApplyAddsIconWhenMissing(t *testing.T) {
	page := NewPage("fas")
	c := NewController(Options{}, MemoryStorage{}, page)

	c.Apply(Dark)
	assert.Equal(t, []string{"fas", "fa-moon"}, page.Classes())
	c.Apply(Dark)
	assert.Equal(t, []string{"fas", "fa-moon"}, page.Classes())
}

func TestCustomOptions(t *testing.T) {
	storage := MemoryStorage{}
	page := NewPage("bi", "bi-brightness-high")
	c := NewController(Options{
		StorageKey: "tribu-theme",
		Attribute:  "data-bs-theme",
		DarkIcon:   "bi-moon-stars",
		LightIcon:  "bi-brightness-high",
	}, storage, page)

	c.Initialize()
	assert.Equal(t, Dark, c.Toggle())
	assert.Equal(t, "dark", storage["tribu-theme"])
	assert.Equal(t, "dark", page.Attribute("data-bs-theme"))
	assert.Equal(t, "bi bi-moon-stars", page.ClassName())
}

func TestPageReplaceClassDeduplicates(t *testing.T) {
	page := NewPage("fa-sun", "fa-moon")
	require.True(t, page.ReplaceClass("fa-sun", "fa-moon"))
	assert.Equal(t, []string{"fa-moon"}, page.Classes())
	assert.False(t, page.ReplaceClass("fa-sun", "fa-moon"))
}
