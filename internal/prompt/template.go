// Package prompt builds and caches the per-model chat templates.
package prompt

import (
	"sort"
	"sync"

	"chatd/internal/llm"
)

const (
	tinyllamaSystem = "You are a helpful assistant. Always respond in English."
	defaultSystem   = "You are a helpful assistant that always responds in English."
)

// SystemInstruction returns the system message used for modelID.
func SystemInstruction(modelID string) string {
	if modelID == "tinyllama" {
		return tinyllamaSystem
	}
	return defaultSystem
}

// Template is an immutable chat layout: system instruction, then history,
// then the user input.
type Template struct {
	ModelID string
	System  string
}

// Format renders the message list for one turn.
func (t *Template) Format(history []llm.Message, input string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: t.System})
	msgs = append(msgs, history...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: input})
	return msgs
}

// Cache holds one template per model identifier for the process lifetime.
type Cache struct {
	mu        sync.Mutex
	templates map[string]*Template
	builds    int

	// onBuild, when set, is called after each template construction.
	onBuild func()
}

func NewCache() *Cache {
	return &Cache{templates: make(map[string]*Template)}
}

// OnBuild installs a hook observed after each template construction.
func (c *Cache) OnBuild(fn func()) { c.onBuild = fn }

// GetOrBuild returns the cached template for modelID, building it once.
func (c *Cache) GetOrBuild(modelID string) *Template {
	c.mu.Lock()
	if t, ok := c.templates[modelID]; ok {
		c.mu.Unlock()
		return t
	}
	t := &Template{ModelID: modelID, System: SystemInstruction(modelID)}
	c.templates[modelID] = t
	c.builds++
	c.mu.Unlock()
	if c.onBuild != nil {
		c.onBuild()
	}
	return t
}

// Builds reports how many templates have been constructed.
func (c *Cache) Builds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.builds
}

// IDs lists model identifiers with a cached template, sorted.
func (c *Cache) IDs() []string {
	c.mu.Lock()
	ids := make([]string, 0, len(c.templates))
	for id := range c.templates {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	sort.Strings(ids)
	return ids
}
