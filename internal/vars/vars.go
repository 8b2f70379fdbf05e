// Package vars implements template variable resolution for request
// definitions. Two substitution forms are supported:
//
//	{{name}}          - looked up in the context's variable map
//	${NAME}           - environment lookup
//	${NAME:default}   - environment lookup with a fallback value
//
// An unresolved {{name}} reference is left in the text verbatim so the
// output makes the missing variable visible. Resolution is a pure
// string transformation; the context is never mutated by Resolve.
package vars

import (
	"os"
	"regexp"

	"github.com/volleyhq/volley/internal/config"
)

var (
	varPattern = regexp.MustCompile(`\{\{(\w+)\}\}`)
	envPattern = regexp.MustCompile(`\$\{([^:}]+)(?::([^}]*))?\}`)
)

// Context holds the variable bindings for one run (or one dataset row).
// Derived contexts share nothing with their parent, so per-row
// resolution is safe under concurrency.
type Context struct {
	vars   map[string]string
	lookup func(string) (string, bool)
}

// NewContext returns an empty context backed by the process environment
// for ${NAME} lookups.
func NewContext() *Context {
	return &Context{
		vars:   make(map[string]string),
		lookup: os.LookupEnv,
	}
}

// WithLookup replaces the environment lookup function. Tests use this
// to avoid touching the process environment.
func (c *Context) WithLookup(lookup func(string) (string, bool)) *Context {
	c.lookup = lookup
	return c
}

// WithVars merges a variable map into the context. Values are resolved
// against the bindings already present, so a suite variable may refer
// to an environment-block variable defined before it.
func (c *Context) WithVars(vars map[string]string) *Context {
	for k, v := range vars {
		c.vars[k] = c.Resolve(v)
	}
	return c
}

// WithRow derives a child context with the dataset row's values bound
// on top of the existing variables. The parent is left untouched.
func (c *Context) WithRow(row map[string]string) *Context {
	child := &Context{
		vars:   make(map[string]string, len(c.vars)+len(row)),
		lookup: c.lookup,
	}
	for k, v := range c.vars {
		child.vars[k] = v
	}
	for k, v := range row {
		child.vars[k] = v
	}
	return child
}

// Set binds a single variable.
func (c *Context) Set(key, value string) {
	c.vars[key] = value
}

// Get reports the binding for key, if any.
func (c *Context) Get(key string) (string, bool) {
	v, ok := c.vars[key]
	return v, ok
}

// Resolve substitutes {{name}} references first, then ${NAME:default}
// environment references. The variable pass runs first so a variable
// may expand to an environment reference and still resolve.
//
// Environment references fall back to the context's variable map when
// the environment has no value, and then to the inline default (empty
// string if none was given).
func (c *Context) Resolve(text string) string {
	result := varPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := varPattern.FindStringSubmatch(match)[1]
		if v, ok := c.vars[name]; ok {
			return v
		}
		return match
	})

	result = envPattern.ReplaceAllStringFunc(result, func(match string) string {
		groups := envPattern.FindStringSubmatch(match)
		name, fallback := groups[1], groups[2]
		if v, ok := c.lookup(name); ok {
			return v
		}
		if v, ok := c.vars[name]; ok {
			return v
		}
		return fallback
	})

	return result
}

// ResolveRequest returns a deep copy of the request with all its string
// fields resolved. The input request is never modified.
func (c *Context) ResolveRequest(req config.Request) config.Request {
	out := config.Request{
		Method: c.Resolve(req.Method),
		URL:    c.Resolve(req.URL),
		Body:   c.Resolve(req.Body),
	}
	if req.Headers != nil {
		out.Headers = make(map[string]string, len(req.Headers))
		for k, v := range req.Headers {
			out.Headers[c.Resolve(k)] = c.Resolve(v)
		}
	}
	if req.Params != nil {
		out.Params = make(map[string]string, len(req.Params))
		for k, v := range req.Params {
			out.Params[c.Resolve(k)] = c.Resolve(v)
		}
	}
	return out
}
