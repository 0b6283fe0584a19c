// Package env composes the environment handed to the worker process.
package env

import (
	"os"
	"sort"
	"strings"
)

// Env is an immutable set of variables layered over a base environment.
type Env struct {
	base map[string]string
	vars map[string]string
}

// New returns an Env whose base is the host's current environment.
func New() *Env {
	return FromList(os.Environ())
}

// FromList returns an Env whose base is the given KEY=VALUE list.
func FromList(kvs []string) *Env {
	e := &Env{base: make(map[string]string, len(kvs)), vars: map[string]string{}}
	for _, kv := range kvs {
		if k, v, ok := split(kv); ok {
			e.base[k] = v
		}
	}
	return e
}

// WithSet returns a copy of e with k=v applied on top.
func (e *Env) WithSet(k, v string) *Env {
	c := &Env{base: e.base, vars: make(map[string]string, len(e.vars)+1)}
	for kk, vv := range e.vars {
		c.vars[kk] = vv
	}
	if k != "" {
		c.vars[k] = v
	}
	return c
}

// WithList applies every KEY=VALUE entry of kvs in order. Malformed entries
// are ignored.
func (e *Env) WithList(kvs []string) *Env {
	c := e.WithSet("", "")
	for _, kv := range kvs {
		if k, v, ok := split(kv); ok {
			c.vars[k] = v
		}
	}
	return c
}

// Merge returns base, then e's variables, then overrides, as a sorted
// KEY=VALUE list. ${NAME} references inside layered values are expanded once
// against the merged set; unknown names expand to "".
func (e *Env) Merge(overrides []string) []string {
	c := e.WithList(overrides)
	m := make(map[string]string, len(c.base)+len(c.vars))
	for k, v := range c.base {
		m[k] = v
	}
	for k, v := range c.vars {
		m[k] = v
	}
	expanded := make(map[string]string, len(c.vars))
	for k, v := range c.vars {
		expanded[k] = expand(v, m)
	}
	for k, v := range expanded {
		m[k] = v
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func expand(s string, m map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		b.WriteString(m[s[i+2:i+2+j]])
		s = s[i+3+j:]
	}
}

func split(kv string) (string, string, bool) {
	k, v, ok := strings.Cut(kv, "=")
	if !ok || k == "" {
		return "", "", false
	}
	return k, v, true
}
