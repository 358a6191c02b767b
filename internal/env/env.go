// Package env composes the environment handed to the supervised service.
package env

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Var maps variable names to values.
type Var map[string]string

// Env layers variables on top of the orchestrator's own environment.
// Precedence, lowest first: OS env, Vars (env files and config), per-call overrides.
type Env struct {
	vars   Var
	base   Var
	noBase bool
}

func New() *Env {
	return &Env{vars: make(Var)}
}

// Isolated returns an Env that does not inherit the OS environment.
func Isolated() *Env {
	return &Env{vars: make(Var), base: make(Var), noBase: true}
}

// WithSet returns a copy of e with k=v applied.
func (e *Env) WithSet(k, v string) *Env {
	n := e.clone()
	if k != "" {
		n.vars[k] = v
	}
	return n
}

// WithPairs returns a copy of e with every KEY=VALUE entry of kvs applied.
// Entries without '=' or with an empty key are ignored.
func (e *Env) WithPairs(kvs []string) *Env {
	n := e.clone()
	for _, kv := range kvs {
		if k, v, ok := split(kv); ok {
			n.vars[k] = v
		}
	}
	return n
}

// WithFiles returns a copy of e with the contents of each .env file applied in order.
func (e *Env) WithFiles(paths ...string) (*Env, error) {
	n := e.clone()
	for _, p := range paths {
		m, err := LoadFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range m {
			n.vars[k] = v
		}
	}
	return n, nil
}

func (e *Env) clone() *Env {
	n := &Env{vars: make(Var, len(e.vars)), base: e.base, noBase: e.noBase}
	for k, v := range e.vars {
		n.vars[k] = v
	}
	return n
}

func (e *Env) osBase() Var {
	if e.base != nil || e.noBase {
		return e.base
	}
	base := make(Var)
	for _, kv := range os.Environ() {
		if k, v, ok := split(kv); ok {
			base[k] = v
		}
	}
	return base
}

// Merge composes the final KEY=VALUE list with perCall applied last.
// ${VAR} references are expanded once against the composed map (no recursion).
// The result is sorted by key.
func (e *Env) Merge(perCall []string) []string {
	m := make(Var)
	for k, v := range e.osBase() {
		m[k] = v
	}
	for k, v := range e.vars {
		m[k] = v
	}
	for _, kv := range perCall {
		if k, v, ok := split(kv); ok {
			m[k] = v
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out
}

// LoadFile parses a simple .env file with KEY=VALUE lines. Blank lines,
// lines starting with # and an optional "export " prefix are handled;
// surrounding quotes on values are stripped.
func LoadFile(path string) (Var, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read env file %s: %w", path, err)
	}
	m := make(Var)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		k, v, ok := split(line)
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		m[k] = unquote(strings.TrimSpace(v))
	}
	return m, nil
}

func split(kv string) (string, string, bool) {
	i := strings.IndexByte(kv, '=')
	if i <= 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}

func unquote(v string) string {
	if n := len(v); n >= 2 {
		if (v[0] == '"' && v[n-1] == '"') || (v[0] == '\'' && v[n-1] == '\'') {
			return v[1 : n-1]
		}
	}
	return v
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	res := s
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}
