// Package env composes the environment handed to spawned servers.
package env

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

type Var map[string]string

// Env layers configured variables over a base taken from the manager's own
// environment.
type Env struct {
	Var  Var // manager-wide overrides (K->V)
	base Var // cached OS environment
}

func New() *Env {
	return &Env{Var: make(Var)}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	e.base = make(Var)
	for _, kv := range os.Environ() {
		if k, v, ok := split(kv); ok {
			e.base[k] = v
		}
	}
}

// Set sets a variable K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// Unset removes a variable.
func (e *Env) Unset(k string) {
	delete(e.Var, k)
}

// Merge returns the environment for one server: the OS base, then e.Var,
// then perRole entries ("K=V"). Values may reference other variables as
// $NAME or ${NAME}; references resolve against the merged map without
// recursion. The result is sorted by key.
func (e *Env) Merge(perRole []string) []string {
	if e.base == nil {
		e.FromOS()
	}
	m := make(Var, len(e.base)+len(e.Var)+len(perRole))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.Var {
		if k != "" {
			m[k] = v
		}
	}
	for _, kv := range perRole {
		if k, v, ok := split(kv); ok {
			m[k] = v
		}
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		v := os.Expand(m[k], func(name string) string { return m[name] })
		out = append(out, k+"="+v)
	}
	return out
}

// Validate checks that every entry has the K=V form with a non-empty key.
func Validate(kvs []string) error {
	for i, kv := range kvs {
		if _, _, ok := split(kv); !ok {
			return fmt.Errorf("env[%d] %q: want KEY=VALUE", i, kv)
		}
	}
	return nil
}

func split(kv string) (string, string, bool) {
	k, v, ok := strings.Cut(kv, "=")
	if !ok || k == "" {
		return "", "", false
	}
	return k, v, true
}
