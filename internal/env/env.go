package env

import (
	"os"
	"strings"
)

// Table maps variable names to values.
type Table map[string]string

// Env composes the environment handed to the capture process and to
// lifecycle hooks. Precedence, lowest to highest: OS environment (when
// enabled), supervisor variables set via Set, per-invocation extras.
type Env struct {
	useOS bool
	sup   Table // supervisor variables (SEBCAM_NAME, SEBCAM_PIDFILE, ...)
	base  Table // cached OS snapshot
}

func New(useOS bool) *Env {
	return &Env{useOS: useOS, sup: make(Table)}
}

// Set records a supervisor variable K=V.
func (e *Env) Set(k, v string) {
	if k == "" {
		return
	}
	if e.sup == nil {
		e.sup = make(Table)
	}
	e.sup[k] = v
}

// Unset removes a supervisor variable.
func (e *Env) Unset(k string) {
	if e.sup != nil {
		delete(e.sup, k)
	}
}

func (e *Env) snapshotOS() {
	base := make(Table)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			base[kv[:i]] = kv[i+1:]
		}
	}
	e.base = base
}

// Compose builds the final "K=V" slice. extras come from the capture spec
// and win over supervisor variables, which win over the OS snapshot.
// ${VAR} references are expanded against the composed table in a single
// pass; unknown references are left untouched.
func (e *Env) Compose(extras []string) []string {
	m := make(Table)
	if e.useOS {
		if e.base == nil {
			e.snapshotOS()
		}
		for k, v := range e.base {
			m[k] = v
		}
	}
	for k, v := range e.sup {
		m[k] = v
	}
	for _, kv := range extras {
		i := strings.IndexByte(kv, '=')
		if i <= 0 { // skip malformed entries with empty key
			continue
		}
		m[kv[:i]] = kv[i+1:]
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+Expand(v, m))
	}
	return out
}

// Expand replaces ${VAR} occurrences in s using the given table. No
// recursion: a value containing ${X} after one substitution stays as is.
func Expand(s string, m Table) string {
	if !strings.Contains(s, "${") {
		return s
	}
	res := s
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}
