package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/labelstack/runner/models"
)

// Snapshot converts an os.Environ style "key=value" list into an immutable
// external-values map. The snapshot is taken once at startup and passed in
// explicitly; nothing else reads ambient environment state.
func Snapshot(environ []string) map[string]string {
	out := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		out[k] = v
	}
	return out
}

// ResolveEnvironment expands every binding expression of a service into a
// flat name -> value map. Resolution is pure: the same bindings and snapshot
// always produce the same mapping. A reference to an absent external value
// with no default fails with a ResolutionError naming the variable.
func ResolveEnvironment(service string, bindings map[string]string, external map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(bindings))
	for name, expr := range bindings {
		v, err := Expand(expr, external)
		if err != nil {
			var re *models.ResolutionError
			if errors.As(err, &re) {
				re.Service = service
			}
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

// Expand substitutes external-value references inside a binding expression.
//
//	literal text        passes through unchanged
//	${NAME}             required: absent external value is an error
//	${NAME-default}     default applies only when NAME is absent; a value
//	                    that is present but empty stays empty
//	${NAME:-default}    default applies when NAME is absent or empty
//	$$                  a literal dollar sign
//
// References may appear inline in a larger string, so append-style bindings
// like "${PYTHONPATH-}:/labeling_root" work.
func Expand(expr string, external map[string]string) (string, error) {
	var b strings.Builder

	for i := 0; i < len(expr); i++ {
		c := expr[i]
		if c != '$' {
			b.WriteByte(c)
			continue
		}
		if i+1 < len(expr) && expr[i+1] == '$' {
			b.WriteByte('$')
			i++
			continue
		}
		if i+1 >= len(expr) || expr[i+1] != '{' {
			// A bare dollar is kept as-is.
			b.WriteByte(c)
			continue
		}

		end := strings.IndexByte(expr[i+2:], '}')
		if end < 0 {
			return "", fmt.Errorf("unterminated reference in %q", expr)
		}
		ref := expr[i+2 : i+2+end]
		i += 2 + end

		v, err := lookup(ref, external)
		if err != nil {
			return "", err
		}
		b.WriteString(v)
	}

	return b.String(), nil
}

func lookup(ref string, external map[string]string) (string, error) {
	name, def, mode := splitRef(ref)
	if name == "" {
		return "", fmt.Errorf("empty variable reference ${%s}", ref)
	}

	v, ok := external[name]
	switch mode {
	case refRequired:
		if !ok {
			return "", &models.ResolutionError{Missing: name}
		}
		return v, nil
	case refDefaultIfUnset:
		if !ok {
			return def, nil
		}
		// Present but empty is a value, not an absence.
		return v, nil
	default: // refDefaultIfEmpty
		if !ok || v == "" {
			return def, nil
		}
		return v, nil
	}
}

type refMode int

const (
	refRequired refMode = iota
	refDefaultIfUnset
	refDefaultIfEmpty
)

func splitRef(ref string) (name, def string, mode refMode) {
	if i := strings.Index(ref, ":-"); i >= 0 {
		return ref[:i], ref[i+2:], refDefaultIfEmpty
	}
	if i := strings.IndexByte(ref, '-'); i >= 0 {
		return ref[:i], ref[i+1:], refDefaultIfUnset
	}
	return ref, "", refRequired
}

// EnvList renders a resolved mapping as a sorted "key=value" slice for the
// container config. Sorting keeps launches reproducible.
func EnvList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(out)
	return out
}
