package config

import (
	"sort"
	"strings"
)

// secretKeys are the dot keys whose values are masked when listed.
var secretKeys = map[string]bool{
	"http.token": true,
}

// IsSecretKey reports whether the dot key holds a secret.
func IsSecretKey(key string) bool {
	return secretKeys[key]
}

// Flatten turns nested objects into dot keys: {"eye": {"command": "x"}}
// becomes {"eye.command": "x"}. Lists are leaves.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			if prefix != "" {
				k = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(k, child)
				continue
			}
			out[k] = v
		}
	}
	walk("", m)
	return out
}

// Unflatten is the inverse of Flatten. A leaf that collides with a deeper
// key is replaced by an object.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range flat {
		setPath(out, strings.Split(k, "."), v)
	}
	return out
}

func setPath(m map[string]any, path []string, v any) {
	for _, part := range path[:len(path)-1] {
		next, ok := m[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[part] = next
		}
		m = next
	}
	m[path[len(path)-1]] = v
}

// MaskSecrets returns a copy with secret strings shown as "***" plus their
// last four characters. Empty values stay empty.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		out[k] = v
		if s, ok := v.(string); ok && secretKeys[k] && s != "" {
			out[k] = "***" + s[max(0, len(s)-4):]
		}
	}
	return out
}

// SortedKeys returns the keys of a flat map in lexical order.
func SortedKeys(flat map[string]any) []string {
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
