// Package extract probes decoded JSON values for the first present field
// among a prioritized list of paths. Backend reply shapes vary (the same
// field may arrive top-level or wrapped under "result" or "response"), so
// every shape probe in the relay goes through this one helper.
package extract

// Path is a sequence of object keys leading to a candidate field.
type Path []string

// First walks each path in order over a decoded JSON value and returns the
// first string found, with ok=false when no path yields a string.
func First(v any, paths ...Path) (string, bool) {
	for _, p := range paths {
		cur := v
		ok := true
		for _, key := range p {
			m, isMap := cur.(map[string]any)
			if !isMap {
				ok = false
				break
			}
			cur, isMap = m[key]
			if !isMap {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		if s, isStr := cur.(string); isStr {
			return s, true
		}
	}
	return "", false
}

// FirstNonEmpty is First restricted to non-empty strings.
func FirstNonEmpty(v any, paths ...Path) (string, bool) {
	for _, p := range paths {
		if s, ok := First(v, p); ok && s != "" {
			return s, true
		}
	}
	return "", false
}
