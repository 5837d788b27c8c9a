package mapping

import "strings"

// Get traverses nested maps along a dot-separated path. The second return
// is false when any intermediate key is missing or a non-map is reached
// before the terminal segment; missing keys never panic.
func Get(context map[string]interface{}, path string) (interface{}, bool) {
	if context == nil || path == "" {
		return nil, false
	}
	segments := strings.Split(path, ".")
	var current interface{} = context
	for _, seg := range segments {
		node, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = node[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Set assigns value at a dot-separated path, creating intermediate maps as
// needed. Last-write-wins on overlapping paths; an intermediate non-map
// value is replaced by a map so the deeper write can land.
func Set(target map[string]interface{}, path string, value interface{}) {
	if target == nil || path == "" {
		return
	}
	segments := strings.Split(path, ".")
	node := target
	for _, seg := range segments[:len(segments)-1] {
		next, ok := node[seg].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			node[seg] = next
		}
		node = next
	}
	node[segments[len(segments)-1]] = value
}
