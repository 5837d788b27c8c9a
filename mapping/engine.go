package mapping

import (
	"encoding/json"
	"sort"
	"strings"
)

// The mapping grammar is a closed tagged union evaluated by one recursive
// function. A directive is either:
//
//   - a plain string: a path resolved against the build context;
//   - {"type": "object", "mapping": {...}}: a recursively built sub-object;
//   - {"type": "array", "source": path, "mapping": {...}}: source resolves
//     to a sequence and mapping is evaluated once per element, against that
//     element only.
//
// Unknown shapes produce no key instead of erroring: a degraded-but-sent
// request beats a hard failure on an optional field.
const (
	directiveObject = "object"
	directiveArray  = "array"
)

const (
	templateOpen  = "{{"
	templateClose = "}}"
)

// DecodeMapping parses a stored mapping tree. Empty input yields an empty
// mapping rather than an error.
func DecodeMapping(raw []byte) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return map[string]interface{}{}, nil
	}
	var spec map[string]interface{}
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, err
	}
	return spec, nil
}

// ToContext converts any JSON-serializable value into the map shape the
// resolver traverses.
func ToContext(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// BuildRequest compiles a mapping tree plus a context into an outbound
// payload. Pure: no I/O, deterministic for identical inputs. Spec keys may
// themselves be dotted paths; they are written through Set so
// "customer.name" lands as a nested object.
func BuildRequest(spec map[string]interface{}, context map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	for _, key := range sortedKeys(spec) {
		value, ok := evalDirective(spec[key], context)
		if !ok {
			continue
		}
		Set(out, key, value)
	}
	return out
}

// ExtractResponse applies the same grammar to a response payload, producing
// a flat set of field -> value assignments. Nested object directives
// flatten with dotted keys. The caller applies the assignments with its own
// business rules; this function never touches a record.
func ExtractResponse(spec map[string]interface{}, response map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	extractInto(out, "", spec, response)
	return out
}

func extractInto(out map[string]interface{}, prefix string, spec map[string]interface{}, context map[string]interface{}) {
	for _, key := range sortedKeys(spec) {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		directive := spec[key]
		if sub, ok := objectMapping(directive); ok {
			extractInto(out, full, sub, context)
			continue
		}
		value, ok := evalDirective(directive, context)
		if !ok {
			continue
		}
		out[full] = value
	}
}

func evalDirective(directive interface{}, context map[string]interface{}) (interface{}, bool) {
	switch d := directive.(type) {
	case string:
		return Get(context, d)
	case map[string]interface{}:
		kind, _ := d["type"].(string)
		switch kind {
		case directiveObject:
			sub, ok := d["mapping"].(map[string]interface{})
			if !ok {
				return nil, false
			}
			return BuildRequest(sub, context), true
		case directiveArray:
			source, _ := d["source"].(string)
			sub, ok := d["mapping"].(map[string]interface{})
			if !ok || source == "" {
				return nil, false
			}
			resolved, ok := Get(context, source)
			if !ok {
				return nil, false
			}
			elements, ok := resolved.([]interface{})
			if !ok {
				return nil, false
			}
			// Output length always equals source length, including zero.
			items := make([]interface{}, 0, len(elements))
			for _, element := range elements {
				elementCtx, _ := element.(map[string]interface{})
				items = append(items, BuildRequest(sub, elementCtx))
			}
			return items, true
		default:
			return nil, false
		}
	default:
		return nil, false
	}
}

func objectMapping(directive interface{}) (map[string]interface{}, bool) {
	d, ok := directive.(map[string]interface{})
	if !ok {
		return nil, false
	}
	if kind, _ := d["type"].(string); kind != directiveObject {
		return nil, false
	}
	sub, ok := d["mapping"].(map[string]interface{})
	return sub, ok
}

// ResolveHeaders resolves config header values against the build context.
// A value that is entirely a {{path}} template is replaced by the resolved
// value; unresolvable templates drop the header; plain strings pass through.
func ResolveHeaders(headers map[string]string, context map[string]interface{}) map[string]string {
	out := make(map[string]string, len(headers))
	for name, value := range headers {
		trimmed := strings.TrimSpace(value)
		if strings.HasPrefix(trimmed, templateOpen) && strings.HasSuffix(trimmed, templateClose) {
			path := strings.TrimSpace(trimmed[len(templateOpen) : len(trimmed)-len(templateClose)])
			resolved, ok := Get(context, path)
			if !ok {
				continue
			}
			out[name] = stringify(resolved)
			continue
		}
		out[name] = value
	}
	return out
}

func stringify(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Stable evaluation order keeps BuildRequest deterministic for
	// identical inputs.
	sort.Strings(keys)
	return keys
}
