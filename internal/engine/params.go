package engine

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// paramLine matches a tagged assignment. Only whole lines of the form
// `name = <anything>  # PARAM` are rewritten; everything else in the script
// passes through untouched.
var paramLine = regexp.MustCompile(`^(\s*)(\w+)\s*=\s*.*#\s*PARAM\s*$`)

// applyParams rewrites tagged assignments with the provided parameter values.
// Values are rendered as Python literals, so only JSON-shaped values are
// representable. Parameters that match no tagged line are ignored: the script
// decides which knobs it exposes.
func applyParams(script string, params map[string]any) (string, error) {
	if len(params) == 0 {
		return script, nil
	}

	lines := strings.Split(script, "\n")
	for i, line := range lines {
		m := paramLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name := m[2]
		value, ok := params[name]
		if !ok {
			continue
		}
		literal, err := pythonLiteral(value)
		if err != nil {
			return "", fmt.Errorf("parameter %q: %w", name, err)
		}
		lines[i] = m[1] + name + " = " + literal + "  # PARAM"
	}

	return strings.Join(lines, "\n"), nil
}

// pythonLiteral renders a JSON-decoded value as a Python literal.
func pythonLiteral(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "None", nil
	case bool:
		if val {
			return "True", nil
		}
		return "False", nil
	case string:
		return strconv.Quote(val), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64), nil
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			lit, err := pythonLiteral(item)
			if err != nil {
				return "", err
			}
			parts[i] = lit
		}
		return "[" + strings.Join(parts, ", ") + "]", nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			lit, err := pythonLiteral(val[k])
			if err != nil {
				return "", err
			}
			parts = append(parts, strconv.Quote(k)+": "+lit)
		}
		return "{" + strings.Join(parts, ", ") + "}", nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}
