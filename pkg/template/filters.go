package template

import (
	"encoding/base64"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// filterFunc applies a filter to x with its call-site arguments already
// evaluated. Errors are wrapped into a TemplateError by the caller.
type filterFunc func(x any, args []any) (any, error)

// filters is the mandatory filter table. Every entry here is named in
// SPEC_FULL.md's template engine section; additions are not expected.
var filters = map[string]filterFunc{
	"default": filterDefault,
	"lower":   filterLower,
	"upper":   filterUpper,
	"trim":    filterTrim,
	"replace": filterReplace,
	"regex_replace": filterRegexReplace,
	"to_json": filterToJSON,
	"to_yaml": filterToYAML,
	"join":    filterJoin,
	"first":   filterFirst,
	"last":    filterLast,
	"length":  filterLength,
	"int":     filterInt,
	"bool":    filterBool,
	"string":  filterString,
	"basename": filterBasename,
	"dirname":  filterDirname,
	"b64encode": filterB64Encode,
	"b64decode": filterB64Decode,
	"combine":   filterCombine,
}

func filterDefault(x any, args []any) (any, error) {
	omitFalsy := false
	if len(args) > 1 {
		omitFalsy = truthy(args[1])
	}
	isUndef := false
	if _, ok := x.(undefined); ok {
		isUndef = true
	}
	if isUndef || (omitFalsy && !truthy(x)) {
		if len(args) == 0 {
			return nil, fmt.Errorf("default() requires a fallback value")
		}
		return args[0], nil
	}
	return x, nil
}

func filterLower(x any, _ []any) (any, error) { return strings.ToLower(toString(x)), nil }
func filterUpper(x any, _ []any) (any, error) { return strings.ToUpper(toString(x)), nil }
func filterTrim(x any, _ []any) (any, error)  { return strings.TrimSpace(toString(x)), nil }

func filterReplace(x any, args []any) (any, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("replace(from, to) requires two arguments")
	}
	return strings.ReplaceAll(toString(x), toString(args[0]), toString(args[1])), nil
}

func filterRegexReplace(x any, args []any) (any, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("regex_replace(pattern, repl) requires two arguments")
	}
	re, err := regexp.Compile(toString(args[0]))
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return re.ReplaceAllString(toString(x), toGoReplacement(toString(args[1]))), nil
}

// toGoReplacement rewrites Python/Jinja-style \1 backreferences to Go's $1 form.
func toGoReplacement(repl string) string {
	re := regexp.MustCompile(`\\(\d+)`)
	return re.ReplaceAllString(repl, "$$$1")
}

func filterToJSON(x any, _ []any) (any, error) {
	b, err := marshalJSON(x)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func filterToYAML(x any, _ []any) (any, error) {
	b, err := yaml.Marshal(x)
	if err != nil {
		return nil, err
	}
	return strings.TrimRight(string(b), "\n"), nil
}

func filterJoin(x any, args []any) (any, error) {
	sep := ""
	if len(args) > 0 {
		sep = toString(args[0])
	}
	list, ok := x.([]any)
	if !ok {
		return nil, fmt.Errorf("join() requires a list")
	}
	parts := make([]string, len(list))
	for i, v := range list {
		parts[i] = toString(v)
	}
	return strings.Join(parts, sep), nil
}

func filterFirst(x any, _ []any) (any, error) {
	list, ok := x.([]any)
	if !ok || len(list) == 0 {
		return nil, fmt.Errorf("first() requires a non-empty list")
	}
	return list[0], nil
}

func filterLast(x any, _ []any) (any, error) {
	list, ok := x.([]any)
	if !ok || len(list) == 0 {
		return nil, fmt.Errorf("last() requires a non-empty list")
	}
	return list[len(list)-1], nil
}

func filterLength(x any, _ []any) (any, error) {
	switch t := x.(type) {
	case []any:
		return float64(len(t)), nil
	case map[string]any:
		return float64(len(t)), nil
	case string:
		return float64(len([]rune(t))), nil
	default:
		return nil, fmt.Errorf("length() requires a string, list or mapping")
	}
}

func filterInt(x any, args []any) (any, error) {
	f, ok := toFloat(x)
	if !ok {
		if len(args) > 0 {
			return args[0], nil
		}
		return nil, fmt.Errorf("int() requires a numeric or numeric-looking value")
	}
	return float64(int64(f)), nil
}

func filterBool(x any, _ []any) (any, error) { return truthy(x), nil }
func filterString(x any, _ []any) (any, error) { return toString(x), nil }

func filterBasename(x any, _ []any) (any, error) { return path.Base(toString(x)), nil }
func filterDirname(x any, _ []any) (any, error)  { return path.Dir(toString(x)), nil }

func filterB64Encode(x any, _ []any) (any, error) {
	return base64.StdEncoding.EncodeToString([]byte(toString(x))), nil
}

func filterB64Decode(x any, _ []any) (any, error) {
	b, err := base64.StdEncoding.DecodeString(toString(x))
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	return string(b), nil
}

func filterCombine(x any, args []any) (any, error) {
	base, ok := x.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("combine() requires a mapping")
	}
	out := map[string]any{}
	for k, v := range base {
		out[k] = v
	}
	for _, a := range args {
		m, ok := a.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("combine() arguments must be mappings")
		}
		for k, v := range m {
			out[k] = v
		}
	}
	return out, nil
}

// sortedKeys is used by to_json/to_yaml-adjacent diagnostics; kept here
// rather than in render.go since only filters need deterministic key order.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
