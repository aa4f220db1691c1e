// Package fieldpath resolves dot-separated paths such as "land.market_value"
// inside nested payload maps.
package fieldpath

import (
	"fmt"
	"reflect"
	"strings"
)

// Path is a parsed dot-separated field path.
type Path []string

// Parse splits a dot-separated path into components.
func Parse(path string) (Path, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("path cannot be empty")
	}
	components := strings.Split(path, ".")
	for i, component := range components {
		if component == "" {
			return nil, fmt.Errorf("path %q component %d is empty", path, i)
		}
	}
	return Path(components), nil
}

func (p Path) String() string {
	return strings.Join(p, ".")
}

// Lookup walks the path through nested maps. Missing intermediate keys, nil
// values and non-map intermediates all yield (nil, false) instead of an error.
func Lookup(root any, path Path) (any, bool) {
	current := root
	for _, component := range path {
		next, ok := child(current, component)
		if !ok {
			return nil, false
		}
		current = next
	}
	if current == nil {
		return nil, false
	}
	return current, true
}

func child(node any, key string) (any, bool) {
	switch typed := node.(type) {
	case nil:
		return nil, false
	case map[string]any:
		value, ok := typed[key]
		return value, ok
	case map[string]float64:
		value, ok := typed[key]
		return value, ok
	case map[string]string:
		value, ok := typed[key]
		return value, ok
	}
	v := reflect.ValueOf(node)
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, false
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Map || v.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	value := v.MapIndex(reflect.ValueOf(key).Convert(v.Type().Key()))
	if !value.IsValid() {
		return nil, false
	}
	return value.Interface(), true
}
