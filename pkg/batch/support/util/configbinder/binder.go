// Package configbinder binds loosely typed key/value properties onto
// configuration structs through their yaml tags.
package configbinder

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// BindProperties binds a map of properties to a target struct.
// The target struct uses `yaml` tags; string values are converted to numbers,
// bools, etc. Fields absent from props are left untouched.
func BindProperties(props map[string]interface{}, target interface{}) error {
	if len(props) == 0 {
		return nil
	}

	config := &mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		TagName:          "yaml",
		DecodeHook:       mapstructure.StringToSliceHookFunc(","),
	}

	decoder, err := mapstructure.NewDecoder(config)
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}

	if err := decoder.Decode(props); err != nil {
		targetType := reflect.TypeOf(target)
		if targetType.Kind() == reflect.Ptr {
			targetType = targetType.Elem()
		}
		return fmt.Errorf("failed to bind properties to struct %s: %w", targetType.Name(), err)
	}
	return nil
}

// BindAssignments binds "dotted.key.path=value" assignments (as given with
// repeated --set flags) onto target.
func BindAssignments(assignments []string, target interface{}) error {
	props := make(map[string]interface{})
	for _, assignment := range assignments {
		key, value, ok := strings.Cut(assignment, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return fmt.Errorf("invalid assignment %q: expected key=value", assignment)
		}
		if err := setPath(props, strings.Split(key, "."), value); err != nil {
			return fmt.Errorf("invalid assignment %q: %w", assignment, err)
		}
	}
	return BindProperties(props, target)
}

func setPath(node map[string]interface{}, path []string, value string) error {
	head := path[0]
	if len(path) == 1 {
		if _, exists := node[head].(map[string]interface{}); exists {
			return fmt.Errorf("%q is a section, not a value", head)
		}
		node[head] = value
		return nil
	}
	child, ok := node[head].(map[string]interface{})
	if !ok {
		if _, isValue := node[head]; isValue {
			return fmt.Errorf("%q is a value, not a section", head)
		}
		child = make(map[string]interface{})
		node[head] = child
	}
	return setPath(child, path[1:], value)
}
