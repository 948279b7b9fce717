package pipeline

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/kailas-cloud/askdb/internal/config"
	"github.com/kailas-cloud/askdb/internal/domain/pipeline"
)

// condition is a compiled config.ConditionConfig.
type condition struct {
	root     pipeline.Key
	path     []string
	operator string
	value    any // JSON-normalized
}

func compileCondition(c config.ConditionConfig) (condition, error) {
	if !config.IsOperator(c.Operator) {
		return condition{}, fmt.Errorf("unknown operator %q", c.Operator)
	}
	parts := strings.Split(c.Key, ".")
	if parts[0] == "" {
		return condition{}, fmt.Errorf("empty condition key")
	}
	value, err := normalize(c.Value)
	if err != nil {
		return condition{}, fmt.Errorf("condition value: %w", err)
	}
	return condition{root: pipeline.Key(parts[0]), path: parts[1:], operator: c.Operator, value: value}, nil
}

func (c condition) String() string {
	key := string(c.root)
	if len(c.path) > 0 {
		key += "." + strings.Join(c.path, ".")
	}
	return fmt.Sprintf("%s %s %v", key, c.operator, c.value)
}

// eval reports whether the condition holds over pc.
func (c condition) eval(pc *pipeline.Context) (bool, error) {
	actual, found, err := c.resolve(pc)
	if err != nil {
		return false, err
	}
	switch c.operator {
	case "exists":
		return found, nil
	case "not_exists":
		return !found, nil
	}
	if !found {
		return false, nil
	}

	switch c.operator {
	case "eq":
		return reflect.DeepEqual(actual, c.value), nil
	case "neq":
		return !reflect.DeepEqual(actual, c.value), nil
	case "contains":
		return contains(actual, c.value), nil
	case "in":
		return contains(c.value, actual), nil
	case "gt", "lt":
		cmp, ok := compare(actual, c.value)
		if !ok {
			return false, fmt.Errorf("cannot order %T and %T", actual, c.value)
		}
		if c.operator == "gt" {
			return cmp > 0, nil
		}
		return cmp < 0, nil
	default:
		return false, fmt.Errorf("unknown operator %q", c.operator)
	}
}

// resolve walks the dot path through the JSON form of the root value.
func (c condition) resolve(pc *pipeline.Context) (any, bool, error) {
	raw, ok := pc.Get(c.root)
	if !ok {
		return nil, false, nil
	}
	cur, err := normalize(raw)
	if err != nil {
		return nil, false, fmt.Errorf("condition on %q: %w", c.root, err)
	}
	for _, seg := range c.path {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false, nil
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false, nil
			}
			cur = node[i]
		default:
			return nil, false, nil
		}
	}
	return cur, cur != nil, nil
}

// normalize maps any value onto JSON types (map[string]any, []any, float64,
// string, bool, nil) so configured values compare with runtime structs.
func normalize(v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, float64:
		return v, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		s, ok := needle.(string)
		return ok && strings.Contains(h, s)
	case []any:
		for _, e := range h {
			if reflect.DeepEqual(e, needle) {
				return true
			}
		}
	case map[string]any:
		s, ok := needle.(string)
		if ok {
			_, has := h[s]
			return has
		}
	}
	return false
}

func compare(a, b any) (int, bool) {
	switch x := a.(type) {
	case float64:
		y, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	}
	return 0, false
}
