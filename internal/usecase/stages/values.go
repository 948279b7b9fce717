package stages

import (
	"fmt"

	"github.com/kailas-cloud/askdb/internal/domain/schema"
	"github.com/kailas-cloud/askdb/internal/usecase/pipeline"
)

func text(in pipeline.Values, port string) (string, error) {
	v, ok := in[port]
	if !ok {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("input %q: expected text, got %T", port, v)
	}
	return s, nil
}

func texts(in pipeline.Values, port string) ([]string, error) {
	switch v := in[port].(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			out = append(out, fmt.Sprint(e))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("input %q: expected text list, got %T", port, v)
	}
}

func subset(in pipeline.Values, port string) (schema.Subset, error) {
	switch v := in[port].(type) {
	case nil:
		return schema.NewSubset(), nil
	case schema.Subset:
		return v, nil
	case *schema.Subset:
		return *v, nil
	default:
		return schema.Subset{}, fmt.Errorf("input %q: expected schema subset, got %T", port, v)
	}
}
