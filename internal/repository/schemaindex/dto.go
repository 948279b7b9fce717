package schemaindex

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/kailas-cloud/askdb/internal/domain/schema"
)

// Hash field names of a stored element.
const (
	fieldKind        = "kind"
	fieldName        = "name"
	fieldParent      = "parent"
	fieldDescription = "description"
	fieldDataType    = "data_type"
	fieldHash        = "hash"
	fieldVector      = "vector"
)

// toHash flattens a record for HSET. The vector field is omitted for
// elements without an embedding so the search index skips them.
func toHash(rec schema.Indexed) map[string]string {
	e := rec.Element
	m := map[string]string{
		fieldKind:        string(e.Kind()),
		fieldName:        e.QualifiedName(),
		fieldParent:      e.Parent(),
		fieldDescription: e.Description(),
		fieldDataType:    e.DataType(),
		fieldHash:        rec.Hash,
	}
	if e.HasEmbedding() {
		m[fieldVector] = vectorToBytes(e.Embedding())
	}
	return m
}

func fromHash(m map[string]string) (schema.Indexed, error) {
	kind, err := schema.ParseKind(m[fieldKind])
	if err != nil {
		return schema.Indexed{}, err
	}
	name := m[fieldName]
	if name == "" {
		return schema.Indexed{}, fmt.Errorf("missing %s field", fieldName)
	}
	e := schema.New(kind, name, m[fieldParent], m[fieldDescription]).WithDataType(m[fieldDataType])
	if raw, ok := m[fieldVector]; ok && raw != "" {
		vec, err := bytesToVector(raw)
		if err != nil {
			return schema.Indexed{}, fmt.Errorf("element %s: %w", name, err)
		}
		e = e.WithEmbedding(vec)
	}
	return schema.Indexed{Element: e, Hash: m[fieldHash]}, nil
}

// vectorToBytes serializes []float32 as little-endian float32, the FT.SEARCH blob format.
func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}

func bytesToVector(s string) ([]float32, error) {
	b := []byte(s)
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid vector length %d", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// cosine returns the cosine similarity of a and b, or 0 when undefined.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func kindStrings(kinds []schema.Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}
