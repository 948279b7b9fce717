package pipeline

import "sort"

// Context accumulates stage outputs within one run. Keys are never deleted.
// A Context belongs to a single run and is not safe for concurrent use.
type Context struct {
	values  map[Key]any
	writers map[Key]string
}

// RunInput is the writer recorded for values supplied before the first stage.
const RunInput = "$input"

// NewContext creates a context seeded with run inputs.
func NewContext(inputs map[Key]any) *Context {
	c := &Context{
		values:  make(map[Key]any, len(inputs)+8),
		writers: make(map[Key]string, len(inputs)+8),
	}
	for k, v := range inputs {
		c.values[k] = v
		c.writers[k] = RunInput
	}
	return c
}

// Get returns the value stored under k.
func (c *Context) Get(k Key) (any, bool) {
	v, ok := c.values[k]
	return v, ok
}

// Has reports whether k is present.
func (c *Context) Has(k Key) bool {
	_, ok := c.values[k]
	return ok
}

// Set stores v under k on behalf of writer (a stage id).
func (c *Context) Set(k Key, v any, writer string) {
	c.values[k] = v
	c.writers[k] = writer
}

// Writer returns the id of the stage that last wrote k.
func (c *Context) Writer(k Key) string { return c.writers[k] }

// Keys returns the present keys in lexical order.
func (c *Context) Keys() []Key {
	out := make([]Key, 0, len(c.values))
	for k := range c.values {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Snapshot returns a shallow copy of all values.
func (c *Context) Snapshot() map[Key]any {
	out := make(map[Key]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Lookup returns the value under k asserted to T.
func Lookup[T any](c *Context, k Key) (T, bool) {
	var zero T
	v, ok := c.values[k]
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}
