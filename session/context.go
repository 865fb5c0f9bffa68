package session

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/bytedance/sonic/ast"
)

// Well-known context keys written by the coordinator.
const (
	KeyInput         = "input"
	KeyCodeExpiresAt = "code_expires_at"
	KeyVerifiedAt    = "verified_at"
)

// Context is an insertion-ordered string map carried by a session. The zero value
// is empty and ready to use. It is not safe for concurrent mutation; sessions are
// only mutated under the entity lock.
type Context struct {
	keys   []string
	values map[string]string
}

// NewContext returns an empty Context.
func NewContext() *Context {
	return &Context{}
}

// Get returns the value under key.
func (c *Context) Get(key string) (string, bool) {
	if c == nil || c.values == nil {
		return "", false
	}
	v, ok := c.values[key]
	return v, ok
}

// Set stores value under key. Existing keys keep their position.
func (c *Context) Set(key, value string) {
	if c.values == nil {
		c.values = make(map[string]string)
	}
	if _, ok := c.values[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.values[key] = value
}

// Delete removes key.
func (c *Context) Delete(key string) {
	if c == nil || c.values == nil {
		return
	}
	if _, ok := c.values[key]; !ok {
		return
	}
	delete(c.values, key)
	for i, k := range c.keys {
		if k == key {
			c.keys = append(c.keys[:i], c.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (c *Context) Keys() []string {
	if c == nil {
		return nil
	}
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

// Len returns the number of entries.
func (c *Context) Len() int {
	if c == nil {
		return 0
	}
	return len(c.keys)
}

// Clone returns a deep copy. Cloning nil yields an empty Context.
func (c *Context) Clone() *Context {
	out := NewContext()
	if c == nil {
		return out
	}
	for _, k := range c.keys {
		out.Set(k, c.values[k])
	}
	return out
}

// Map returns an unordered copy of the entries.
func (c *Context) Map() map[string]string {
	out := make(map[string]string, c.Len())
	if c == nil {
		return out
	}
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// MarshalJSON encodes the context as a JSON object in insertion order.
func (c *Context) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if c != nil {
		for i, k := range c.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := sonic.Marshal(k)
			if err != nil {
				return nil, err
			}
			vb, err := sonic.Marshal(c.values[k])
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			buf.Write(vb)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object of strings, keeping the source key order.
func (c *Context) UnmarshalJSON(data []byte) error {
	fresh := Context{}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*c = fresh
		return nil
	}

	root, err := sonic.Get(data)
	if err != nil {
		return fmt.Errorf("session context: %w", err)
	}
	if err := root.LoadAll(); err != nil {
		return fmt.Errorf("session context: %w", err)
	}

	var walkErr error
	err = root.ForEach(func(path ast.Sequence, node *ast.Node) bool {
		if path.Key == nil {
			walkErr = errors.New("session context: expected a JSON object")
			return false
		}
		v, err := node.String()
		if err != nil {
			walkErr = fmt.Errorf("session context: value of %q: %w", *path.Key, err)
			return false
		}
		fresh.Set(*path.Key, v)
		return true
	})
	if err != nil {
		return fmt.Errorf("session context: %w", err)
	}
	if walkErr != nil {
		return walkErr
	}

	*c = fresh
	return nil
}
