package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	apperrors "github.com/louisbranch/gamebuckets/internal/platform/errors"
	"github.com/tidwall/gjson"
)

// Kind tags a document node.
type Kind uint8

const (
	// KindScalar holds raw text.
	KindScalar Kind = iota
	// KindObject maps names to child nodes.
	KindObject
)

// Node is one position of a document tree: Scalar(text) or Object(children).
type Node struct {
	kind     Kind
	text     string
	children map[string]*Node
}

// NewScalar returns a scalar node holding text verbatim.
func NewScalar(text string) *Node {
	return &Node{kind: KindScalar, text: text}
}

// NewObject returns an empty object node.
func NewObject() *Node {
	return &Node{kind: KindObject, children: map[string]*Node{}}
}

// ParseValue interprets stored or caller-supplied text. A JSON object becomes
// an Object tree; every other string is a Scalar.
func ParseValue(raw string) *Node {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") || !gjson.Valid(trimmed) {
		return NewScalar(raw)
	}
	return nodeFromResult(gjson.Parse(trimmed))
}

func nodeFromResult(result gjson.Result) *Node {
	if result.IsObject() {
		node := NewObject()
		result.ForEach(func(name, value gjson.Result) bool {
			node.children[name.String()] = nodeFromResult(value)
			return true
		})
		return node
	}
	switch result.Type {
	case gjson.String:
		return NewScalar(result.Str)
	case gjson.Null:
		return NewScalar("")
	default:
		// numbers, booleans and arrays keep their JSON text
		return NewScalar(result.Raw)
	}
}

// ValidateValue rejects raw when writing it at key would place text that is not
// valid UTF-8 inside an Object, where encoding would replace the bad bytes.
// A Scalar written at a root is stored as given.
func ValidateValue(key Key, raw string) error {
	if utf8.ValidString(raw) {
		return nil
	}
	if key.IsRoot() && !ParseValue(raw).IsObject() {
		return nil
	}
	return apperrors.WithMetadata(
		apperrors.CodeBucketInvalidValue,
		"nested bucket value is not valid UTF-8",
		map[string]string{"key": key.String()},
	)
}

// Kind returns the node tag.
func (n *Node) Kind() Kind {
	return n.kind
}

// IsObject reports whether n is an Object.
func (n *Node) IsObject() bool {
	return n != nil && n.kind == KindObject
}

// IsScalar reports whether n is a Scalar.
func (n *Node) IsScalar() bool {
	return n != nil && n.kind == KindScalar
}

// HasChildren reports whether n is an Object with at least one child.
func (n *Node) HasChildren() bool {
	return n.IsObject() && len(n.children) > 0
}

// Len returns the number of children of an Object, zero for a Scalar.
func (n *Node) Len() int {
	if !n.IsObject() {
		return 0
	}
	return len(n.children)
}

// Text returns the raw text of a Scalar.
func (n *Node) Text() string {
	if !n.IsScalar() {
		return ""
	}
	return n.text
}

// Child returns the named child of an Object.
func (n *Node) Child(name string) (*Node, bool) {
	if !n.IsObject() {
		return nil, false
	}
	child, ok := n.children[name]
	return child, ok
}

// Lookup descends through Object children along path. A missing segment or
// a Scalar reached with path left over yields false.
func (n *Node) Lookup(path []string) (*Node, bool) {
	current := n
	for _, segment := range path {
		child, ok := current.Child(segment)
		if !ok {
			return nil, false
		}
		current = child
	}
	return current, true
}

// Protects reports whether replacing n with value would discard a
// child-bearing Object in favour of a Scalar.
func (n *Node) Protects(value *Node) bool {
	return n.HasChildren() && value.IsScalar()
}

// Assign stores value at path below n, creating intermediate Objects and
// coercing intermediate Scalars to Objects. It returns false without any
// mutation when the terminal position is protected. n must be an Object and
// path must not be empty.
func (n *Node) Assign(path []string, value *Node) bool {
	if !n.IsObject() || len(path) == 0 {
		return false
	}
	if existing, ok := n.Lookup(path); ok && existing.Protects(value) {
		return false
	}

	parent := n
	for _, segment := range path[:len(path)-1] {
		child, ok := parent.children[segment]
		if !ok || !child.IsObject() {
			child = NewObject()
			parent.children[segment] = child
		}
		parent = child
	}
	parent.children[path[len(path)-1]] = value
	return true
}

// Remove deletes the terminal segment of path from its parent Object. It
// reports whether anything was removed.
func (n *Node) Remove(path []string) bool {
	if len(path) == 0 {
		return false
	}
	parent, ok := n.Lookup(path[:len(path)-1])
	if !ok || !parent.IsObject() {
		return false
	}
	name := path[len(path)-1]
	if _, ok := parent.children[name]; !ok {
		return false
	}
	delete(parent.children, name)
	return true
}

// Encode renders a Scalar as its raw text and an Object as compact JSON with
// keys in sorted order.
func (n *Node) Encode() (string, error) {
	if n == nil {
		return "", nil
	}
	if n.IsScalar() {
		return n.text, nil
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(n.plain()); err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// plain converts n into values encoding/json marshals deterministically.
func (n *Node) plain() any {
	if n.IsScalar() {
		return n.text
	}
	out := make(map[string]any, len(n.children))
	for name, child := range n.children {
		out[name] = child.plain()
	}
	return out
}
