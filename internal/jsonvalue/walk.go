package jsonvalue

import "strconv"

// Node is one position visited by Walk.
type Node struct {
	// Path is rooted at the walked value: "a.b[2].c". The root's path is "".
	Path string
	// Key is the member key when the node is an object member, else "".
	Key string
	// Owner is the nearest enclosing member key. For array elements it is
	// the key of the array; for members it equals Key.
	Owner string
	// Index is the element index for array elements, -1 otherwise.
	Index int
	Value Value
}

// Walk visits root and every nested value depth-first, parents before
// children, members and elements in document order.
func Walk(root Value, fn func(Node)) {
	walk(Node{Index: -1, Value: root}, fn)
}

func walk(n Node, fn func(Node)) {
	fn(n)
	switch n.Value.Kind() {
	case KindObject:
		for _, m := range n.Value.Members() {
			walk(Node{
				Path:  JoinKey(n.Path, m.Key),
				Key:   m.Key,
				Owner: m.Key,
				Index: -1,
				Value: m.Value,
			}, fn)
		}
	case KindArray:
		for i, item := range n.Value.Items() {
			walk(Node{
				Path:  JoinIndex(n.Path, i),
				Owner: n.Owner,
				Index: i,
				Value: item,
			}, fn)
		}
	}
}

// JoinKey appends an object key to a path using dot notation.
func JoinKey(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

// JoinIndex appends an array index to a path using bracket notation.
func JoinIndex(parent string, i int) string {
	return parent + "[" + strconv.Itoa(i) + "]"
}
