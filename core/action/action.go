// Package action implements a minimal radix-tree action dispatcher standing
// in for the "root action tree" spec treats as an external collaborator:
// core/conn resolves a request's method and path to a vrequest.Action and
// hands it to the VRequest, but how that tree is built and how deeply it
// can express routing logic is deliberately out of scope here.
//
// Adapted from core/router/radix.go, trimmed to exact-path and
// single-wildcard-segment matching (no catch-all in the middle of a path,
// no method-specific priority tuning beyond what the original tree already
// does) and retargeted to dispatch vrequest.Action instead of an arbitrary
// any-typed handler.
package action

import "github.com/liteworker/litehttpd/core/vrequest"

// Tree is a radix tree mapping method+path to a vrequest.Action.
type Tree struct {
	root *node
}

type nodeType uint8

const (
	static nodeType = iota
	param
	catchAll
)

type node struct {
	path      string
	indices   string
	children  []*node
	handlers  map[string]vrequest.Action
	priority  uint32
	nType     nodeType
	paramName string
}

// New creates an empty action tree.
func New() *Tree {
	return &Tree{root: &node{handlers: make(map[string]vrequest.Action)}}
}

// Add registers fn for method and path. path must start with "/"; segments
// of the form ":name" bind a path parameter, and a trailing "*name" binds
// the rest of the path.
func (t *Tree) Add(method, path string, fn vrequest.Action) {
	if path == "" || path[0] != '/' {
		panic("action: path must begin with '/'")
	}
	t.root.addRoute(method, path, fn)
}

// Find resolves method and path to an Action and any bound path parameters.
// Returns a nil Action if nothing matches.
func (t *Tree) Find(method, path string) (vrequest.Action, map[string]string) {
	if t.root == nil {
		return nil, nil
	}
	return t.root.getValue(method, path)
}

func (n *node) addRoute(method, path string, fn vrequest.Action) {
	if n.path == "" && len(n.children) == 0 {
		n.insertChild(method, path, fn)
		n.nType = static
		return
	}

	for {
		i := longestCommonPrefix(path, n.path)

		if i < len(n.path) {
			child := &node{
				path:     n.path[i:],
				indices:  n.indices,
				children: n.children,
				handlers: n.handlers,
				priority: n.priority - 1,
				nType:    n.nType,
			}
			n.children = []*node{child}
			n.indices = string([]byte{n.path[i]})
			n.path = path[:i]
			n.handlers = make(map[string]vrequest.Action)
			n.nType = static
		}

		if i < len(path) {
			path = path[i:]

			if n.nType == param {
				n.priority++
				continue
			}

			idxc := path[0]
			childFound := false
			for idx, c := range []byte(n.indices) {
				if c == idxc {
					n.priority++
					n = n.children[idx]
					childFound = true
					break
				}
			}
			if childFound {
				continue
			}

			if idxc != ':' && idxc != '*' {
				n.indices += string([]byte{idxc})
				child := &node{}
				n.addChild(child)
				n = child
			}
			n.insertChild(method, path, fn)
			return
		}

		if n.handlers == nil {
			n.handlers = make(map[string]vrequest.Action)
		}
		n.handlers[method] = fn
		return
	}
}

func (n *node) insertChild(method, path string, fn vrequest.Action) {
	for {
		wildcard, i, valid := findWildcard(path)
		if i < 0 {
			break
		}
		if !valid {
			panic("action: only one wildcard per path segment is allowed")
		}
		if len(wildcard) < 2 {
			panic("action: wildcards must be named")
		}

		if wildcard[0] == ':' {
			if i > 0 {
				n.path = path[:i]
				path = path[i:]
			}
			child := &node{
				nType:     param,
				path:      wildcard,
				paramName: wildcard[1:],
			}
			n.addChild(child)
			n = child
			n.priority++

			if len(wildcard) < len(path) {
				path = path[len(wildcard):]
				child := &node{priority: 1}
				n.addChild(child)
				n = child
				continue
			}

			if n.handlers == nil {
				n.handlers = make(map[string]vrequest.Action)
			}
			n.handlers[method] = fn
			return
		}

		if i+len(wildcard) != len(path) {
			panic("action: catch-all routes are only allowed at the end of the path")
		}
		if i > 0 {
			n.path = path[:i]
		}
		if len(n.path) > 0 && n.path[len(n.path)-1] == '/' {
			child := &node{
				nType:     catchAll,
				path:      wildcard,
				paramName: wildcard[1:],
				handlers:  map[string]vrequest.Action{method: fn},
				priority:  1,
			}
			n.addChild(child)
			return
		}
		panic("action: catch-all conflicts with existing handler for the path segment")
	}

	n.path = path
	if n.handlers == nil {
		n.handlers = make(map[string]vrequest.Action)
	}
	n.handlers[method] = fn
}

func (n *node) addChild(child *node) {
	if n.children == nil {
		n.children = make([]*node, 0, 1)
	}
	n.children = append(n.children, child)
}

func (n *node) getValue(method, path string) (vrequest.Action, map[string]string) {
	var params map[string]string

	for {
		prefix := n.path

		if len(path) > len(prefix) {
			if path[:len(prefix)] == prefix {
				path = path[len(prefix):]

				idxc := path[0]
				childFound := false
				for idx, c := range []byte(n.indices) {
					if c == idxc {
						n = n.children[idx]
						childFound = true
						break
					}
				}
				if childFound {
					continue
				}

				if len(n.children) > 0 {
					lastChild := n.children[len(n.children)-1]
					if lastChild.nType != static {
						n = lastChild
						if params == nil {
							params = make(map[string]string)
						}

						switch n.nType {
						case param:
							end := 0
							for end < len(path) && path[end] != '/' {
								end++
							}
							params[n.paramName] = path[:end]

							if end < len(path) {
								if len(n.children) > 0 {
									path = path[end:]
									n = n.children[0]
									continue
								}
								return nil, nil
							}
							if fn := n.handlers[method]; fn != nil {
								return fn, params
							}
							return nil, nil

						case catchAll:
							params[n.paramName] = path
							if fn := n.handlers[method]; fn != nil {
								return fn, params
							}
							return nil, nil

						default:
							panic("action: invalid node type")
						}
					}
				}
				return nil, nil
			}
		}

		if path != prefix {
			return nil, nil
		}
		if fn := n.handlers[method]; fn != nil {
			return fn, params
		}
		return nil, nil
	}
}

func findWildcard(path string) (wildcard string, i int, valid bool) {
	for start, c := range []byte(path) {
		if c != ':' && c != '*' {
			continue
		}
		valid = true
		for end, c := range []byte(path[start+1:]) {
			switch c {
			case '/':
				return path[start : start+1+end], start, valid
			case ':', '*':
				valid = false
			}
		}
		return path[start:], start, valid
	}
	return "", -1, false
}

func longestCommonPrefix(a, b string) int {
	i := 0
	max := len(a)
	if len(b) < max {
		max = len(b)
	}
	for i < max && a[i] == b[i] {
		i++
	}
	return i
}
