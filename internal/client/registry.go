// Package client
// Author: momentics <momentics@gmail.com>
//
// Ordered set of live client contexts.

package client

// Registry is an intrusive doubly linked list of contexts in creation order.
// It is owned by a single Manager and touched only from the loop goroutine.
type Registry struct {
	head, tail *Context
	n          int
}

// Len returns the number of registered contexts.
func (r *Registry) Len() int { return r.n }

// Register appends cl at the tail. A context already registered anywhere is
// rejected.
func (r *Registry) Register(cl *Context) bool {
	if cl.registry != nil {
		return false
	}
	cl.registry = r
	cl.prev = r.tail
	cl.next = nil
	if r.tail != nil {
		r.tail.next = cl
	} else {
		r.head = cl
	}
	r.tail = cl
	r.n++
	return true
}

// Unregister removes cl by identity. Returns false if cl is not a member.
func (r *Registry) Unregister(cl *Context) bool {
	if cl.registry != r {
		return false
	}
	if cl.prev != nil {
		cl.prev.next = cl.next
	} else {
		r.head = cl.next
	}
	if cl.next != nil {
		cl.next.prev = cl.prev
	} else {
		r.tail = cl.prev
	}
	cl.prev, cl.next, cl.registry = nil, nil, nil
	r.n--
	return true
}

// Contains reports membership.
func (r *Registry) Contains(cl *Context) bool { return cl.registry == r }

// Each visits contexts in order. visit must not modify the registry.
func (r *Registry) Each(visit func(*Context) bool) {
	for cl := r.head; cl != nil; cl = cl.next {
		if !visit(cl) {
			return
		}
	}
}

// ForEachRemovable visits every context registered when the traversal
// starts. visit may unregister the current context or any other; contexts
// removed before their turn are skipped.
func (r *Registry) ForEachRemovable(visit func(*Context)) {
	pending := make([]*Context, 0, r.n)
	for cl := r.head; cl != nil; cl = cl.next {
		pending = append(pending, cl)
	}
	for _, cl := range pending {
		if cl.registry == r {
			visit(cl)
		}
	}
}
