// Package router implements the request router: a hybrid static-map +
// radix-tree lookup keyed on method sets, wildcard/placeholder path
// segments, and longest-literal-prefix precedence between a static
// segment and a placeholder at the same depth.
package router

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/wattframework/ampere/httpwire"
)

// Handler is the terminal route handler, invoked once the aspect chain
// has run. Defined here (rather than imported from aspect) to keep
// router free of a dependency on the aspect package; aspect.Chain
// implements this signature.
type Handler func(ctx Context) error

// Context is the per-request surface shared by the router, the aspect
// chain, and the connection's dispatch loop: reading the method/path,
// attaching extracted path parameters, reading the wire-level request
// header set, and a small typed key/value bag aspects use to pass state
// to the terminal handler (e.g. bearer auth claims).
type Context interface {
	Method() httpwire.Method
	Path() string
	SetParam(name, value string)
	Header() *httpwire.Headers
	Set(key string, value any)
	Get(key string) (any, bool)
}

// ErrDuplicateRoute is returned by Add when the same method is
// registered twice for the same path.
var ErrDuplicateRoute = errors.New("router: duplicate route registration")

// ErrNotFound is returned by Lookup when no route matches the path at
// all (no method on that path would have matched either).
var ErrNotFound = errors.New("router: no matching route")

// ErrMethodNotAllowed is returned by Lookup when the path matches a
// registered route but not for the requested method; Allowed lists the
// methods that would have matched, for a 405 response's Allow header.
type ErrMethodNotAllowed struct {
	Allowed []httpwire.Method
}

func (e *ErrMethodNotAllowed) Error() string { return "router: method not allowed" }

// RouteCache is a route's opt-in response-cache configuration (spec
// §4.5, folded into the per-route config §9 has dispatch walk:
// enable_cache/cache_ttl). The zero value disables caching for that
// route.
type RouteCache struct {
	Enabled bool
	TTL     time.Duration
}

// node is one segment of the path trie. Grounded on bolt/core/router.go's
// node design (label/pathBytes/children/indices/priority for cache-
// friendly traversal), generalized from a single handler per node to a
// method -> Handler set, since spec §4.1 registers a route as a set of
// methods sharing one path.
type node struct {
	segment   string
	isParam   bool
	isWild    bool
	paramName string

	children []*node
	indices  string // first byte of each static child's segment

	handlers map[httpwire.Method]Handler
	caches   map[httpwire.Method]RouteCache
}

// Router is the hybrid static-map + radix-tree route table.
type Router struct {
	mu          sync.RWMutex
	static      map[string]map[httpwire.Method]Handler    // key: "METHOD-less path" -> method set
	staticCache map[string]map[httpwire.Method]RouteCache // same keys, cache config per method
	tree        *node
}

// New constructs an empty Router.
func New() *Router {
	return &Router{
		static:      make(map[string]map[httpwire.Method]Handler),
		staticCache: make(map[string]map[httpwire.Method]RouteCache),
		tree:        &node{},
	}
}

// Add registers handler for the cartesian product of methods and path,
// with caching disabled. path segments starting with ':' are
// placeholders, a segment of exactly "*name" is a trailing wildcard and
// must be the last segment.
func (r *Router) Add(methods []httpwire.Method, path string, handler Handler) error {
	return r.AddCached(methods, path, handler, RouteCache{})
}

// AddCached is Add plus a per-route response-cache configuration (spec
// §4.5/§9), consulted by the connection engine's dispatch loop for
// every request that resolves to this route.
func (r *Router) AddCached(methods []httpwire.Method, path string, handler Handler, rc RouteCache) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	segments := splitPath(path)
	isStatic := true
	for _, seg := range segments {
		if len(seg) > 0 && (seg[0] == ':' || seg[0] == '*') {
			isStatic = false
			break
		}
	}

	if isStatic {
		set, ok := r.static[path]
		if !ok {
			set = make(map[httpwire.Method]Handler)
			r.static[path] = set
		}
		cacheSet, ok := r.staticCache[path]
		if !ok {
			cacheSet = make(map[httpwire.Method]RouteCache)
			r.staticCache[path] = cacheSet
		}
		for _, m := range methods {
			if _, exists := set[m]; exists {
				return ErrDuplicateRoute
			}
			set[m] = handler
			cacheSet[m] = rc
		}
		return nil
	}

	current := r.tree
	for i, seg := range segments {
		last := i == len(segments)-1
		switch {
		case seg != "" && seg[0] == ':':
			current = findOrCreateChild(current, seg, true, false, seg[1:])
		case seg != "" && seg[0] == '*':
			if !last {
				return errors.New("router: wildcard segment must be last")
			}
			current = findOrCreateChild(current, seg, false, true, seg[1:])
		default:
			current = findOrCreateChild(current, seg, false, false, "")
		}
		if last {
			if current.handlers == nil {
				current.handlers = make(map[httpwire.Method]Handler)
			}
			if current.caches == nil {
				current.caches = make(map[httpwire.Method]RouteCache)
			}
			for _, m := range methods {
				if _, exists := current.handlers[m]; exists {
					return ErrDuplicateRoute
				}
				current.handlers[m] = handler
				current.caches[m] = rc
			}
		}
	}
	return nil
}

func findOrCreateChild(parent *node, segment string, isParam, isWild bool, paramName string) *node {
	var label byte
	if len(segment) > 0 {
		label = segment[0]
	}
	for _, child := range parent.children {
		if child.segment == segment && child.isParam == isParam && child.isWild == isWild {
			return child
		}
	}
	child := &node{segment: segment, isParam: isParam, isWild: isWild, paramName: paramName}
	parent.children = append(parent.children, child)
	if !isParam && !isWild {
		parent.indices += string(label)
	}
	return child
}

// Lookup finds the handler for method+path. On a path match with no
// handler for method, returns ErrMethodNotAllowed listing the methods
// that would have matched (for the caller's 405+Allow response).
func (r *Router) Lookup(method httpwire.Method, path string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if set, ok := r.static[path]; ok {
		if h, ok := set[method]; ok {
			return h, nil
		}
		return nil, &ErrMethodNotAllowed{Allowed: methodList(set)}
	}

	segments := splitPath(path)
	n := r.searchNode(r.tree, segments, 0, nil)
	if n == nil {
		return nil, ErrNotFound
	}
	if h, ok := n.handlers[method]; ok {
		return h, nil
	}
	if len(n.handlers) == 0 {
		return nil, ErrNotFound
	}
	return nil, &ErrMethodNotAllowed{Allowed: methodList(n.handlers)}
}

// LookupWithParams finds the handler and, on a match, assigns extracted
// path parameters onto ctx via SetParam before returning. The second
// return value is the route's cache configuration (spec §4.5/§9), the
// zero value when the route has none.
func (r *Router) LookupWithParams(ctx Context) (Handler, RouteCache, error) {
	method := ctx.Method()
	path := ctx.Path()

	r.mu.RLock()
	defer r.mu.RUnlock()

	if set, ok := r.static[path]; ok {
		if h, ok := set[method]; ok {
			return h, r.staticCache[path][method], nil
		}
		return nil, RouteCache{}, &ErrMethodNotAllowed{Allowed: methodList(set)}
	}

	segments := splitPath(path)
	n := r.searchNode(r.tree, segments, 0, ctx)
	if n == nil {
		return nil, RouteCache{}, ErrNotFound
	}
	if h, ok := n.handlers[method]; ok {
		return h, n.caches[method], nil
	}
	if len(n.handlers) == 0 {
		return nil, RouteCache{}, ErrNotFound
	}
	return nil, RouteCache{}, &ErrMethodNotAllowed{Allowed: methodList(n.handlers)}
}

// searchNode walks the trie. Static (literal) children are always tried
// before placeholder children at the same depth — the longest-literal-
// prefix rule spec §4.1 requires, expressed here as "an exact segment
// match always wins over a placeholder match when both exist".
func (r *Router) searchNode(n *node, segments []string, idx int, ctx Context) *node {
	if n == nil {
		return nil
	}
	if idx >= len(segments) {
		if n.handlers != nil {
			return n
		}
		return nil
	}
	seg := segments[idx]

	if len(seg) > 0 {
		for _, child := range n.children {
			if child.isParam || child.isWild || child.segment != seg {
				continue
			}
			if found := r.searchNode(child, segments, idx+1, ctx); found != nil {
				return found
			}
		}
	}

	for _, child := range n.children {
		if !child.isParam {
			continue
		}
		if ctx != nil {
			ctx.SetParam(child.paramName, seg)
		}
		if found := r.searchNode(child, segments, idx+1, ctx); found != nil {
			return found
		}
	}

	for _, child := range n.children {
		if !child.isWild {
			continue
		}
		if ctx != nil {
			ctx.SetParam(child.paramName, strings.Join(segments[idx:], "/"))
		}
		return child
	}

	return nil
}

func methodList(set map[httpwire.Method]Handler) []httpwire.Method {
	out := make([]httpwire.Method, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	return out
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	raw := strings.Split(path, "/")
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// AllowedMethods returns the methods registered on the route path
// resolves to (the static route if one exists, else the first trie
// match; methods of other matching routes are not included), used to
// build the Allow header for an auto-generated OPTIONS response (spec
// §4.1).
func (r *Router) AllowedMethods(path string) []httpwire.Method {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if set, ok := r.static[path]; ok {
		return methodList(set)
	}
	segments := splitPath(path)
	n := r.searchNode(r.tree, segments, 0, nil)
	if n == nil {
		return nil
	}
	return methodList(n.handlers)
}
