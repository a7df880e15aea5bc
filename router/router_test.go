package router

import (
	"testing"
	"time"

	"github.com/wattframework/ampere/httpwire"
)

type fakeCtx struct {
	method httpwire.Method
	path   string
	params map[string]string
	header httpwire.Headers
	bag    map[string]any
}

func (c *fakeCtx) Method() httpwire.Method { return c.method }
func (c *fakeCtx) Path() string            { return c.path }
func (c *fakeCtx) SetParam(name, value string) {
	if c.params == nil {
		c.params = map[string]string{}
	}
	c.params[name] = value
}
func (c *fakeCtx) Header() *httpwire.Headers { return &c.header }
func (c *fakeCtx) Set(key string, value any) {
	if c.bag == nil {
		c.bag = map[string]any{}
	}
	c.bag[key] = value
}
func (c *fakeCtx) Get(key string) (any, bool) {
	v, ok := c.bag[key]
	return v, ok
}

func okHandler(ctx Context) error { return nil }

func TestStaticRouteLookup(t *testing.T) {
	r := New()
	if err := r.Add([]httpwire.Method{httpwire.MethodGET}, "/health", okHandler); err != nil {
		t.Fatalf("Add: %v", err)
	}
	h, err := r.Lookup(httpwire.MethodGET, "/health")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if h == nil {
		t.Fatal("expected handler, got nil")
	}
}

func TestMethodSetAndNotAllowed(t *testing.T) {
	r := New()
	if err := r.Add([]httpwire.Method{httpwire.MethodGET, httpwire.MethodHEAD}, "/users", okHandler); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := r.Lookup(httpwire.MethodHEAD, "/users"); err != nil {
		t.Fatalf("expected HEAD to match, got %v", err)
	}
	_, err := r.Lookup(httpwire.MethodPOST, "/users")
	mna, ok := err.(*ErrMethodNotAllowed)
	if !ok {
		t.Fatalf("expected ErrMethodNotAllowed, got %v", err)
	}
	if len(mna.Allowed) != 2 {
		t.Fatalf("expected 2 allowed methods, got %d", len(mna.Allowed))
	}
}

func TestDuplicateRoute(t *testing.T) {
	r := New()
	if err := r.Add([]httpwire.Method{httpwire.MethodGET}, "/x", okHandler); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Add([]httpwire.Method{httpwire.MethodGET}, "/x", okHandler); err != ErrDuplicateRoute {
		t.Fatalf("expected ErrDuplicateRoute, got %v", err)
	}
}

func TestPlaceholderSegment(t *testing.T) {
	r := New()
	if err := r.Add([]httpwire.Method{httpwire.MethodGET}, "/users/:id", okHandler); err != nil {
		t.Fatalf("Add: %v", err)
	}
	ctx := &fakeCtx{method: httpwire.MethodGET, path: "/users/42"}
	h, _, err := r.LookupWithParams(ctx)
	if err != nil {
		t.Fatalf("LookupWithParams: %v", err)
	}
	if h == nil {
		t.Fatal("expected handler")
	}
	if ctx.params["id"] != "42" {
		t.Fatalf("expected id=42, got %q", ctx.params["id"])
	}
}

func TestLiteralBeatsPlaceholder(t *testing.T) {
	r := New()
	var hitLiteral, hitParam bool
	literal := func(ctx Context) error { hitLiteral = true; return nil }
	param := func(ctx Context) error { hitParam = true; return nil }

	if err := r.Add([]httpwire.Method{httpwire.MethodGET}, "/users/me", literal); err != nil {
		t.Fatalf("Add literal: %v", err)
	}
	if err := r.Add([]httpwire.Method{httpwire.MethodGET}, "/users/:id", param); err != nil {
		t.Fatalf("Add param: %v", err)
	}

	ctx := &fakeCtx{method: httpwire.MethodGET, path: "/users/me"}
	h, _, err := r.LookupWithParams(ctx)
	if err != nil {
		t.Fatalf("LookupWithParams: %v", err)
	}
	if err := h(ctx); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !hitLiteral || hitParam {
		t.Fatalf("expected literal segment to win over placeholder, hitLiteral=%v hitParam=%v", hitLiteral, hitParam)
	}
}

func TestWildcardCapturesRemainder(t *testing.T) {
	r := New()
	if err := r.Add([]httpwire.Method{httpwire.MethodGET}, "/files/*path", okHandler); err != nil {
		t.Fatalf("Add: %v", err)
	}
	ctx := &fakeCtx{method: httpwire.MethodGET, path: "/files/a/b/c.txt"}
	h, _, err := r.LookupWithParams(ctx)
	if err != nil {
		t.Fatalf("LookupWithParams: %v", err)
	}
	if h == nil {
		t.Fatal("expected handler")
	}
	if ctx.params["path"] != "a/b/c.txt" {
		t.Fatalf("expected path=a/b/c.txt, got %q", ctx.params["path"])
	}
}

func TestNotFound(t *testing.T) {
	r := New()
	if err := r.Add([]httpwire.Method{httpwire.MethodGET}, "/known", okHandler); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := r.Lookup(httpwire.MethodGET, "/unknown"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAllowedMethodsForOptions(t *testing.T) {
	r := New()
	if err := r.Add([]httpwire.Method{httpwire.MethodGET, httpwire.MethodPOST}, "/items", okHandler); err != nil {
		t.Fatalf("Add: %v", err)
	}
	allowed := r.AllowedMethods("/items")
	if len(allowed) != 2 {
		t.Fatalf("expected 2 methods, got %d", len(allowed))
	}
}

func TestAddCachedRoundTripsThroughStaticRoute(t *testing.T) {
	r := New()
	rc := RouteCache{Enabled: true, TTL: 5 * time.Second}
	if err := r.AddCached([]httpwire.Method{httpwire.MethodGET}, "/health", okHandler, rc); err != nil {
		t.Fatalf("AddCached: %v", err)
	}
	ctx := &fakeCtx{method: httpwire.MethodGET, path: "/health"}
	h, gotRC, err := r.LookupWithParams(ctx)
	if err != nil {
		t.Fatalf("LookupWithParams: %v", err)
	}
	if h == nil {
		t.Fatal("expected handler")
	}
	if gotRC != rc {
		t.Fatalf("RouteCache = %+v, want %+v", gotRC, rc)
	}
}

func TestAddCachedRoundTripsThroughPlaceholderRoute(t *testing.T) {
	r := New()
	rc := RouteCache{Enabled: true, TTL: time.Minute}
	if err := r.AddCached([]httpwire.Method{httpwire.MethodGET}, "/users/:id", okHandler, rc); err != nil {
		t.Fatalf("AddCached: %v", err)
	}
	ctx := &fakeCtx{method: httpwire.MethodGET, path: "/users/42"}
	h, gotRC, err := r.LookupWithParams(ctx)
	if err != nil {
		t.Fatalf("LookupWithParams: %v", err)
	}
	if h == nil {
		t.Fatal("expected handler")
	}
	if gotRC != rc {
		t.Fatalf("RouteCache = %+v, want %+v", gotRC, rc)
	}
}

func TestAddWithoutCacheLeavesRouteCacheZeroValue(t *testing.T) {
	r := New()
	if err := r.Add([]httpwire.Method{httpwire.MethodGET}, "/plain", okHandler); err != nil {
		t.Fatalf("Add: %v", err)
	}
	ctx := &fakeCtx{method: httpwire.MethodGET, path: "/plain"}
	_, gotRC, err := r.LookupWithParams(ctx)
	if err != nil {
		t.Fatalf("LookupWithParams: %v", err)
	}
	if gotRC.Enabled {
		t.Fatalf("RouteCache = %+v, want the zero value (caching disabled)", gotRC)
	}
}

func BenchmarkStaticLookup(b *testing.B) {
	r := New()
	_ = r.Add([]httpwire.Method{httpwire.MethodGET}, "/health", okHandler)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = r.Lookup(httpwire.MethodGET, "/health")
	}
}
