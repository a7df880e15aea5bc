package cache

import "golang.org/x/sync/singleflight"

// buildGroup wraps golang.org/x/sync/singleflight.Group, which
// capacitor/go.mod already declares as a direct dependency but the
// teacher's own cache never calls — giving it the production home spec
// §4.5's "at most one build per fingerprint" requirement calls for.
type buildGroup struct {
	g singleflight.Group
}

func newBuildGroup() *buildGroup {
	return &buildGroup{}
}

func (b *buildGroup) do(key string, fn func() (any, error)) (any, error, bool) {
	return b.g.Do(key, fn)
}
