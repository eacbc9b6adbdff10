package capture

import (
	"context"
	"sync"
)

type ownerContextKey struct{}

// ContextWithOwner attaches the signed-in owner to ctx.
func ContextWithOwner(ctx context.Context, owner Owner) context.Context {
	return context.WithValue(ctx, ownerContextKey{}, owner)
}

// ContextSessions reads the owner placed on the context by ContextWithOwner.
type ContextSessions struct{}

func (ContextSessions) Owner(ctx context.Context) (Owner, bool) {
	owner, ok := ctx.Value(ownerContextKey{}).(Owner)
	if !ok || owner.UserID == "" {
		return Owner{}, false
	}
	return owner, true
}

// StaticTitleFilter excludes an exact, fixed set of titles.
type StaticTitleFilter struct {
	mu     sync.RWMutex
	titles map[string]struct{}
}

// NewStaticTitleFilter builds a filter over titles.
func NewStaticTitleFilter(titles []string) *StaticTitleFilter {
	filter := &StaticTitleFilter{}
	filter.Replace(titles)
	return filter
}

// Replace swaps the excluded set.
func (f *StaticTitleFilter) Replace(titles []string) {
	set := make(map[string]struct{}, len(titles))
	for _, title := range titles {
		set[title] = struct{}{}
	}
	f.mu.Lock()
	f.titles = set
	f.mu.Unlock()
}

func (f *StaticTitleFilter) Excluded(_ context.Context, title string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.titles[title]
	return ok
}
