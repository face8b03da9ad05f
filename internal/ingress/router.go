package ingress

import "sync"

// Router is the "writes it to every subscriber output" fan-out: a receiver
// delivers every decoded chunk to the Router, and the Router forwards it to
// every Sink currently subscribed under that chunk's source tag. This lets
// one physical source feed several SourceInputProcessor instances (one per
// path_id) without the receiver knowing about paths at all.
type Router struct {
	mu   sync.RWMutex
	subs map[string]map[Sink]struct{}
}

// NewRouter builds an empty fan-out router.
func NewRouter() *Router {
	return &Router{subs: make(map[string]map[Sink]struct{})}
}

// Subscribe registers sink to receive every chunk tagged sourceTag.
// Subscribing the same Sink twice under the same tag is a no-op.
func (r *Router) Subscribe(sourceTag string, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.subs[sourceTag]
	if !ok {
		set = make(map[Sink]struct{})
		r.subs[sourceTag] = set
	}
	set[sink] = struct{}{}
}

// Unsubscribe removes sink from a tag's subscriber set.
func (r *Router) Unsubscribe(sourceTag string, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.subs[sourceTag]
	if !ok {
		return
	}
	delete(set, sink)
	if len(set) == 0 {
		delete(r.subs, sourceTag)
	}
}

// Deliver implements Sink: it forwards c to every subscriber registered
// under c.Chunk.SourceTag. Unknown tags are simply dropped (no subscribers
// yet means no path has been configured for that source).
func (r *Router) Deliver(c Chunk) {
	r.mu.RLock()
	set := r.subs[c.Chunk.SourceTag]
	targets := make([]Sink, 0, len(set))
	for s := range set {
		targets = append(targets, s)
	}
	r.mu.RUnlock()

	for _, s := range targets {
		s.Deliver(c)
	}
}

// SubscriberCount reports how many sinks are currently subscribed to a tag,
// used by tests and diagnostics.
func (r *Router) SubscriberCount(sourceTag string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[sourceTag])
}
