package media

import (
	"log/slog"
	"sync"
)

type heldTrack struct {
	kind   Kind
	stream StreamHandle
}

// Router forwards tracks to the sinks registered for their kind. Tracks that
// arrive before the session is ready are held and released in arrival order
// by SetReady.
type Router struct {
	mu     sync.Mutex
	sinks  map[Kind][]Sink
	held   []heldTrack
	ready  bool
	closed bool
	logger *slog.Logger
}

func NewRouter() *Router {
	return &Router{
		sinks:  make(map[Kind][]Sink),
		logger: slog.Default(),
	}
}

func (r *Router) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// AddSink registers sink for every later track of kind.
func (r *Router) AddSink(kind Kind, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[kind] = append(r.sinks[kind], sink)
}

// OnTrackAdded lets a Router itself be used as a Sink.
func (r *Router) OnTrackAdded(kind Kind, stream StreamHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	if !r.ready {
		r.held = append(r.held, heldTrack{kind: kind, stream: stream})
		r.logger.Debug("track held until negotiation is stable",
			slog.String("kind", string(kind)),
			slog.String("track_id", stream.TrackID),
		)
		return
	}

	r.dispatch(kind, stream)
}

// SetReady releases held tracks. Later calls have no effect.
func (r *Router) SetReady() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ready || r.closed {
		return
	}
	r.ready = true

	for _, t := range r.held {
		r.dispatch(t.kind, t.stream)
	}
	r.held = nil
}

func (r *Router) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

// Close drops held tracks. Tracks announced afterwards are ignored.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	r.held = nil
}

func (r *Router) dispatch(kind Kind, stream StreamHandle) {
	sinks := r.sinks[kind]
	if len(sinks) == 0 {
		r.logger.Debug("no sink for track", slog.String("kind", string(kind)), slog.String("track_id", stream.TrackID))
		return
	}

	for _, s := range sinks {
		s.OnTrackAdded(kind, stream)
	}
}
