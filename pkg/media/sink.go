package media

import (
	"log/slog"
	"maps"
	"slices"
	"sync"
)

// LogSink writes one line per announced track.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) OnTrackAdded(kind Kind, stream StreamHandle) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("track added",
		slog.String("kind", string(kind)),
		slog.String("stream_id", stream.StreamID),
		slog.String("track_id", stream.TrackID),
		slog.String("codec", stream.MimeType),
		slog.Uint64("ssrc", uint64(stream.SSRC)),
	)
}

type TrackStats struct {
	Kind         Kind
	Packets      uint64
	Bytes        uint64
	LastSequence uint16
	Ended        bool
}

// CountingSink drains every track it is given and keeps packet counters.
type CountingSink struct {
	mu    sync.RWMutex
	stats map[string]TrackStats
}

func NewCountingSink() *CountingSink {
	return &CountingSink{stats: make(map[string]TrackStats)}
}

func (s *CountingSink) OnTrackAdded(kind Kind, stream StreamHandle) {
	s.mu.Lock()
	s.stats[stream.TrackID] = TrackStats{Kind: kind}
	s.mu.Unlock()

	if stream.Reader == nil {
		s.end(stream.TrackID)
		return
	}

	go s.drain(stream)
}

// Stats returns the counters of trackID.
func (s *CountingSink) Stats(trackID string) (TrackStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stats[trackID]
	return st, ok
}

// All returns the counters of every track seen so far.
func (s *CountingSink) All() map[string]TrackStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return maps.Clone(s.stats)
}

// LogStats writes one line per track in track id order.
func (s *CountingSink) LogStats(logger *slog.Logger) {
	stats := s.All()

	for _, id := range slices.Sorted(maps.Keys(stats)) {
		st := stats[id]
		logger.Info("track stats",
			slog.String("track_id", id),
			slog.String("kind", string(st.Kind)),
			slog.Uint64("packets", st.Packets),
			slog.Uint64("bytes", st.Bytes),
			slog.Bool("ended", st.Ended),
		)
	}
}

func (s *CountingSink) drain(stream StreamHandle) {
	for {
		p, err := stream.Reader.ReadPacket()
		if err != nil {
			s.end(stream.TrackID)
			return
		}

		s.mu.Lock()
		st := s.stats[stream.TrackID]
		st.Packets++
		st.Bytes += uint64(p.MarshalSize())
		st.LastSequence = p.SequenceNumber
		s.stats[stream.TrackID] = st
		s.mu.Unlock()
	}
}

func (s *CountingSink) end(trackID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stats[trackID]
	st.Ended = true
	s.stats[trackID] = st
}

// NewInstrumentedRouter returns a router that logs every track of both kinds
// and counts its packets.
func NewInstrumentedRouter(logger *slog.Logger) (*Router, *CountingSink) {
	router := NewRouter()
	counter := NewCountingSink()
	logSink := LogSink{Logger: logger}

	for _, kind := range []Kind{KindAudio, KindVideo} {
		router.AddSink(kind, logSink)
		router.AddSink(kind, counter)
	}

	return router, counter
}
