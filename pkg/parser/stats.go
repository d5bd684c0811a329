package parser

import "sync"

// fieldTiming accumulates extraction timings for one field.
type fieldTiming struct {
	Count       uint64
	TotalMicros int64
	MinMicros   int64
	MaxMicros   int64
}

// AvgMicros is the mean extraction time.
func (t fieldTiming) AvgMicros() float64 {
	if t.Count == 0 {
		return 0
	}
	return float64(t.TotalMicros) / float64(t.Count)
}

// protoStats aggregates parses for one protocol.
type protoStats struct {
	Total    uint64
	Success  uint64
	ByStatus map[Status]uint64
	Fields   map[string]*fieldTiming
}

// Stats accumulates parser counters across all protocols. Safe for
// concurrent use.
type Stats struct {
	mu        sync.Mutex
	total     uint64
	success   uint64
	cacheHits uint64
	protos    map[string]*protoStats
}

func newStats() *Stats {
	return &Stats{protos: make(map[string]*protoStats)}
}

func (s *Stats) record(protocol string, r *ParseResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	if r.Status == StatusSuccess {
		s.success++
	}
	ps := s.protos[protocol]
	if ps == nil {
		ps = &protoStats{
			ByStatus: make(map[Status]uint64),
			Fields:   make(map[string]*fieldTiming),
		}
		s.protos[protocol] = ps
	}
	ps.Total++
	if r.Status == StatusSuccess {
		ps.Success++
	}
	ps.ByStatus[r.Status]++

	for name, v := range r.Fields {
		if v.ExtractMicros == 0 {
			continue
		}
		ft := ps.Fields[name]
		if ft == nil {
			ft = &fieldTiming{MinMicros: v.ExtractMicros, MaxMicros: v.ExtractMicros}
			ps.Fields[name] = ft
		}
		ft.Count++
		ft.TotalMicros += v.ExtractMicros
		if v.ExtractMicros < ft.MinMicros {
			ft.MinMicros = v.ExtractMicros
		}
		if v.ExtractMicros > ft.MaxMicros {
			ft.MaxMicros = v.ExtractMicros
		}
	}
}

func (s *Stats) recordHit() {
	s.mu.Lock()
	s.cacheHits++
	s.mu.Unlock()
}

// Totals reports overall parse counts.
func (s *Stats) Totals() (total, success, failed, cacheHits uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total, s.success, s.total - s.success, s.cacheHits
}

// SuccessRate is successes over total parses, 0 when empty.
func (s *Stats) SuccessRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.total == 0 {
		return 0
	}
	return float64(s.success) / float64(s.total)
}

// ProtocolCounts reports total and success counts for one protocol.
func (s *Stats) ProtocolCounts(protocol string) (total, success uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps := s.protos[protocol]
	if ps == nil {
		return 0, 0
	}
	return ps.Total, ps.Success
}

// StatusCount reports how often a protocol parse finished with a status.
func (s *Stats) StatusCount(protocol string, st Status) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps := s.protos[protocol]
	if ps == nil {
		return 0
	}
	return ps.ByStatus[st]
}

// FieldTiming reports min/max/avg extraction micros for a field, with
// ok=false when never recorded.
func (s *Stats) FieldTiming(protocol, field string) (min, max int64, avg float64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps := s.protos[protocol]
	if ps == nil {
		return 0, 0, 0, false
	}
	ft := ps.Fields[field]
	if ft == nil {
		return 0, 0, 0, false
	}
	return ft.MinMicros, ft.MaxMicros, ft.AvgMicros(), true
}

// Reset clears all counters.
func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total, s.success, s.cacheHits = 0, 0, 0
	s.protos = make(map[string]*protoStats)
}
