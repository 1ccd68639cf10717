package hostlist

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// MaxTrackedQueries bounds how many distinct request strings the statistics
// keep counters for, so a broken or hostile client spraying random requests
// cannot grow memory without limit.
const MaxTrackedQueries = 1000

// Stats counts accepted connections and how often each distinct request
// string was received. Past the cap, existing counters keep counting and new
// strings are dropped.
type Stats struct {
	mutex       sync.Mutex
	connections uint64
	queries     map[string]uint64
	capWarned   bool
}

// StatsSnapshot is a value copy of the counters, for logging and the HTTP
// endpoint.
type StatsSnapshot struct {
	Connections    uint64            `json:"connections"`
	TrackedQueries int               `json:"trackedQueries"`
	Queries        map[string]uint64 `json:"queries"`
}

// NewStats creates an empty collector.
func NewStats() *Stats {
	return &Stats{queries: make(map[string]uint64)}
}

// ConnectionOpened counts one accepted query connection.
func (s *Stats) ConnectionOpened() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.connections++
}

// CountQuery counts one received request line, malformed ones included.
func (s *Stats) CountQuery(query string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, tracked := s.queries[query]; !tracked && len(s.queries) >= MaxTrackedQueries {
		if !s.capWarned {
			s.capWarned = true
			log.WithField("cap", MaxTrackedQueries).Warn(
				"Distinct query string cap reached, new strings are no longer tracked.")
		}
		return
	}
	s.queries[query]++
}

// Snapshot returns a copy of all counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	queries := make(map[string]uint64, len(s.queries))
	for query, count := range s.queries {
		queries[query] = count
	}
	return StatsSnapshot{
		Connections:    s.connections,
		TrackedQueries: len(queries),
		Queries:        queries,
	}
}

// RegistryCounter reports the sizes of the mirrored lobby state, for the
// periodic log line.
type RegistryCounter interface {
	Counts() (users, hosts, open, ingame int)
}

// LogLoop writes a summary line every interval until shutdown.
func (s *Stats) LogLoop(interval time.Duration, counter RegistryCounter, shutdown <-chan struct{}) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-shutdown:
			return
		case <-ticker.C:
			snapshot := s.Snapshot()
			users, hosts, open, ingame := counter.Counts()
			log.WithFields(log.Fields{
				"connections":    snapshot.Connections,
				"trackedQueries": snapshot.TrackedQueries,
				"users":          users,
				"hosts":          hosts,
				"open":           open,
				"ingame":         ingame,
			}).Info("Statistics")
		}
	}
}
