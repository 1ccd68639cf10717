package lobby

import (
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/springfiles/spring-hostlist/common"
)

// Supervisor keeps the lobby link alive. Whenever the streaming read loop
// ends it throws the old registry away and rebuilds a fresh one from a new
// handshake: the lobby protocol has no resumption token, so a full resync is
// the only correct repair.
//
// The query server reads host snapshots through the supervisor, which always
// delegates to whichever registry is current.
type Supervisor struct {
	config   *common.LobbyConfig
	shutdown <-chan struct{}
	fatal    chan error

	mutex    sync.Mutex
	registry *Registry
	link     *Link
}

// NewSupervisor creates a Supervisor. Closing the shutdown channel stops it
// from scheduling any further connection attempt.
func NewSupervisor(config *common.LobbyConfig, shutdown <-chan struct{}) *Supervisor {
	return &Supervisor{
		config:   config,
		shutdown: shutdown,
		fatal:    make(chan error, 1),
	}
}

// Done delivers the error that permanently ended the supervisor: a denied
// login or an exhausted retry budget. The process should exit when it fires.
func (s *Supervisor) Done() <-chan error {
	return s.fatal
}

func (s *Supervisor) current() *Registry {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.registry
}

func (s *Supervisor) setCurrent(registry *Registry, link *Link) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.registry = registry
	s.link = link
}

// SnapshotAll returns all live battles of the current registry.
func (s *Supervisor) SnapshotAll() []HostRow {
	if registry := s.current(); registry != nil {
		return registry.SnapshotAll()
	}
	return nil
}

// SnapshotOpen returns the open battles of the current registry.
func (s *Supervisor) SnapshotOpen() []HostRow {
	if registry := s.current(); registry != nil {
		return registry.SnapshotOpen()
	}
	return nil
}

// SnapshotIngame returns the ingame battles of the current registry.
func (s *Supervisor) SnapshotIngame() []HostRow {
	if registry := s.current(); registry != nil {
		return registry.SnapshotIngame()
	}
	return nil
}

// Counts reports the current registry's table sizes.
func (s *Supervisor) Counts() (users, hosts, open, ingame int) {
	if registry := s.current(); registry != nil {
		return registry.Counts()
	}
	return 0, 0, 0, 0
}

func (s *Supervisor) shuttingDown() bool {
	select {
	case <-s.shutdown:
		return true
	default:
		return false
	}
}

// Run is the supervision loop: Connecting until a handshake succeeds,
// Streaming until the read loop ends, then Down and back to Connecting with
// a brand-new registry. It returns when shutdown is requested or a fatal
// condition is hit.
func (s *Supervisor) Run() {
	attempts := 0
	for {
		if s.shuttingDown() {
			return
		}

		registry := NewRegistry()
		link, err := Connect(s.config, NewConsumer(registry))
		if err != nil {
			if errors.Is(err, ErrLoginDenied) {
				s.fatal <- err
				return
			}

			attempts++
			log.WithError(err).WithFields(log.Fields{
				"attempt": attempts,
				"of":      s.config.ConnectTries,
			}).Warn("Could not connect to lobby server.")

			if attempts >= s.config.ConnectTries {
				s.fatal <- fmt.Errorf("giving up on the lobby server after %d attempts: %w", attempts, err)
				return
			}

			select {
			case <-s.shutdown:
				return
			case <-time.After(s.config.ConnectRetryWait):
			}
			continue
		}

		attempts = 0
		s.setCurrent(registry, link)

		err = link.Listen()
		link.Close()
		s.setCurrent(nil, nil)

		if s.shuttingDown() {
			return
		}
		log.WithError(err).Warn("Lobby server connection lost, resyncing from scratch.")
	}
}

// Shutdown closes the current link, if any, which unblocks the streaming
// read loop. Call after closing the shutdown channel.
func (s *Supervisor) Shutdown() {
	s.mutex.Lock()
	link := s.link
	s.mutex.Unlock()

	if link != nil {
		link.Close()
	}
}
