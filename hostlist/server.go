package hostlist

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/springfiles/spring-hostlist/common"
	"github.com/springfiles/spring-hostlist/lobby"
)

// Source provides point-in-time copies of the mirrored battle tables. The
// lobby supervisor implements it; tests substitute fixed data.
type Source interface {
	SnapshotAll() []lobby.HostRow
	SnapshotOpen() []lobby.HostRow
	SnapshotIngame() []lobby.HostRow
}

// UTC wall clock in the START line, ISO 8601 with microseconds.
const timestampLayout = "2006-01-02T15:04:05.000000"

// More than enough for any legitimate hostlist client; anything faster gets
// its requests dropped like malformed ones.
const (
	queryRate  rate.Limit = 20
	queryBurst            = 40
)

const (
	shutdownGrace    = 5 * time.Second
	acceptRetryDelay = 100 * time.Millisecond
)

// connState is the per-connection bookkeeping carried through a handler's
// log lines: a serial id, the peer address and when it was accepted.
type connState struct {
	id      uint64
	conn    net.Conn
	remote  string
	started time.Time
}

func (c *connState) logger() *log.Entry {
	return log.WithFields(log.Fields{"conn": c.id, "remote": c.remote})
}

// Server answers hostlist queries over TCP. Each accepted connection is
// handled on its own goroutine and may issue any number of requests until it
// disconnects or its lifetime expires.
type Server struct {
	listener net.Listener
	source   Source
	stats    *Stats
	lifetime time.Duration
	shutdown <-chan struct{}

	nextID   uint64
	handlers sync.WaitGroup

	mutex sync.Mutex
	conns map[uint64]net.Conn
}

// NewServer binds the query server's listening socket.
func NewServer(config *common.HostlistConfig, source Source, stats *Stats, shutdown <-chan struct{}) (*Server, error) {
	address := net.JoinHostPort(config.Host, strconv.Itoa(config.Port))
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	log.WithField("address", listener.Addr().String()).Info("Hostlist server listening.")

	return &Server{
		listener: listener,
		source:   source,
		stats:    stats,
		lifetime: config.ConnectionLifetime,
		shutdown: shutdown,
		conns:    make(map[uint64]net.Conn),
	}, nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Start launches the accept loop.
func (s *Server) Start() {
	go s.acceptLoop()
}

func (s *Server) shuttingDown() bool {
	select {
	case <-s.shutdown:
		return true
	default:
		return false
	}
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.shuttingDown() {
				return
			}
			// Local accept faults (EMFILE, aborted handshakes) are
			// transient; only a requested shutdown stops the listener.
			log.WithError(err).Error("Accept on hostlist socket failed, retrying.")
			select {
			case <-s.shutdown:
				return
			case <-time.After(acceptRetryDelay):
			}
			continue
		}

		state := &connState{
			id:      atomic.AddUint64(&s.nextID, 1),
			conn:    conn,
			remote:  conn.RemoteAddr().String(),
			started: time.Now(),
		}

		s.mutex.Lock()
		s.conns[state.id] = conn
		s.mutex.Unlock()

		s.handlers.Add(1)
		go s.handleConnection(state)
	}
}

func (s *Server) handleConnection(state *connState) {
	defer s.handlers.Done()
	defer func() {
		s.mutex.Lock()
		delete(s.conns, state.id)
		s.mutex.Unlock()
		_ = state.conn.Close()
	}()

	s.stats.ConnectionOpened()
	state.logger().Debug("Hostlist connection accepted.")

	// The lifetime bound applies no matter how active the client is; it is
	// expected to reconnect.
	if s.lifetime > 0 {
		_ = state.conn.SetDeadline(state.started.Add(s.lifetime))
	}

	limiter := rate.NewLimiter(queryRate, queryBurst)
	scanner := bufio.NewScanner(state.conn)
	for scanner.Scan() {
		line := scanner.Text()
		s.stats.CountQuery(line)

		// Every well-formed request gets its reply; clients over the rate
		// just wait for it. The connection deadline still bounds the stall.
		if delay := limiter.Reserve().Delay(); delay > 0 {
			state.logger().WithField("delay", delay).Debug("Request over rate limit, throttling.")
			time.Sleep(delay)
		}

		parsed, err := parseRequest(line)
		if err != nil {
			state.logger().WithField("line", line).Error("Format error in request, skipping.")
			continue
		}

		if _, err := state.conn.Write([]byte(s.buildResponse(parsed))); err != nil {
			state.logger().WithError(err).Warn("Failed to write reply, closing connection.")
			return
		}
	}

	if err := scanner.Err(); err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			state.logger().WithField("alive", time.Since(state.started)).Info(
				"Connection lifetime elapsed, closing.")
		} else if !s.shuttingDown() {
			state.logger().WithError(err).Warn("Hostlist connection failed.")
		}
	} else {
		state.logger().Debug("Hostlist connection closed by peer.")
	}
}

// buildResponse evaluates one request against a snapshot taken atomically
// here, so the reply stays internally consistent while the registry keeps
// changing underneath.
func (s *Server) buildResponse(parsed request) string {
	var rows []lobby.HostRow
	switch parsed.command {
	case "ALL":
		rows = s.source.SnapshotAll()
	case "OPEN":
		rows = s.source.SnapshotOpen()
	case "INGAME":
		rows = s.source.SnapshotIngame()
	}
	filtered := filterRows(rows, parsed)

	var builder strings.Builder
	builder.WriteString("START ")
	builder.WriteString(time.Now().UTC().Format(timestampLayout))
	builder.WriteByte('\n')
	if len(filtered) > 0 {
		writeHostCSV(&builder, filtered)
	}
	fmt.Fprintf(&builder, "END %d\n", len(filtered))
	return builder.String()
}

// Shutdown stops accepting, force-closes the remaining connections and
// waits a bounded time for the handlers to finish.
func (s *Server) Shutdown() {
	if err := s.listener.Close(); err != nil {
		log.WithError(err).Error("Failed to close hostlist listener.")
	}

	s.mutex.Lock()
	for _, conn := range s.conns {
		_ = conn.Close()
	}
	s.mutex.Unlock()

	finished := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(shutdownGrace):
		log.Error("Hostlist handlers still running after shutdown grace period.")
	}
}
