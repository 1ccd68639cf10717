package lobby

import (
	"bufio"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/springfiles/spring-hostlist/common"
)

// ErrLoginDenied is returned by Connect when the lobby server refuses the
// configured credentials. Retrying cannot help, so the supervisor treats it
// as fatal.
var ErrLoginDenied = errors.New("lobby server denied the login")

const (
	dialTimeout      = 10 * time.Second
	handshakeTimeout = 2 * time.Second
	syncTimeout      = 30 * time.Second
)

// Link is one live connection to the lobby server. It owns the socket, the
// keepalive goroutine and the streaming read loop; every received line goes
// through the protocol consumer.
type Link struct {
	conn     net.Conn
	reader   *bufio.Reader
	consumer *Consumer

	done      chan struct{}
	closeOnce sync.Once
	pingGroup sync.WaitGroup
}

// LOGIN userName password cpu localIP {lobby name and version}[TAB]userID[TAB]{compFlags}
// The password travels as base64 over md5, per the TASServer protocol.
func loginCommand(config *common.LobbyConfig) string {
	digest := md5.Sum([]byte(config.Password))
	encoded := base64.StdEncoding.EncodeToString(digest[:])
	return fmt.Sprintf("LOGIN %s %s 3200 * %s %s\t0\ta cl",
		config.Username, encoded, common.SoftwareName, common.SoftwareVersion)
}

func trimLine(line string) string {
	return strings.TrimRight(line, "\r\n")
}

// Connect dials the lobby server, performs the login handshake and replays
// the server's bulk state dump through the consumer. On return the link is
// synced, the keepalive is running and Listen may be called.
func Connect(config *common.LobbyConfig, consumer *Consumer) (*Link, error) {
	address := net.JoinHostPort(config.Host, strconv.Itoa(config.Port))
	conn, err := net.DialTimeout("tcp", address, dialTimeout)
	if err != nil {
		return nil, err
	}

	link := &Link{
		conn:     conn,
		reader:   bufio.NewReader(conn),
		consumer: consumer,
		done:     make(chan struct{}),
	}

	if err := link.handshake(config); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := link.bulkSync(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	link.pingGroup.Add(1)
	go link.sendPings(config.PingInterval)

	log.WithField("address", address).Info("Connected and synced to lobby server.")
	return link, nil
}

func (link *Link) handshake(config *common.LobbyConfig) error {
	// TASServer protocolVersion springVersion udpPort serverMode
	_ = link.conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	greeting, err := link.reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading server greeting: %w", err)
	}
	greeting = trimLine(greeting)
	if !strings.HasPrefix(greeting, "TASServer") {
		return fmt.Errorf("unexpected greeting from lobby server: %q", greeting)
	}
	log.WithField("server", strings.Fields(greeting)).Info("Lobby server greeting received.")

	if _, err := fmt.Fprintf(link.conn, "%s\n", loginCommand(config)); err != nil {
		return fmt.Errorf("sending login: %w", err)
	}

	// The server may emit unrelated lines before answering the login, skip
	// anything that is not the verdict.
	_ = link.conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	for {
		line, err := link.reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("waiting for login verdict: %w", err)
		}
		line = trimLine(line)
		if strings.HasPrefix(line, "ACCEPTED") {
			log.Info("Login accepted.")
			return nil
		}
		if strings.HasPrefix(line, "DENIED") {
			log.WithField("reply", line).Error("Login denied by lobby server.")
			return ErrLoginDenied
		}
	}
}

// bulkSync replays the initial state dump, up to and including the sync
// sentinel, through the consumer. The consumer leaves its quiet sync mode
// when it sees the sentinel.
func (link *Link) bulkSync() error {
	_ = link.conn.SetReadDeadline(time.Now().Add(syncTimeout))
	for {
		line, err := link.reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading bulk sync: %w", err)
		}
		line = trimLine(line)
		link.consumer.Consume(line)
		if line == SyncSentinel {
			break
		}
	}
	return link.conn.SetReadDeadline(time.Time{})
}

// Listen feeds live protocol lines to the consumer until the connection is
// closed locally or remotely. It always returns the read error that ended
// the loop; after Close that error is expected and reported as nil.
func (link *Link) Listen() error {
	for {
		line, err := link.reader.ReadString('\n')
		if err != nil {
			select {
			case <-link.done:
				return nil
			default:
				return err
			}
		}
		link.consumer.Consume(trimLine(line))
	}
}

// PING on a fixed interval keeps the lobby server from dropping us as idle.
func (link *Link) sendPings(interval time.Duration) {
	defer link.pingGroup.Done()

	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-link.done:
			return
		case <-ticker.C:
			if _, err := link.conn.Write([]byte("PING\n")); err != nil {
				log.WithError(err).Warn("Failed to send PING, keepalive stopping.")
				return
			}
		}
	}
}

// Close says goodbye to the lobby server, closes the socket and waits for
// the keepalive goroutine to stop. Safe to call more than once and
// concurrently with Listen.
func (link *Link) Close() {
	link.closeOnce.Do(func() {
		close(link.done)
		_ = link.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_, _ = link.conn.Write([]byte("EXIT\n"))
		if err := link.conn.Close(); err != nil {
			log.WithError(err).Error("Failed to close lobby server connection.")
		}
	})
	link.pingGroup.Wait()
}
