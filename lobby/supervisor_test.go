package lobby

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/springfiles/spring-hostlist/common"
)

// After a lost connection the supervisor must rebuild from a fresh
// handshake: nothing from the first registry may survive into the second.
func TestSupervisorResyncsAfterDisconnect(t *testing.T) {
	fake := startFakeLobby(t,
		scriptedSync([]string{
			"ADDUSER alice SE 3200",
			battleOpenedLine("1", "alice", "XTA"),
		}, nil), // script returns, connection drops
		scriptedSync([]string{
			"ADDUSER bob DE 3200",
			battleOpenedLine("2", "bob", "Evolution RTS"),
		}, drainUntilClosed),
	)

	shutdown := make(chan struct{})
	supervisor := NewSupervisor(fake.lobbyConfig(), shutdown)
	go supervisor.Run()

	require.Eventually(t, func() bool {
		rows := supervisor.SnapshotAll()
		return len(rows) == 1 && rows[0].BattleID == "2"
	}, 5*time.Second, 20*time.Millisecond,
		"after the resync only the second upstream state may be visible")

	for _, row := range supervisor.SnapshotAll() {
		assert.NotEqual(t, "1", row.BattleID, "no stale battle from before the reconnect")
	}

	close(shutdown)
	supervisor.Shutdown()
}

func TestSupervisorRetryBudgetIsFatal(t *testing.T) {
	// A loopback port with nothing listening behind it.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())

	config := &common.LobbyConfig{
		Host:             "127.0.0.1",
		Port:             port,
		Username:         "hostlist",
		Password:         "hunter2",
		ConnectTries:     2,
		ConnectRetryWait: 10 * time.Millisecond,
	}

	shutdown := make(chan struct{})
	defer close(shutdown)
	supervisor := NewSupervisor(config, shutdown)
	go supervisor.Run()

	select {
	case err := <-supervisor.Done():
		assert.Error(t, err, "an exhausted retry budget must surface as fatal")
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not give up within the retry budget")
	}
}

func TestSupervisorLoginDeniedIsFatal(t *testing.T) {
	fake := startFakeLobby(t, func(t *testing.T, conn net.Conn, reader *bufio.Reader) {
		greetAndDeny(t, conn, reader)
	})

	shutdown := make(chan struct{})
	defer close(shutdown)
	supervisor := NewSupervisor(fake.lobbyConfig(), shutdown)
	go supervisor.Run()

	select {
	case err := <-supervisor.Done():
		assert.ErrorIs(t, err, ErrLoginDenied)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not treat the denied login as fatal")
	}
}

func greetAndDeny(t *testing.T, conn net.Conn, reader *bufio.Reader) {
	t.Helper()
	if _, err := conn.Write([]byte("TASServer 0.35 104.0 8201 0\n")); err != nil {
		return
	}
	if _, err := reader.ReadString('\n'); err != nil {
		return
	}
	_, _ = conn.Write([]byte("DENIED Bad username/password\n"))
}

func TestSupervisorShutdownPreemptsRetries(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())

	config := &common.LobbyConfig{
		Host:             "127.0.0.1",
		Port:             port,
		Username:         "hostlist",
		Password:         "hunter2",
		ConnectTries:     1000,
		ConnectRetryWait: 50 * time.Millisecond,
	}

	shutdown := make(chan struct{})
	supervisor := NewSupervisor(config, shutdown)

	finished := make(chan struct{})
	go func() {
		supervisor.Run()
		close(finished)
	}()

	time.Sleep(20 * time.Millisecond)
	close(shutdown)

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor kept retrying after shutdown was requested")
	}
}

func TestSupervisorSnapshotsBeforeFirstConnect(t *testing.T) {
	supervisor := NewSupervisor(&common.LobbyConfig{}, make(chan struct{}))

	assert.Empty(t, supervisor.SnapshotAll())
	assert.Empty(t, supervisor.SnapshotOpen())
	assert.Empty(t, supervisor.SnapshotIngame())
	users, hosts, open, ingame := supervisor.Counts()
	assert.Zero(t, users+hosts+open+ingame)
}
