package lobby

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The two examples in the comment of DecodeStatus come straight from the
// protocol documentation: 88 is a rank-6 bot in the lobby, 93 the same kind
// of bot while ingame.
func TestDecodeStatus(t *testing.T) {
	cases := []struct {
		name     string
		value    int
		expected Status
	}{
		{"zero", 0, Status{}},
		{"ingame", 1, Status{IsIngame: true}},
		{"away", 2, Status{IsAway: true}},
		{"ingameAndAway", 3, Status{IsIngame: true, IsAway: true}},
		{"rankOne", 4, Status{Rank: 1}},
		{"moderator", 32, Status{IsModerator: true}},
		{"lobbyBot", 88, Status{IsBot: true, Rank: 6}},
		{"ingameBot", 93, Status{IsBot: true, Rank: 7, IsIngame: true}},
		{"everything", 127, Status{IsIngame: true, IsAway: true, Rank: 7, IsModerator: true, IsBot: true}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.expected, DecodeStatus(c.value))
		})
	}
}

func TestHostRowRecordMatchesHeader(t *testing.T) {
	row := HostRow{
		BattleID:      "7",
		Founder:       "alice",
		Passworded:    "0",
		Rank:          "1",
		EngineVersion: "104.0",
		Map:           "DeltaSiegeDry",
		Title:         "Alice's game",
		GameName:      "Evolution RTS",
		Locked:        true,
		SpecCount:     2,
		PlayerCount:   5,
		IsIngame:      false,
	}

	header := HostRowHeader()
	record := row.Record()
	require.Equal(t, len(header), len(record), "header and record must have the same arity")

	assert.Equal(t, "battleID", header[0])
	assert.Equal(t, "7", record[0])
	assert.Equal(t, "alice", record[1])
	assert.Equal(t, "true", record[8])
	assert.Equal(t, "2", record[9])
	assert.Equal(t, "5", record[10])
	assert.Equal(t, "false", record[11])
}

// player_count = len(user_list) - spec_count + 1, the founder being counted
// among the spectators but never in the user list.
func TestPlayerCountAccounting(t *testing.T) {
	registry := NewRegistry()
	registry.AddUser("alice", "SE", "3200", 1)
	registry.AddUser("bob", "DE", "3200", 2)
	registry.AddUser("carol", "FR", "3200", 3)

	require.NoError(t, registry.OpenBattle(&Host{BattleID: "1", Founder: "alice", PlayerCount: 1}))

	require.NoError(t, registry.JoinBattle("1", "bob"))
	require.NoError(t, registry.JoinBattle("1", "carol"))
	row, _ := registry.LookupHost("1")
	assert.Equal(t, 3, row.PlayerCount)

	// Two spectators, one of them the founder.
	require.NoError(t, registry.UpdateBattleInfo("1", 2, false, "1234", ""))
	row, _ = registry.LookupHost("1")
	assert.Equal(t, 1, row.PlayerCount)
	assert.Equal(t, 2, row.SpecCount)

	require.NoError(t, registry.LeaveBattle("1", "bob"))
	row, _ = registry.LookupHost("1")
	assert.Equal(t, 0, row.PlayerCount)
}

func TestJoinBattleIsDuplicateSafe(t *testing.T) {
	registry := NewRegistry()
	registry.AddUser("alice", "SE", "3200", 1)
	registry.AddUser("bob", "DE", "3200", 2)
	require.NoError(t, registry.OpenBattle(&Host{BattleID: "1", Founder: "alice", PlayerCount: 1}))

	require.NoError(t, registry.JoinBattle("1", "bob"))
	require.NoError(t, registry.JoinBattle("1", "bob"))
	row, _ := registry.LookupHost("1")
	assert.Equal(t, 2, row.PlayerCount, "joining twice must not add the user twice")
}

func TestRemoveUserCascadesToFoundedBattle(t *testing.T) {
	registry := NewRegistry()
	registry.AddUser("alice", "SE", "3200", 1)
	registry.AddUser("bob", "DE", "3200", 2)
	require.NoError(t, registry.OpenBattle(&Host{BattleID: "1", Founder: "alice", PlayerCount: 1}))
	require.NoError(t, registry.OpenBattle(&Host{BattleID: "2", Founder: "bob", PlayerCount: 1}))

	require.NoError(t, registry.RemoveUser("alice"))

	_, exists := registry.LookupHost("1")
	assert.False(t, exists, "removing the founder must remove the battle")
	assert.Len(t, registry.SnapshotAll(), 1)
	assert.Len(t, registry.SnapshotOpen(), 1)
	assert.Empty(t, registry.SnapshotIngame())

	_, exists = registry.LookupUser("alice")
	assert.False(t, exists)

	// A user without a battle leaves every battle untouched.
	registry.AddUser("carol", "FR", "3200", 3)
	require.NoError(t, registry.RemoveUser("carol"))
	assert.Len(t, registry.SnapshotAll(), 1)

	assert.ErrorIs(t, registry.RemoveUser("nobody"), ErrUnknownUser)
}

func TestCloseBattleClearsFounderLink(t *testing.T) {
	registry := NewRegistry()
	registry.AddUser("alice", "SE", "3200", 1)
	require.NoError(t, registry.OpenBattle(&Host{BattleID: "1", Founder: "alice", PlayerCount: 1}))

	registry.CloseBattle("1")
	assert.Empty(t, registry.SnapshotAll())
	assert.Empty(t, registry.SnapshotOpen())

	user, exists := registry.LookupUser("alice")
	require.True(t, exists)
	assert.Nil(t, user.Host, "closing the battle must clear the founder's back-reference")

	// Closing a battle nobody knows about is fine.
	registry.CloseBattle("999")
}

// A reused battleID must fully supersede the old entry, even when the old
// battle sat in the ingame table; otherwise the open/ingame tables stop
// being a disjoint union of the whole.
func TestOpenBattleReusedIDSupersedesStale(t *testing.T) {
	registry := NewRegistry()
	registry.AddUser("alice", "SE", "3200", 1)
	registry.AddUser("bob", "DE", "3200", 2)
	require.NoError(t, registry.OpenBattle(&Host{BattleID: "1", Founder: "alice", PlayerCount: 1}))
	require.NoError(t, registry.SetUserStatus("alice", Status{IsIngame: true}))

	require.NoError(t, registry.OpenBattle(&Host{BattleID: "1", Founder: "bob", PlayerCount: 1}))

	assert.Len(t, registry.SnapshotAll(), 1)
	assert.Empty(t, registry.SnapshotIngame(), "the stale ingame entry must be gone")
	rows := registry.SnapshotOpen()
	require.Len(t, rows, 1)
	assert.Equal(t, "bob", rows[0].Founder)

	alice, exists := registry.LookupUser("alice")
	require.True(t, exists)
	assert.Nil(t, alice.Host, "the superseded founder loses the back-reference")
}

func TestSetUserStatusMovesBattleBetweenTables(t *testing.T) {
	registry := NewRegistry()
	registry.AddUser("alice", "SE", "3200", 1)
	require.NoError(t, registry.OpenBattle(&Host{BattleID: "1", Founder: "alice", PlayerCount: 1}))

	require.NoError(t, registry.SetUserStatus("alice", Status{IsIngame: true}))
	assert.Empty(t, registry.SnapshotOpen())
	assert.Len(t, registry.SnapshotIngame(), 1)

	// Duplicate status events arrive routinely, they must be harmless.
	require.NoError(t, registry.SetUserStatus("alice", Status{IsIngame: true}))
	assert.Len(t, registry.SnapshotIngame(), 1)
	assert.Len(t, registry.SnapshotAll(), 1)

	require.NoError(t, registry.SetUserStatus("alice", Status{}))
	assert.Len(t, registry.SnapshotOpen(), 1)
	assert.Empty(t, registry.SnapshotIngame())

	assert.ErrorIs(t, registry.SetUserStatus("ghost", Status{}), ErrUnknownUser)
}
