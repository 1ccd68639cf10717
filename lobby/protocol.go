package lobby

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// SyncSentinel is the line that ends the bulk state dump the lobby server
// sends right after login. Everything before it describes pre-existing state,
// everything after it is live streaming.
const SyncSentinel = "LOGININFOEND"

// The eight server commands this program acts on. Every other command in the
// lobby protocol is ignored on purpose, so new server versions can add
// commands without breaking us.
type eventKind int

const (
	eventAddUser eventKind = iota
	eventRemoveUser
	eventBattleOpened
	eventBattleClosed
	eventJoinedBattle
	eventLeftBattle
	eventClientStatus
	eventUpdateBattleInfo
	eventSyncDone
	eventIgnored
)

// event is one decoded protocol line. Only the fields belonging to its kind
// are set.
type event struct {
	kind eventKind

	user      User   // eventAddUser
	name      string // eventRemoveUser, eventClientStatus, join/leave
	battleID  string
	status    Status // eventClientStatus
	host      *Host  // eventBattleOpened
	specCount int    // eventUpdateBattleInfo
	locked    bool
	mapHash   string
	mapName   string
}

var errBadFormat = errors.New("malformed command line")

// decodeEvent parses one protocol line into a tagged event. Decoding happens
// entirely here, before any registry state is touched, so a malformed line
// can never leave a half-applied mutation behind.
func decodeEvent(line string) (event, error) {
	name := line
	if cut := strings.IndexAny(line, " \t"); cut >= 0 {
		name = line[:cut]
	}

	switch name {
	case "ADDUSER":
		// ADDUSER userName country cpu [accountID]
		fields := strings.Fields(line)
		if len(fields) < 4 || len(fields) > 5 {
			return event{}, errBadFormat
		}
		accountID := 0
		if len(fields) == 5 {
			parsed, err := strconv.Atoi(fields[4])
			if err != nil {
				return event{}, errBadFormat
			}
			accountID = parsed
		}
		return event{kind: eventAddUser, user: User{
			Name:      fields[1],
			Country:   fields[2],
			CPU:       fields[3],
			AccountID: accountID,
		}}, nil

	case "REMOVEUSER":
		// REMOVEUSER userName
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return event{}, errBadFormat
		}
		return event{kind: eventRemoveUser, name: fields[1]}, nil

	case "BATTLEOPENED":
		// BATTLEOPENED battleID type natType founder ip port maxPlayers
		// passworded rank mapHash {engineName} {engineVersion} {map} {title} {gameName}
		segments := strings.Split(line, "\t")
		if len(segments) != 5 {
			return event{}, errBadFormat
		}
		head := strings.Fields(segments[0])
		if len(head) != 12 {
			return event{}, errBadFormat
		}
		return event{kind: eventBattleOpened, host: &Host{
			BattleID:      head[1],
			Type:          head[2],
			NatType:       head[3],
			Founder:       head[4],
			IP:            head[5],
			Port:          head[6],
			MaxPlayers:    head[7],
			Passworded:    head[8],
			Rank:          head[9],
			MapHash:       head[10],
			EngineName:    head[11],
			EngineVersion: segments[1],
			Map:           segments[2],
			Title:         segments[3],
			GameName:      segments[4],
			PlayerCount:   1,
		}}, nil

	case "BATTLECLOSED":
		// BATTLECLOSED battleID
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return event{}, errBadFormat
		}
		return event{kind: eventBattleClosed, battleID: fields[1]}, nil

	case "JOINEDBATTLE":
		// JOINEDBATTLE battleID userName [scriptPassword]
		fields := strings.Fields(line)
		if len(fields) != 3 && len(fields) != 4 {
			return event{}, errBadFormat
		}
		return event{kind: eventJoinedBattle, battleID: fields[1], name: fields[2]}, nil

	case "LEFTBATTLE":
		// LEFTBATTLE battleID userName
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return event{}, errBadFormat
		}
		return event{kind: eventLeftBattle, battleID: fields[1], name: fields[2]}, nil

	case "CLIENTSTATUS":
		// CLIENTSTATUS userName status
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return event{}, errBadFormat
		}
		value, err := strconv.Atoi(fields[2])
		if err != nil {
			return event{}, errBadFormat
		}
		return event{kind: eventClientStatus, name: fields[1], status: DecodeStatus(value)}, nil

	case "UPDATEBATTLEINFO":
		// UPDATEBATTLEINFO battleID spectatorCount locked mapHash {mapName}
		fields := strings.Fields(line)
		if len(fields) < 5 {
			return event{}, errBadFormat
		}
		specCount, err := strconv.Atoi(fields[2])
		if err != nil {
			return event{}, errBadFormat
		}
		return event{
			kind:      eventUpdateBattleInfo,
			battleID:  fields[1],
			specCount: specCount,
			locked:    fields[3] == "1",
			mapHash:   fields[4],
			mapName:   strings.Join(fields[5:], " "),
		}, nil

	case SyncSentinel:
		return event{kind: eventSyncDone}, nil
	}

	return event{kind: eventIgnored}, nil
}

// Consumer applies the lobby protocol stream to a Registry, one line at a
// time. It is the registry's only writer.
type Consumer struct {
	registry *Registry
	syncing  bool
}

// NewConsumer creates a Consumer in bulk-sync mode: events referencing state
// that has not settled yet are expected during the initial dump and logged
// quietly until the sync sentinel arrives.
func NewConsumer(registry *Registry) *Consumer {
	return &Consumer{registry: registry, syncing: true}
}

// Registry returns the registry this consumer writes to.
func (c *Consumer) Registry() *Registry {
	return c.registry
}

// Consume decodes one protocol line and applies it. Malformed lines and
// references to unknown users or battles are logged and skipped, never
// returned: nothing a single line contains may take down the read loop.
func (c *Consumer) Consume(line string) {
	decoded, err := decodeEvent(line)
	if err != nil {
		log.WithField("line", line).Error("Malformed lobby command, skipping.")
		return
	}

	switch decoded.kind {
	case eventAddUser:
		c.registry.AddUser(decoded.user.Name, decoded.user.Country,
			decoded.user.CPU, decoded.user.AccountID)

	case eventRemoveUser:
		if err := c.registry.RemoveUser(decoded.name); err != nil {
			c.logInconsistency(err, "REMOVEUSER", log.Fields{"user": decoded.name})
		}

	case eventBattleOpened:
		if err := c.registry.OpenBattle(decoded.host); err != nil {
			c.logInconsistency(err, "BATTLEOPENED", log.Fields{
				"battleID": decoded.host.BattleID,
				"founder":  decoded.host.Founder,
			})
		}

	case eventBattleClosed:
		c.registry.CloseBattle(decoded.battleID)

	case eventJoinedBattle:
		if err := c.registry.JoinBattle(decoded.battleID, decoded.name); err != nil {
			c.logInconsistency(err, "JOINEDBATTLE", log.Fields{
				"battleID": decoded.battleID,
				"user":     decoded.name,
			})
		}

	case eventLeftBattle:
		if err := c.registry.LeaveBattle(decoded.battleID, decoded.name); err != nil {
			c.logInconsistency(err, "LEFTBATTLE", log.Fields{
				"battleID": decoded.battleID,
				"user":     decoded.name,
			})
		}

	case eventClientStatus:
		if err := c.registry.SetUserStatus(decoded.name, decoded.status); err != nil {
			c.logInconsistency(err, "CLIENTSTATUS", log.Fields{"user": decoded.name})
		}

	case eventUpdateBattleInfo:
		err := c.registry.UpdateBattleInfo(decoded.battleID, decoded.specCount,
			decoded.locked, decoded.mapHash, decoded.mapName)
		if err != nil {
			c.logInconsistency(err, "UPDATEBATTLEINFO", log.Fields{"battleID": decoded.battleID})
		}

	case eventSyncDone:
		c.syncing = false
		log.Info("Initial lobby state sync complete, streaming live events.")

	case eventIgnored:
		// Not a command we mirror.
	}
}

// During the bulk sync the server routinely sends status and membership
// events slightly ahead of their prerequisites, so those are not worth an
// error-level log line.
func (c *Consumer) logInconsistency(err error, command string, fields log.Fields) {
	entry := log.WithFields(fields).WithError(err)
	if c.syncing {
		entry.Debug(fmt.Sprintf("Inconsistent %s during bulk sync.", command))
	} else {
		entry.Error(fmt.Sprintf("Inconsistent %s, skipping.", command))
	}
}
