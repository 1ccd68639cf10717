package lobby

import (
	"errors"
	"strconv"
	"sync"
)

// User represents one account logged in to the lobby server.
type User struct {
	Name      string
	Country   string
	CPU       string
	AccountID int

	IsIngame    bool
	IsAway      bool
	Rank        int
	IsModerator bool
	IsBot       bool

	// Host is non-nil while this user is the founder of a live battle.
	Host *Host
}

// Host represents a hosted battle (an autohost or a self-hosting user).
//
// Most of the attribute fields are kept as the raw strings received from the
// lobby server, because that is exactly what gets sent back out to clients.
type Host struct {
	BattleID      string
	Type          string
	NatType       string
	Founder       string
	IP            string
	Port          string
	MaxPlayers    string
	Passworded    string
	Rank          string
	MapHash       string
	EngineName    string
	EngineVersion string
	Map           string
	Title         string
	GameName      string

	Locked      bool
	SpecCount   int
	PlayerCount int
	IsIngame    bool

	// FounderUser links back to the User that opened this battle. It stays
	// nil when the founder was unknown at the time the battle was opened.
	FounderUser *User

	userList []*User
}

// The founder is included in SpecCount but never in userList, hence the +1.
func (h *Host) recomputePlayerCount() {
	h.PlayerCount = len(h.userList) - h.SpecCount + 1
}

// Status holds the five flags packed into the 7-bit CLIENTSTATUS field.
type Status struct {
	IsIngame    bool
	IsAway      bool
	Rank        int
	IsModerator bool
	IsBot       bool
}

// DecodeStatus unpacks a CLIENTSTATUS value. Bit 0 is ingame, bit 1 away,
// bits 2-4 the rank, bit 5 moderator, bit 6 bot. For example 88 (1011000) is
// a rank-6 bot that is not ingame, 93 (1011101) a rank-7 bot that is ingame.
func DecodeStatus(value int) Status {
	return Status{
		IsIngame:    value&1 != 0,
		IsAway:      value>>1&1 != 0,
		Rank:        value >> 2 & 7,
		IsModerator: value>>5&1 != 0,
		IsBot:       value>>6&1 != 0,
	}
}

// HostRow is an immutable value copy of the queryable fields of a Host, in
// the column order of the hostlist reply format. Query handlers work on rows
// so they never observe a battle mid-mutation.
type HostRow struct {
	BattleID      string
	Founder       string
	Passworded    string
	Rank          string
	EngineVersion string
	Map           string
	Title         string
	GameName      string
	Locked        bool
	SpecCount     int
	PlayerCount   int
	IsIngame      bool
}

// HostRowHeader returns the header record matching HostRow.Record.
func HostRowHeader() []string {
	return []string{"battleID", "founder", "passworded", "rank",
		"engineVersion", "map", "title", "gameName", "locked",
		"spec_count", "player_count", "is_ingame"}
}

// Record returns the row as its string fields, in reply column order.
func (r HostRow) Record() []string {
	return []string{r.BattleID, r.Founder, r.Passworded, r.Rank,
		r.EngineVersion, r.Map, r.Title, r.GameName,
		strconv.FormatBool(r.Locked), strconv.Itoa(r.SpecCount),
		strconv.Itoa(r.PlayerCount), strconv.FormatBool(r.IsIngame)}
}

func (h *Host) row() HostRow {
	return HostRow{
		BattleID:      h.BattleID,
		Founder:       h.Founder,
		Passworded:    h.Passworded,
		Rank:          h.Rank,
		EngineVersion: h.EngineVersion,
		Map:           h.Map,
		Title:         h.Title,
		GameName:      h.GameName,
		Locked:        h.Locked,
		SpecCount:     h.SpecCount,
		PlayerCount:   h.PlayerCount,
		IsIngame:      h.IsIngame,
	}
}

// Errors returned by Registry mutations when an event references state that
// does not exist. Callers log these and move on, they are never fatal.
var (
	ErrUnknownUser    = errors.New("user is not known to the registry")
	ErrUnknownBattle  = errors.New("battle is not known to the registry")
	ErrUnknownFounder = errors.New("founder of the battle is not a known user")
	ErrNotInBattle    = errors.New("user is not in the battle's user list")
)

// Registry is the in-memory mirror of the lobby server's state: all users
// and all battles, with the battles additionally indexed by whether their
// founder is ingame. It is written by a single protocol consumer and read
// concurrently by any number of query handlers.
type Registry struct {
	mutex sync.RWMutex

	users       map[string]*User
	hosts       map[string]*Host
	hostsOpen   map[string]*Host
	hostsIngame map[string]*Host
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		users:       make(map[string]*User),
		hosts:       make(map[string]*Host),
		hostsOpen:   make(map[string]*Host),
		hostsIngame: make(map[string]*Host),
	}
}

// AddUser inserts a user, overwriting any previous entry with the same name.
func (r *Registry) AddUser(name, country, cpu string, accountID int) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.users[name] = &User{
		Name:      name,
		Country:   country,
		CPU:       cpu,
		AccountID: accountID,
	}
}

// RemoveUser deletes a user. If the user founded a battle, that battle is
// removed from all three tables first.
func (r *Registry) RemoveUser(name string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	user, exists := r.users[name]
	if !exists {
		return ErrUnknownUser
	}

	if user.Host != nil {
		r.dropHost(user.Host)
	}
	delete(r.users, name)
	return nil
}

// Must be called with the write lock held.
func (r *Registry) dropHost(host *Host) {
	if host.FounderUser != nil {
		host.FounderUser.Host = nil
		host.FounderUser = nil
	}
	delete(r.hosts, host.BattleID)
	delete(r.hostsOpen, host.BattleID)
	delete(r.hostsIngame, host.BattleID)
}

// OpenBattle inserts a freshly decoded battle into the registry. New battles
// always start out open. The founder link is resolved by name; when the
// founder is unknown the battle is still inserted, without the link, and
// ErrUnknownFounder is returned.
func (r *Registry) OpenBattle(host *Host) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	// A reused battleID supersedes whatever was left under it; dropping the
	// old entry keeps the open/ingame tables a disjoint union of the whole.
	if stale, exists := r.hosts[host.BattleID]; exists {
		r.dropHost(stale)
	}

	r.hosts[host.BattleID] = host
	r.hostsOpen[host.BattleID] = host

	founder, exists := r.users[host.Founder]
	if !exists {
		return ErrUnknownFounder
	}
	host.FounderUser = founder
	founder.Host = host
	return nil
}

// CloseBattle removes a battle from all three tables and clears the founder
// link. Closing an unknown battle is not an error.
func (r *Registry) CloseBattle(battleID string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if host, exists := r.hosts[battleID]; exists {
		r.dropHost(host)
	}
}

// JoinBattle appends a user to a battle's user list and recomputes the
// player count. Joining twice is a no-op.
func (r *Registry) JoinBattle(battleID, userName string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	host, exists := r.hosts[battleID]
	if !exists {
		return ErrUnknownBattle
	}
	user, exists := r.users[userName]
	if !exists {
		return ErrUnknownUser
	}

	for _, present := range host.userList {
		if present == user {
			return nil
		}
	}
	host.userList = append(host.userList, user)
	host.recomputePlayerCount()
	return nil
}

// LeaveBattle removes a user from a battle's user list and recomputes the
// player count.
func (r *Registry) LeaveBattle(battleID, userName string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	host, exists := r.hosts[battleID]
	if !exists {
		return ErrUnknownBattle
	}
	user, exists := r.users[userName]
	if !exists {
		return ErrUnknownUser
	}

	for i, present := range host.userList {
		if present == user {
			host.userList = append(host.userList[:i], host.userList[i+1:]...)
			host.recomputePlayerCount()
			return nil
		}
	}
	return ErrNotInBattle
}

// SetUserStatus applies a decoded CLIENTSTATUS to a user. If the user
// founded a battle, the ingame flag is mirrored onto it and the battle is
// moved between the open and ingame tables. Duplicate status events leave
// the tables untouched.
func (r *Registry) SetUserStatus(userName string, status Status) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	user, exists := r.users[userName]
	if !exists {
		return ErrUnknownUser
	}

	user.IsIngame = status.IsIngame
	user.IsAway = status.IsAway
	user.Rank = status.Rank
	user.IsModerator = status.IsModerator
	user.IsBot = status.IsBot

	if host := user.Host; host != nil {
		host.IsIngame = status.IsIngame
		if status.IsIngame {
			delete(r.hostsOpen, host.BattleID)
			r.hostsIngame[host.BattleID] = host
		} else {
			delete(r.hostsIngame, host.BattleID)
			r.hostsOpen[host.BattleID] = host
		}
	}
	return nil
}

// UpdateBattleInfo applies an UPDATEBATTLEINFO to a battle and recomputes
// the player count.
func (r *Registry) UpdateBattleInfo(battleID string, specCount int, locked bool, mapHash, mapName string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	host, exists := r.hosts[battleID]
	if !exists {
		return ErrUnknownBattle
	}

	host.SpecCount = specCount
	host.Locked = locked
	host.MapHash = mapHash
	if mapName != "" {
		host.Map = mapName
	}
	host.recomputePlayerCount()
	return nil
}

func snapshot(table map[string]*Host) []HostRow {
	rows := make([]HostRow, 0, len(table))
	for _, host := range table {
		rows = append(rows, host.row())
	}
	return rows
}

// SnapshotAll returns value copies of every live battle.
func (r *Registry) SnapshotAll() []HostRow {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return snapshot(r.hosts)
}

// SnapshotOpen returns value copies of the battles still in the pre-game lobby.
func (r *Registry) SnapshotOpen() []HostRow {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return snapshot(r.hostsOpen)
}

// SnapshotIngame returns value copies of the battles whose game has started.
func (r *Registry) SnapshotIngame() []HostRow {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return snapshot(r.hostsIngame)
}

// LookupUser returns a value copy of a user.
func (r *Registry) LookupUser(name string) (User, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	user, exists := r.users[name]
	if !exists {
		return User{}, false
	}
	return *user, true
}

// LookupHost returns a value copy of a battle's queryable fields.
func (r *Registry) LookupHost(battleID string) (HostRow, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	host, exists := r.hosts[battleID]
	if !exists {
		return HostRow{}, false
	}
	return host.row(), true
}

// Counts reports the table sizes, for the periodic statistics log line.
func (r *Registry) Counts() (users, hosts, open, ingame int) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.users), len(r.hosts), len(r.hostsOpen), len(r.hostsIngame)
}
