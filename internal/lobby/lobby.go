package lobby

import (
	"errors"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var ErrEmptyName = errors.New("name must not be empty")
var ErrNameTooLong = errors.New("name too long")

const (
	MaxLobbyName = 48
	MaxTeamName  = 32
	MaxUsername  = 32
)

// UserID identifies one connection for the lifetime of the process.
type UserID string

type User struct {
	ID       UserID
	Username string
	Score    int
	Team     string
}

// Lobby is one isolated game session. Every method expects the caller to hold
// the lobby lock; the store takes it around each command.
type Lobby struct {
	mu      sync.Mutex
	name    string
	users   map[UserID]*User
	order   []UserID // join order
	teams   map[string]map[UserID]struct{}
	target  int
	version int
}

func New(name string, target int) *Lobby {
	return &Lobby{
		name:    name,
		users:   make(map[UserID]*User),
		teams:   make(map[string]map[UserID]struct{}),
		target:  target,
	}
}

func (l *Lobby) Lock()   { l.mu.Lock() }
func (l *Lobby) Unlock() { l.mu.Unlock() }

func (l *Lobby) Name() string { return l.name }
func (l *Lobby) Version() int  { return l.version }
func (l *Lobby) Target() int   { return l.target }

func (l *Lobby) SetTarget(target int) { l.target = target }

func (l *Lobby) User(id UserID) (User, bool) {
	u, ok := l.users[id]
	if !ok {
		return User{}, false
	}
	return *u, true
}

// UsernameTaken reports whether another user than except already uses name.
func (l *Lobby) UsernameTaken(name string, except UserID) bool {
	for id, u := range l.users {
		if id != except && u.Username == name {
			return true
		}
	}
	return false
}

// Add inserts u without a team; any team on u is ignored.
func (l *Lobby) Add(u User) {
	if _, ok := l.users[u.ID]; !ok {
		l.order = append(l.order, u.ID)
	}
	u.Team = ""
	l.users[u.ID] = &u
	l.version++
}

// Rename changes the username of a member. Uniqueness is the caller's concern.
func (l *Lobby) Rename(id UserID, username string) bool {
	u, ok := l.users[id]
	if !ok || u.Username == username {
		return false
	}
	u.Username = username
	l.version++
	return true
}

// Remove deletes the user and its team membership.
func (l *Lobby) Remove(id UserID) (User, bool) {
	u, ok := l.users[id]
	if !ok {
		return User{}, false
	}
	l.leaveTeam(u)
	delete(l.users, id)
	l.order = slices.DeleteFunc(l.order, func(x UserID) bool { return x == id })
	l.version++
	return *u, true
}

// SetTeam moves the user into team, creating it if needed. An empty team only
// leaves the current one. It reports the previous team and whether that team
// was deleted because it became empty.
func (l *Lobby) SetTeam(id UserID, team string) (prev string, removed bool, changed bool) {
	u, ok := l.users[id]
	if !ok || u.Team == team {
		if ok {
			prev = u.Team
		}
		return prev, false, false
	}

	prev = u.Team
	removed = l.leaveTeam(u)
	if team != "" {
		members, ok := l.teams[team]
		if !ok {
			members = make(map[UserID]struct{})
			l.teams[team] = members
		}
		members[id] = struct{}{}
		u.Team = team
	}
	l.version++
	return prev, removed, true
}

// ReplaceTeams drops every team and installs assignment, which maps team names
// to members. Users missing from assignment end up without a team.
func (l *Lobby) ReplaceTeams(assignment map[string][]UserID) {
	for _, u := range l.users {
		u.Team = ""
	}
	clear(l.teams)
	for team, ids := range assignment {
		members := make(map[UserID]struct{}, len(ids))
		for _, id := range ids {
			u, ok := l.users[id]
			if !ok {
				continue
			}
			members[id] = struct{}{}
			u.Team = team
		}
		if len(members) > 0 {
			l.teams[team] = members
		}
	}
	l.version++
}

func (l *Lobby) AddScore(id UserID, points int) int {
	u := l.users[id]
	u.Score += points
	l.version++
	return u.Score
}

// Members returns user ids in join order.
func (l *Lobby) Members() []UserID {
	return slices.Clone(l.order)
}

func (l *Lobby) HasTeam(team string) bool {
	_, ok := l.teams[team]
	return ok
}

func (l *Lobby) leaveTeam(u *User) bool {
	if u.Team == "" {
		return false
	}
	members := l.teams[u.Team]
	delete(members, u.ID)
	removed := false
	if len(members) == 0 {
		delete(l.teams, u.Team)
		removed = true
	}
	u.Team = ""
	return removed
}

// CleanName trims and NFC-normalises a user supplied name. Case is preserved.
func CleanName(raw string, limit int) (string, error) {
	name := norm.NFC.String(strings.TrimSpace(raw))
	if name == "" {
		return "", ErrEmptyName
	}
	if utf8.RuneCountInString(name) > limit {
		return "", ErrNameTooLong
	}
	return name, nil
}
