package lobby

import (
	"cmp"
	"slices"
)

type Member struct {
	ID       UserID
	Username string
	Score    int
	Team     string
}

// Snapshot is a detached copy of a lobby. Users are in leaderboard order
// (score descending, then username); team rosters hold sorted usernames.
type Snapshot struct {
	Name    string
	Version int
	Users   []Member
	Teams   map[string][]string
}

// Snapshot copies the lobby; nothing in the result aliases lobby state.
func (l *Lobby) Snapshot() Snapshot {
	s := Snapshot{
		Name:    l.name,
		Version: l.version,
		Users:   make([]Member, 0, len(l.users)),
		Teams:   make(map[string][]string, len(l.teams)),
	}

	for _, id := range l.order {
		u := l.users[id]
		s.Users = append(s.Users, Member{ID: u.ID, Username: u.Username, Score: u.Score, Team: u.Team})
	}
	slices.SortStableFunc(s.Users, func(a, b Member) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Username, b.Username)
	})

	for team, members := range l.teams {
		names := make([]string, 0, len(members))
		for id := range members {
			names = append(names, l.users[id].Username)
		}
		slices.Sort(names)
		s.Teams[team] = names
	}

	return s
}

// IDs returns the ids of every member in the snapshot.
func (s Snapshot) IDs() []UserID {
	out := make([]UserID, len(s.Users))
	for i, m := range s.Users {
		out[i] = m.ID
	}
	return out
}

func (s Snapshot) Member(id UserID) (Member, bool) {
	for _, m := range s.Users {
		if m.ID == id {
			return m, true
		}
	}
	return Member{}, false
}
