package hub

import (
	"fmt"

	"github.com/DoyleJ11/guess-lobby-backend/internal/engine"
	"github.com/DoyleJ11/guess-lobby-backend/internal/lobby"
)

// Notification is what a client outbox carries.
type Notification interface{ isNotification() }

type LobbyStateUpdate struct {
	State lobby.Snapshot
}

type GuessResult struct {
	Value   int
	Correct bool
	Score   int
	Message string
}

type LobbyListUpdate struct {
	Lobbies []string
}

type CommandError struct {
	Kind    engine.Kind
	Command engine.CommandType
	Message string
}

// leftLobby marks a lobby the user has moved out of. The hub consumes it to
// advance the client's last seen version and never forwards it.
type leftLobby struct {
	Lobby   string
	Version int
}

func (LobbyStateUpdate) isNotification() {}
func (GuessResult) isNotification()      {}
func (LobbyListUpdate) isNotification()  {}
func (CommandError) isNotification()     {}
func (leftLobby) isNotification()        {}

// Outbound addresses one notification to a set of clients, or to every
// connected client when Everyone is set.
type Outbound struct {
	To       []lobby.UserID
	Everyone bool
	Note     Notification
}

// Plan turns an applied command into deliveries. Each affected lobby's
// snapshot goes to that lobby's members only, so a user switching lobbies
// costs exactly one update in each of the two lobbies.
func Plan(res engine.Result) []Outbound {
	var out []Outbound

	for _, snap := range res.Affected {
		if res.PrevLobby != "" && snap.Name == res.PrevLobby {
			out = append(out, Outbound{
				To:   []lobby.UserID{res.User},
				Note: leftLobby{Lobby: snap.Name, Version: snap.Version},
			})
		}
		ids := snap.IDs()
		if len(ids) == 0 {
			continue
		}
		out = append(out, Outbound{To: ids, Note: LobbyStateUpdate{State: snap}})
	}

	if !res.Changed && res.Current != nil && refreshesOriginator(res.Command) {
		out = append(out, Outbound{
			To:   []lobby.UserID{res.User},
			Note: LobbyStateUpdate{State: *res.Current},
		})
	}

	if res.Lobbies != nil {
		out = append(out, Outbound{Everyone: true, Note: LobbyListUpdate{Lobbies: res.Lobbies}})
	}

	if g := res.Guess; g != nil {
		out = append(out, Outbound{
			To: []lobby.UserID{res.User},
			Note: GuessResult{
				Value:   g.Value,
				Correct: g.Correct,
				Score:   g.Score,
				Message: guessMessage(*g),
			},
		})
	}
	return out
}

// PlanError reports a rejected command to its originator. Commands without
// an originator (REST) produce nothing.
func PlanError(cmd engine.Command, err error) []Outbound {
	if cmd == nil || cmd.Origin() == "" {
		return nil
	}
	return []Outbound{{
		To: []lobby.UserID{cmd.Origin()},
		Note: CommandError{
			Kind:    engine.KindOf(err),
			Command: cmd.Type(),
			Message: err.Error(),
		},
	}}
}

func refreshesOriginator(t engine.CommandType) bool {
	switch t {
	case engine.CmdJoin, engine.CmdJoinLobby, engine.CmdJoinTeam, engine.CmdLeaveTeam:
		return true
	}
	return false
}

func guessMessage(g engine.GuessOutcome) string {
	if g.Correct {
		return fmt.Sprintf("Correct! %d was the number. Your score is now %d.", g.Value, g.Score)
	}
	return fmt.Sprintf("%d is not the number. Try again!", g.Value)
}
