package ws

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DoyleJ11/guess-lobby-backend/internal/engine"
	"github.com/DoyleJ11/guess-lobby-backend/internal/hub"
	"github.com/DoyleJ11/guess-lobby-backend/internal/lobby"
	"github.com/DoyleJ11/guess-lobby-backend/pkg/types"
)

var ErrUnknownEvent = errors.New("unknown event")

// toEngineCommand decodes one client frame into a command issued by id.
func toEngineCommand(id lobby.UserID, m types.ClientMessage) (engine.Command, error) {
	switch m.Event {
	case types.EventJoin:
		var p types.JoinPayload
		if err := decode(m.Data, &p); err != nil {
			return nil, err
		}
		return engine.Join{User: id, Username: p.Username, Lobby: p.Lobby}, nil

	case types.EventGuess:
		var p types.GuessPayload
		if err := decode(m.Data, &p); err != nil {
			return nil, err
		}
		return engine.Guess{User: id, Value: int(p.Guess), Lobby: p.Lobby}, nil

	case types.EventCreateLobby:
		var name string
		if err := decode(m.Data, &name); err != nil {
			return nil, err
		}
		return engine.CreateLobby{User: id, Name: name}, nil

	case types.EventJoinTeam:
		var p types.JoinTeamPayload
		if err := decode(m.Data, &p); err != nil {
			return nil, err
		}
		return engine.JoinTeam{User: id, Team: p.TeamName, Lobby: p.Lobby}, nil

	case types.EventJoinLobby:
		var p types.JoinLobbyPayload
		// a bare lobby name is accepted too
		if data := bytes.TrimSpace(m.Data); len(data) > 0 && data[0] == '"' {
			if err := decode(data, &p.Lobby); err != nil {
				return nil, err
			}
		} else if err := decode(m.Data, &p); err != nil {
			return nil, err
		}
		return engine.JoinLobby{User: id, Lobby: p.Lobby, Username: p.Username}, nil

	case types.EventLeaveTeam:
		return engine.LeaveTeam{User: id}, nil

	case types.EventAssignTeams:
		var p types.AssignTeamsPayload
		if err := decode(m.Data, &p); err != nil {
			return nil, err
		}
		return engine.AssignTeams{User: id, GroupSize: p.GroupSize}, nil

	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownEvent, m.Event)
	}
}

func decode(data json.RawMessage, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return errors.New("missing data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		if errors.Is(err, types.ErrNotANumber) {
			return err
		}
		return fmt.Errorf("bad data: %w", err)
	}
	return nil
}

// toServerMessage renders a notification as the frame the client sees.
func toServerMessage(n hub.Notification) (types.ServerMessage, bool) {
	switch note := n.(type) {
	case hub.LobbyStateUpdate:
		return types.ServerMessage{Event: types.EventUpdateLobbyState, Data: ToLobbyState(note.State)}, true
	case hub.GuessResult:
		return types.ServerMessage{Event: types.EventGuessResult, Data: note.Message}, true
	case hub.LobbyListUpdate:
		return types.ServerMessage{Event: types.EventUpdateLobbies, Data: note.Lobbies}, true
	case hub.CommandError:
		return types.ServerMessage{Event: types.EventError, Data: types.ErrorPayload{
			Kind:    string(note.Kind),
			Command: string(note.Command),
			Message: note.Message,
		}}, true
	default:
		return types.ServerMessage{}, false
	}
}

// ToLobbyState converts a snapshot to its wire form.
func ToLobbyState(s lobby.Snapshot) types.LobbyState {
	st := types.LobbyState{
		Lobby:   s.Name,
		Version: s.Version,
		Users:   make([]types.UserState, len(s.Users)),
		Teams:   make(map[string][]string, len(s.Teams)),
	}
	for i, m := range s.Users {
		st.Users[i] = types.UserState{Username: m.Username, Score: m.Score, Team: m.Team}
	}
	for team, names := range s.Teams {
		st.Teams[team] = append([]string(nil), names...)
	}
	return st
}
