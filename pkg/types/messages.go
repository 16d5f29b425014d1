package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// Client -> Server events
const (
	EventJoin        = "join"        // {username, lobby}
	EventGuess       = "guess"       // {guess, lobby}
	EventCreateLobby = "createLobby" // "name"
	EventJoinTeam    = "joinTeam"    // {teamName, lobby}
	EventJoinLobby   = "joinLobby"   // {lobby, username?}
	EventLeaveTeam   = "leaveTeam"   // no payload
	EventAssignTeams = "assignTeams" // {groupSize}
)

// Server -> Client events
const (
	EventUpdateLobbyState = "updateLobbyState" // LobbyState
	EventGuessResult      = "guessResult"      // string
	EventUpdateLobbies    = "updateLobbies"    // []string
	EventError            = "error"            // ErrorPayload
)

var ErrNotANumber = errors.New("guess is not a whole number")

// ClientMessage is one frame sent by a client.
type ClientMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ServerMessage is one frame sent to a client.
type ServerMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type JoinPayload struct {
	Username string `json:"username"`
	Lobby    string `json:"lobby"`
}

type GuessPayload struct {
	Guess GuessValue `json:"guess"`
	Lobby string     `json:"lobby"`
}

type JoinTeamPayload struct {
	TeamName string `json:"teamName"`
	Lobby    string `json:"lobby"`
}

type JoinLobbyPayload struct {
	Lobby    string `json:"lobby"`
	Username string `json:"username,omitempty"`
}

type AssignTeamsPayload struct {
	GroupSize int `json:"groupSize"`
}

type ErrorPayload struct {
	Kind    string `json:"kind"`
	Command string `json:"command,omitempty"`
	Message string `json:"message"`
}

// GuessValue accepts a JSON integer or a string holding one, since form
// inputs usually submit strings.
type GuessValue int

func (g *GuessValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(strings.TrimSpace(s))
	}
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return ErrNotANumber
	}
	*g = GuessValue(n)
	return nil
}
