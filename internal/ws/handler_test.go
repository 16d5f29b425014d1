package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/guess-lobby-backend/internal/engine"
	"github.com/DoyleJ11/guess-lobby-backend/internal/hub"
	"github.com/DoyleJ11/guess-lobby-backend/internal/lobby"
	"github.com/DoyleJ11/guess-lobby-backend/internal/store"
	"github.com/DoyleJ11/guess-lobby-backend/pkg/types"
)

type constRand int

func (c constRand) IntN(n int) int { return int(c) % n }

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	s := store.New(store.WithRand(constRand(6))) // target 7
	h := hub.NewHub(ctx, engine.NewProcessor(s))
	srv := httptest.NewServer(Handler(h, Options{}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })

	f := read(t, conn)
	require.Equal(t, types.EventUpdateLobbies, f.Event)
	return conn
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var f frame
	require.NoError(t, wsjson.Read(ctx, conn, &f))
	return f
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, types.ClientMessage{Event: event, Data: raw}))
}

func readState(t *testing.T, conn *websocket.Conn) types.LobbyState {
	t.Helper()
	f := read(t, conn)
	require.Equal(t, types.EventUpdateLobbyState, f.Event, "data: %s", f.Data)
	var st types.LobbyState
	require.NoError(t, json.Unmarshal(f.Data, &st))
	return st
}

func readError(t *testing.T, conn *websocket.Conn) types.ErrorPayload {
	t.Helper()
	f := read(t, conn)
	require.Equal(t, types.EventError, f.Event)
	var p types.ErrorPayload
	require.NoError(t, json.Unmarshal(f.Data, &p))
	return p
}

func TestHandler_JoinAndGuess(t *testing.T) {
	srv := newServer(t)
	conn := dial(t, srv)

	send(t, conn, types.EventJoin, types.JoinPayload{Username: "ann", Lobby: "general"})
	st := readState(t, conn)
	assert.Equal(t, "general", st.Lobby)
	require.Len(t, st.Users, 1)
	assert.Equal(t, "ann", st.Users[0].Username)

	send(t, conn, types.EventGuess, map[string]any{"guess": "7"})
	st = readState(t, conn)
	assert.Equal(t, 1, st.Users[0].Score)

	f := read(t, conn)
	assert.Equal(t, types.EventGuessResult, f.Event)
	var msg string
	require.NoError(t, json.Unmarshal(f.Data, &msg))
	assert.Contains(t, msg, "Correct")
}

func TestHandler_BadFramesGetErrors(t *testing.T) {
	srv := newServer(t)
	conn := dial(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("{not json")))
	assert.Equal(t, "bad json", readError(t, conn).Message)

	send(t, conn, "dance", nil)
	assert.Contains(t, readError(t, conn).Message, "unknown event")

	send(t, conn, types.EventJoin, types.JoinPayload{Username: "ann", Lobby: "general"})
	_ = readState(t, conn)

	send(t, conn, types.EventGuess, map[string]any{"guess": "seven"})
	p := readError(t, conn)
	assert.Equal(t, types.EventGuess, p.Command)
	assert.Contains(t, p.Message, "not a whole number")

	send(t, conn, types.EventCreateLobby, "general")
	p = readError(t, conn)
	assert.Equal(t, string(engine.KindConflict), p.Kind)
}

func TestHandler_DisconnectNotifiesLobby(t *testing.T) {
	srv := newServer(t)
	a, b := dial(t, srv), dial(t, srv)

	send(t, a, types.EventJoin, types.JoinPayload{Username: "ann", Lobby: "general"})
	_ = readState(t, a)
	send(t, b, types.EventJoin, types.JoinPayload{Username: "bob", Lobby: "general"})
	_ = readState(t, a)
	require.Len(t, readState(t, b).Users, 2)

	require.NoError(t, a.Close(websocket.StatusNormalClosure, "bye"))

	st := readState(t, b)
	require.Len(t, st.Users, 1)
	assert.Equal(t, "bob", st.Users[0].Username)
}

func TestToEngineCommand(t *testing.T) {
	const id = lobby.UserID("u1")
	raw := func(s string) json.RawMessage { return json.RawMessage(s) }

	cases := []struct {
		name    string
		msg     types.ClientMessage
		want    engine.Command
		wantErr bool
	}{
		{"join", types.ClientMessage{Event: "join", Data: raw(`{"username":"ann","lobby":"general"}`)},
			engine.Join{User: id, Username: "ann", Lobby: "general"}, false},
		{"guess int", types.ClientMessage{Event: "guess", Data: raw(`{"guess":12}`)},
			engine.Guess{User: id, Value: 12}, false},
		{"guess string", types.ClientMessage{Event: "guess", Data: raw(`{"guess":" 12 ","lobby":"general"}`)},
			engine.Guess{User: id, Value: 12, Lobby: "general"}, false},
		{"guess float", types.ClientMessage{Event: "guess", Data: raw(`{"guess":4.5}`)}, nil, true},
		{"create", types.ClientMessage{Event: "createLobby", Data: raw(`"side"`)},
			engine.CreateLobby{User: id, Name: "side"}, false},
		{"join team", types.ClientMessage{Event: "joinTeam", Data: raw(`{"teamName":"red"}`)},
			engine.JoinTeam{User: id, Team: "red"}, false},
		{"join lobby object", types.ClientMessage{Event: "joinLobby", Data: raw(`{"lobby":"side","username":"ann"}`)},
			engine.JoinLobby{User: id, Lobby: "side", Username: "ann"}, false},
		{"join lobby bare", types.ClientMessage{Event: "joinLobby", Data: raw(`"side"`)},
			engine.JoinLobby{User: id, Lobby: "side"}, false},
		{"leave team", types.ClientMessage{Event: "leaveTeam"}, engine.LeaveTeam{User: id}, false},
		{"assign", types.ClientMessage{Event: "assignTeams", Data: raw(`{"groupSize":3}`)},
			engine.AssignTeams{User: id, GroupSize: 3}, false},
		{"missing data", types.ClientMessage{Event: "join"}, nil, true},
		{"unknown", types.ClientMessage{Event: "leave"}, nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := toEngineCommand(id, tc.msg)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestToLobbyState_Detached(t *testing.T) {
	snap := lobby.Snapshot{
		Name:    "general",
		Version: 3,
		Users:   []lobby.Member{{ID: "u1", Username: "ann", Score: 2, Team: "red"}},
		Teams:   map[string][]string{"red": {"ann"}},
	}
	st := ToLobbyState(snap)
	st.Teams["red"][0] = "zed"

	assert.Equal(t, "ann", snap.Teams["red"][0])
	assert.Equal(t, []types.UserState{{Username: "ann", Score: 2, Team: "red"}}, st.Users)
}
