package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/guess-lobby-backend/internal/lobby"
	"github.com/DoyleJ11/guess-lobby-backend/internal/partition"
	"github.com/DoyleJ11/guess-lobby-backend/internal/store"
)

// constRand makes every lobby target GuessMin+offset.
type constRand int

func (c constRand) IntN(n int) int { return int(c) % n }

func containsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

func newProcessor(t *testing.T) *Processor {
	t.Helper()
	s := store.New(store.WithRand(constRand(41))) // target 42
	return NewProcessor(s, WithPartitionSource(constRand(0)))
}

func mustApply(t *testing.T, p *Processor, cmd Command) Result {
	t.Helper()
	res, err := p.Apply(cmd)
	if err != nil {
		t.Fatalf("%s: unexpected err %v", cmd.Type(), err)
	}
	return res
}

type unknownCommand struct{ Leave }

func TestApply_RejectedCommands(t *testing.T) {
	cases := []struct {
		name     string
		setup    []Command
		cmd      Command
		wantKind Kind
		wantErr  error
	}{
		{
			name:     "duplicate username in lobby",
			setup:    []Command{Join{User: "u1", Username: "ann", Lobby: "general"}},
			cmd:      Join{User: "u2", Username: "ann", Lobby: "general"},
			wantKind: KindConflict,
			wantErr:  store.ErrDuplicateUsername,
		},
		{
			name:     "create general twice",
			cmd:      CreateLobby{User: "u1", Name: "general"},
			wantKind: KindConflict,
			wantErr:  store.ErrDuplicateLobby,
		},
		{
			name:     "join unknown lobby",
			cmd:      Join{User: "u1", Username: "ann", Lobby: "atlantis"},
			wantKind: KindNotFound,
			wantErr:  store.ErrLobbyNotFound,
		},
		{
			name:     "empty username",
			cmd:      Join{User: "u1", Username: "  ", Lobby: "general"},
			wantKind: KindValidation,
			wantErr:  lobby.ErrEmptyName,
		},
		{
			name:     "empty lobby name",
			cmd:      CreateLobby{User: "u1", Name: ""},
			wantKind: KindValidation,
			wantErr:  lobby.ErrEmptyName,
		},
		{
			name:     "guess before join",
			cmd:      Guess{User: "u1", Value: 3},
			wantKind: KindValidation,
			wantErr:  ErrNotJoined,
		},
		{
			name:     "guess out of range",
			setup:    []Command{Join{User: "u1", Username: "ann", Lobby: "general"}},
			cmd:      Guess{User: "u1", Value: 1000},
			wantKind: KindValidation,
			wantErr:  store.ErrGuessOutOfRange,
		},
		{
			name:     "guess names another lobby",
			setup:    []Command{CreateLobby{Name: "b"}, Join{User: "u1", Username: "ann", Lobby: "general"}},
			cmd:      Guess{User: "u1", Value: 3, Lobby: "b"},
			wantKind: KindValidation,
			wantErr:  ErrWrongLobby,
		},
		{
			name:     "join team before join",
			cmd:      JoinTeam{User: "u1", Team: "red"},
			wantKind: KindValidation,
			wantErr:  ErrNotJoined,
		},
		{
			name:     "join lobby without username",
			cmd:      JoinLobby{User: "u1", Lobby: "general"},
			wantKind: KindValidation,
			wantErr:  ErrUsernameRequired,
		},
		{
			name:     "assign teams with zero size",
			setup:    []Command{Join{User: "u1", Username: "ann", Lobby: "general"}},
			cmd:      AssignTeams{User: "u1", GroupSize: 0},
			wantKind: KindValidation,
			wantErr:  ErrInvalidGroupSize,
		},
		{
			name:     "assign teams larger than lobby",
			setup:    []Command{Join{User: "u1", Username: "ann", Lobby: "general"}},
			cmd:      AssignTeams{User: "u1", GroupSize: 2},
			wantKind: KindValidation,
			wantErr:  store.ErrTooFewUsers,
		},
		{
			name:     "unknown command",
			cmd:      unknownCommand{},
			wantKind: KindValidation,
			wantErr:  ErrUnsupportedCommand,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newProcessor(t)
			for _, c := range tc.setup {
				mustApply(t, p, c)
			}
			before := p.Store().ListLobbies()

			_, err := p.Apply(tc.cmd)
			if err == nil || !errors.Is(err, tc.wantErr) {
				t.Fatalf("want %v, got %v", tc.wantErr, err)
			}
			if got := KindOf(err); got != tc.wantKind {
				t.Fatalf("kind: got %q, want %q", got, tc.wantKind)
			}
			require.Equal(t, before, p.Store().ListLobbies())
		})
	}
}

func TestApply_DuplicateUsernameLeavesLobbyUnchanged(t *testing.T) {
	p := newProcessor(t)
	mustApply(t, p, Join{User: "u1", Username: "ann", Lobby: "general"})
	before, err := p.Store().Snapshot("general")
	require.NoError(t, err)

	_, err = p.Apply(Join{User: "u2", Username: " ann ", Lobby: "general"})
	require.Equal(t, KindConflict, KindOf(err))

	after, err := p.Store().Snapshot("general")
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestApply_JoinIsIdempotent(t *testing.T) {
	p := newProcessor(t)
	first := mustApply(t, p, Join{User: "u1", Username: "ann", Lobby: "general"})
	require.True(t, first.Changed)
	require.True(t, containsEvent(first.Events, EvtUserJoined))
	require.Len(t, first.Affected, 1)
	require.NotNil(t, first.Current)

	again := mustApply(t, p, Join{User: "u1", Username: "ann", Lobby: "general"})
	require.False(t, again.Changed)
	require.Empty(t, again.Affected)
	require.Equal(t, first.Current.Version, again.Current.Version)
}

func TestApply_CorrectGuessRaisesOnlyGuesser(t *testing.T) {
	p := newProcessor(t)
	mustApply(t, p, Join{User: "u1", Username: "ann", Lobby: "general"})
	mustApply(t, p, Join{User: "u2", Username: "bob", Lobby: "general"})

	miss := mustApply(t, p, Guess{User: "u1", Value: 10, Lobby: "general"})
	require.False(t, miss.Guess.Correct)
	require.False(t, miss.Changed)
	require.Empty(t, miss.Affected)
	require.True(t, containsEvent(miss.Events, EvtGuessIncorrect))

	hit := mustApply(t, p, Guess{User: "u1", Value: 42})
	require.True(t, hit.Guess.Correct)
	require.Equal(t, 1, hit.Guess.Score)
	require.Len(t, hit.Affected, 1)

	ann, _ := hit.Affected[0].Member("u1")
	bob, _ := hit.Affected[0].Member("u2")
	require.Equal(t, 1, ann.Score)
	require.Equal(t, 0, bob.Score)
}

func TestApply_LeavingOnlyTeamRemovesIt(t *testing.T) {
	p := newProcessor(t)
	mustApply(t, p, Join{User: "u1", Username: "ann", Lobby: "general"})

	res := mustApply(t, p, JoinTeam{User: "u1", Team: "red", Lobby: "general"})
	require.Equal(t, map[string][]string{"red": {"ann"}}, res.Current.Teams)

	res = mustApply(t, p, LeaveTeam{User: "u1"})
	require.True(t, containsEvent(res.Events, EvtTeamRemoved))
	require.Empty(t, res.Current.Teams)

	mustApply(t, p, JoinTeam{User: "u1", Team: "blue"})
	res = mustApply(t, p, Leave{User: "u1"})
	require.True(t, containsEvent(res.Events, EvtTeamRemoved))
	require.Empty(t, res.Affected[0].Teams)
	require.Empty(t, res.Affected[0].Users)
}

func TestApply_SwitchTeamDeletesOldTeam(t *testing.T) {
	p := newProcessor(t)
	mustApply(t, p, Join{User: "u1", Username: "ann", Lobby: "general"})
	mustApply(t, p, JoinTeam{User: "u1", Team: "red"})

	res := mustApply(t, p, JoinTeam{User: "u1", Team: "blue"})
	require.Equal(t, []EventType{EvtTeamLeft, EvtTeamRemoved, EvtTeamJoined}, eventTypes(res.Events))
	require.Equal(t, map[string][]string{"blue": {"ann"}}, res.Current.Teams)

	same := mustApply(t, p, JoinTeam{User: "u1", Team: "blue"})
	require.False(t, same.Changed)
	require.Empty(t, same.Affected)
}

func TestApply_SwitchLobbyAffectsBothLobbies(t *testing.T) {
	p := newProcessor(t)
	mustApply(t, p, CreateLobby{User: "u1", Name: "b"})
	mustApply(t, p, Join{User: "u1", Username: "ann", Lobby: "general"})
	mustApply(t, p, Join{User: "u2", Username: "bob", Lobby: "general"})
	mustApply(t, p, JoinTeam{User: "u1", Team: "red"})

	res := mustApply(t, p, JoinLobby{User: "u1", Lobby: "b"})
	require.Equal(t, "general", res.PrevLobby)
	require.Equal(t, "b", res.Lobby)
	require.Len(t, res.Affected, 2)

	from, to := res.Affected[0], res.Affected[1]
	require.Equal(t, "general", from.Name)
	require.Equal(t, []lobby.UserID{"u2"}, from.IDs())
	require.Empty(t, from.Teams)
	require.Equal(t, "b", to.Name)
	require.Equal(t, []lobby.UserID{"u1"}, to.IDs())

	cur, _ := p.Store().LobbyOf("u1")
	require.Equal(t, "b", cur)
}

func TestApply_JoinRecreatesDefaultLobbyOnly(t *testing.T) {
	s := store.New(store.WithDefaultLobby("lounge"))
	p := NewProcessor(s)

	res := mustApply(t, p, Join{User: "u1", Username: "ann", Lobby: "lounge"})
	require.Equal(t, "lounge", res.Lobby)

	_, err := p.Apply(Join{User: "u2", Username: "bob", Lobby: "general"})
	require.Equal(t, KindNotFound, KindOf(err))
}

func TestApply_CreateLobbyListsLobbies(t *testing.T) {
	p := newProcessor(t)
	res := mustApply(t, p, CreateLobby{Name: "  b  "})
	require.Equal(t, "b", res.Lobby)
	require.Equal(t, []string{"general", "b"}, res.Lobbies)
	require.True(t, containsEvent(res.Events, EvtLobbyCreated))
	require.Equal(t, CmdCreateLobby, res.Command)
}

func TestApply_LeaveUnknownUserIsNoop(t *testing.T) {
	p := newProcessor(t)
	res := mustApply(t, p, Leave{User: "ghost"})
	require.False(t, res.Changed)
	require.Empty(t, res.Affected)
}

func TestApply_AssignTeams(t *testing.T) {
	p := newProcessor(t)
	for i := 1; i <= 5; i++ {
		mustApply(t, p, Join{User: lobby.UserID(fmt.Sprintf("u%d", i)), Username: fmt.Sprintf("p%d", i), Lobby: "general"})
	}

	res := mustApply(t, p, AssignTeams{User: "u1", GroupSize: 2})
	require.Equal(t, map[string][]string{
		"Team 1": {"p1", "p2", "p5"},
		"Team 2": {"p3", "p4"},
	}, res.Current.Teams)
	require.True(t, containsEvent(res.Events, EvtTeamsAssigned))
}

func TestClassify_PartitionFailuresAreInvariantViolations(t *testing.T) {
	err := wrap(AssignTeams{User: "u1", GroupSize: 3}, fmt.Errorf("assign: %w", partition.ErrNoSinkGroup))
	require.Equal(t, KindInvariant, err.Kind)
	require.ErrorIs(t, err, partition.ErrNoSinkGroup)
	require.Equal(t, lobby.UserID("u1"), err.User)
	require.Contains(t, err.Error(), "assignTeams")
}

func eventTypes(events []Event) []EventType {
	out := make([]EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}
