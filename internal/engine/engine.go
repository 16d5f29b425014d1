package engine

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/DoyleJ11/guess-lobby-backend/internal/lobby"
	"github.com/DoyleJ11/guess-lobby-backend/internal/partition"
	"github.com/DoyleJ11/guess-lobby-backend/internal/store"
)

var ErrUnsupportedCommand = errors.New("unsupported command")
var ErrNotJoined = errors.New("join a lobby first")
var ErrWrongLobby = errors.New("command names a lobby the user is not in")
var ErrUsernameRequired = errors.New("username required")
var ErrInvalidGroupSize = errors.New("group size must be at least 1")

type CommandType string

const (
	CmdJoin        CommandType = "join"
	CmdJoinLobby   CommandType = "joinLobby"
	CmdCreateLobby CommandType = "createLobby"
	CmdJoinTeam    CommandType = "joinTeam"
	CmdLeaveTeam   CommandType = "leaveTeam"
	CmdGuess       CommandType = "guess"
	CmdLeave       CommandType = "leave"
	CmdAssignTeams CommandType = "assignTeams"
)

/*
	Join        -> UserJoined (+ UserLeft in the old lobby) | UserRenamed
	JoinLobby   -> same as Join, username optional once joined
	CreateLobby -> LobbyCreated
	JoinTeam    -> TeamLeft? TeamRemoved? TeamJoined
	LeaveTeam   -> TeamLeft TeamRemoved?
	Guess       -> GuessCorrect | GuessIncorrect
	Leave       -> UserLeft (TeamRemoved?)
	AssignTeams -> TeamsAssigned
*/

// Command is a closed set; only the types in this file implement it.
type Command interface {
	Type() CommandType
	Origin() lobby.UserID
	isCommand()
}

type Join struct {
	User     lobby.UserID
	Username string
	Lobby    string
}

type JoinLobby struct {
	User     lobby.UserID
	Lobby    string
	Username string // optional once joined
}

// CreateLobby may have an empty User when it comes from the REST API.
type CreateLobby struct {
	User lobby.UserID
	Name string
}

type JoinTeam struct {
	User  lobby.UserID
	Team  string
	Lobby string // optional, must match the user's lobby
}

type LeaveTeam struct {
	User lobby.UserID
}

type Guess struct {
	User  lobby.UserID
	Value int
	Lobby string // optional, must match the user's lobby
}

// Leave is issued when the connection goes away.
type Leave struct {
	User lobby.UserID
}

type AssignTeams struct {
	User      lobby.UserID
	GroupSize int
}

func (Join) Type() CommandType        { return CmdJoin }
func (JoinLobby) Type() CommandType   { return CmdJoinLobby }
func (CreateLobby) Type() CommandType { return CmdCreateLobby }
func (JoinTeam) Type() CommandType    { return CmdJoinTeam }
func (LeaveTeam) Type() CommandType   { return CmdLeaveTeam }
func (Guess) Type() CommandType       { return CmdGuess }
func (Leave) Type() CommandType       { return CmdLeave }
func (AssignTeams) Type() CommandType { return CmdAssignTeams }

func (c Join) Origin() lobby.UserID        { return c.User }
func (c JoinLobby) Origin() lobby.UserID   { return c.User }
func (c CreateLobby) Origin() lobby.UserID { return c.User }
func (c JoinTeam) Origin() lobby.UserID    { return c.User }
func (c LeaveTeam) Origin() lobby.UserID   { return c.User }
func (c Guess) Origin() lobby.UserID       { return c.User }
func (c Leave) Origin() lobby.UserID       { return c.User }
func (c AssignTeams) Origin() lobby.UserID { return c.User }

func (Join) isCommand()        {}
func (JoinLobby) isCommand()   {}
func (CreateLobby) isCommand() {}
func (JoinTeam) isCommand()    {}
func (LeaveTeam) isCommand()   {}
func (Guess) isCommand()       {}
func (Leave) isCommand()       {}
func (AssignTeams) isCommand() {}

type EventType string

const (
	EvtUserJoined     EventType = "UserJoined"
	EvtUserLeft       EventType = "UserLeft"
	EvtUserRenamed    EventType = "UserRenamed"
	EvtLobbyCreated   EventType = "LobbyCreated"
	EvtTeamJoined     EventType = "TeamJoined"
	EvtTeamLeft       EventType = "TeamLeft"
	EvtTeamRemoved    EventType = "TeamRemoved"
	EvtTeamsAssigned  EventType = "TeamsAssigned"
	EvtGuessCorrect   EventType = "GuessCorrect"
	EvtGuessIncorrect EventType = "GuessIncorrect"
)

type Event struct {
	Type  EventType
	Lobby string
	User  lobby.UserID
	Team  string
	Value int
	Score int
}

type GuessOutcome struct {
	Value   int
	Correct bool
	Score   int
}

// Result describes an applied command. Affected holds one snapshot per lobby
// whose state changed, taken under that lobby's lock; Current is the
// originator's lobby after the command.
type Result struct {
	Command   CommandType
	User      lobby.UserID
	Lobby     string
	PrevLobby string
	Changed   bool
	Events    []Event
	Affected  []lobby.Snapshot
	Current   *lobby.Snapshot
	Guess     *GuessOutcome
	Lobbies   []string // set by CreateLobby
}

// Processor validates commands and applies them to the store. It keeps no
// state of its own and is safe for concurrent use.
type Processor struct {
	store *store.Store
	src   partition.Source
	log   *zap.Logger
}

type Option func(*Processor)

func WithLogger(l *zap.Logger) Option { return func(p *Processor) { p.log = l } }

// WithPartitionSource sets the random source used by AssignTeams.
func WithPartitionSource(src partition.Source) Option {
	return func(p *Processor) {
		if src != nil {
			p.src = &lockedSource{src: src}
		}
	}
}

func NewProcessor(s *store.Store, opts ...Option) *Processor {
	p := &Processor{store: s, log: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Processor) Store() *store.Store { return p.store }

// Apply runs one command. A failed command leaves the store untouched and
// returns an *Error.
func (p *Processor) Apply(cmd Command) (Result, error) {
	var (
		res Result
		err error
	)

	switch c := cmd.(type) {
	case Join:
		res, err = p.join(c)
	case JoinLobby:
		res, err = p.joinLobby(c)
	case CreateLobby:
		res, err = p.createLobby(c)
	case JoinTeam:
		res, err = p.setTeam(c.User, c.Team, c.Lobby, true)
	case LeaveTeam:
		res, err = p.setTeam(c.User, "", "", false)
	case Guess:
		res, err = p.guess(c)
	case Leave:
		res, err = p.leave(c)
	case AssignTeams:
		res, err = p.assignTeams(c)
	default:
		err = ErrUnsupportedCommand
	}

	if err != nil {
		e := wrap(cmd, err)
		if e.Kind == KindInvariant {
			p.log.Error("invariant violated",
				zap.String("command", string(e.Command)),
				zap.String("user", string(e.User)),
				zap.Error(err),
			)
		}
		return Result{}, e
	}

	res.Command = cmd.Type()
	res.User = cmd.Origin()
	return res, nil
}

func (p *Processor) join(c Join) (Result, error) {
	name, err := cleanLobby(c.Lobby)
	if err != nil {
		return Result{}, err
	}
	username, err := cleanUsername(c.Username)
	if err != nil {
		return Result{}, err
	}
	if name == p.store.DefaultLobby() {
		if _, err := p.store.GetOrCreateLobby(name); err != nil {
			return Result{}, err
		}
	}
	return p.move(c.User, username, name)
}

func (p *Processor) joinLobby(c JoinLobby) (Result, error) {
	name, err := cleanLobby(c.Lobby)
	if err != nil {
		return Result{}, err
	}

	var username string
	if c.Username != "" {
		if username, err = cleanUsername(c.Username); err != nil {
			return Result{}, err
		}
	} else if _, joined := p.store.LobbyOf(c.User); !joined {
		return Result{}, ErrUsernameRequired
	}
	return p.move(c.User, username, name)
}

func (p *Processor) move(id lobby.UserID, username, target string) (Result, error) {
	mv, err := p.store.MoveUser(id, username, target)
	if err != nil {
		return Result{}, err
	}

	res := Result{Lobby: mv.To, Changed: mv.Changed, Current: &mv.ToState}
	switch {
	case !mv.Changed:
	case mv.From == "":
		res.Events = []Event{{Type: EvtUserJoined, Lobby: mv.To, User: id}}
		res.Affected = []lobby.Snapshot{mv.ToState}
	case mv.From == mv.To:
		res.Events = []Event{{Type: EvtUserRenamed, Lobby: mv.To, User: id}}
		res.Affected = []lobby.Snapshot{mv.ToState}
	default:
		res.PrevLobby = mv.From
		res.Events = []Event{
			{Type: EvtUserLeft, Lobby: mv.From, User: id},
			{Type: EvtUserJoined, Lobby: mv.To, User: id},
		}
		res.Affected = []lobby.Snapshot{mv.FromState, mv.ToState}
	}
	return res, nil
}

func (p *Processor) createLobby(c CreateLobby) (Result, error) {
	name, err := cleanLobby(c.Name)
	if err != nil {
		return Result{}, err
	}
	if err := p.store.CreateLobby(name); err != nil {
		return Result{}, err
	}
	return Result{
		Lobby:   name,
		Changed: true,
		Events:  []Event{{Type: EvtLobbyCreated, Lobby: name, User: c.User}},
		Lobbies: p.store.ListLobbies(),
	}, nil
}

func (p *Processor) setTeam(id lobby.UserID, rawTeam, rawLobby string, joining bool) (Result, error) {
	team := ""
	if joining {
		var err error
		if team, err = cleanTeam(rawTeam); err != nil {
			return Result{}, err
		}
	}
	cur, err := p.currentLobby(id, rawLobby)
	if err != nil {
		return Result{}, err
	}

	change, err := p.store.SetUserTeam(cur, id, team)
	if err != nil {
		return Result{}, err
	}

	res := Result{Lobby: cur, Changed: change.Changed, Current: &change.State}
	if !change.Changed {
		return res, nil
	}
	if change.Prev != "" {
		res.Events = append(res.Events, Event{Type: EvtTeamLeft, Lobby: cur, User: id, Team: change.Prev})
		if change.Removed {
			res.Events = append(res.Events, Event{Type: EvtTeamRemoved, Lobby: cur, Team: change.Prev})
		}
	}
	if team != "" {
		res.Events = append(res.Events, Event{Type: EvtTeamJoined, Lobby: cur, User: id, Team: team})
	}
	res.Affected = []lobby.Snapshot{change.State}
	return res, nil
}

func (p *Processor) guess(c Guess) (Result, error) {
	cur, err := p.currentLobby(c.User, c.Lobby)
	if err != nil {
		return Result{}, err
	}
	out, err := p.store.RecordGuess(cur, c.User, c.Value)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Lobby:   cur,
		Changed: out.Correct,
		Current: &out.State,
		Guess:   &GuessOutcome{Value: c.Value, Correct: out.Correct, Score: out.Score},
	}
	evt := Event{Type: EvtGuessIncorrect, Lobby: cur, User: c.User, Value: c.Value, Score: out.Score}
	if out.Correct {
		evt.Type = EvtGuessCorrect
		res.Affected = []lobby.Snapshot{out.State}
	}
	res.Events = []Event{evt}
	return res, nil
}

func (p *Processor) leave(c Leave) (Result, error) {
	cur, joined := p.store.LobbyOf(c.User)
	if !joined {
		return Result{}, nil
	}
	u, snap, err := p.store.RemoveUser(cur, c.User)
	if errors.Is(err, store.ErrUserNotFound) {
		return Result{}, nil // already gone
	}
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Lobby:    cur,
		Changed:  true,
		Events:   []Event{{Type: EvtUserLeft, Lobby: cur, User: c.User}},
		Affected: []lobby.Snapshot{snap},
		Current:  &snap,
	}
	if u.Team != "" && !hasTeam(snap, u.Team) {
		res.Events = append(res.Events, Event{Type: EvtTeamRemoved, Lobby: cur, Team: u.Team})
	}
	return res, nil
}

func (p *Processor) assignTeams(c AssignTeams) (Result, error) {
	if c.GroupSize < 1 {
		return Result{}, ErrInvalidGroupSize
	}
	cur, err := p.currentLobby(c.User, "")
	if err != nil {
		return Result{}, err
	}
	snap, err := p.store.AssignTeams(cur, c.GroupSize, p.src)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Lobby:    cur,
		Changed:  true,
		Events:   []Event{{Type: EvtTeamsAssigned, Lobby: cur, User: c.User}},
		Affected: []lobby.Snapshot{snap},
		Current:  &snap,
	}, nil
}

// currentLobby resolves the caller's lobby and checks it against the lobby
// named in the payload, if any.
func (p *Processor) currentLobby(id lobby.UserID, named string) (string, error) {
	cur, joined := p.store.LobbyOf(id)
	if !joined {
		return "", ErrNotJoined
	}
	if named == "" {
		return cur, nil
	}
	name, err := cleanLobby(named)
	if err != nil {
		return "", err
	}
	if name != cur {
		return "", ErrWrongLobby
	}
	return cur, nil
}

type lockedSource struct {
	mu  sync.Mutex
	src partition.Source
}

func (l *lockedSource) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.src.IntN(n)
}
