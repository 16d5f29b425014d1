package store

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/DoyleJ11/guess-lobby-backend/internal/lobby"
	"github.com/DoyleJ11/guess-lobby-backend/internal/partition"
)

var ErrLobbyNotFound = errors.New("lobby not found")
var ErrDuplicateLobby = errors.New("lobby already exists")
var ErrDuplicateUsername = errors.New("username already taken in this lobby")
var ErrUserNotFound = errors.New("user is not in the lobby")
var ErrAlreadyJoined = errors.New("user already joined a lobby")
var ErrGuessOutOfRange = errors.New("guess out of range")
var ErrTooFewUsers = errors.New("not enough users to fill a team")

const DefaultLobby = "general"

type Rules struct {
	GuessMin int
	GuessMax int
	Points   int
}

func DefaultRules() Rules {
	return Rules{GuessMin: 1, GuessMax: 100, Points: 1}
}

// Rand draws lobby targets. *rand.Rand from math/rand/v2 satisfies it; the
// store serialises calls.
type Rand interface {
	IntN(n int) int
}

type Option func(*Store)

func WithRules(r Rules) Option { return func(s *Store) { s.rules = r } }

func WithRand(r Rand) Option { return func(s *Store) { s.rng = r } }

func WithDefaultLobby(name string) Option { return func(s *Store) { s.defaultLobby = name } }

// Store owns every lobby and the user -> lobby index. Lock order is lobby
// locks first (by name when two are needed), then s.mu.
type Store struct {
	mu      sync.RWMutex
	lobbies map[string]*lobby.Lobby
	order   []string
	index   map[lobby.UserID]string

	rules        Rules
	defaultLobby string

	rngMu sync.Mutex
	rng   Rand
}

// New builds a store and creates the default lobby.
func New(opts ...Option) *Store {
	s := &Store{
		lobbies:      make(map[string]*lobby.Lobby),
		index:        make(map[lobby.UserID]string),
		rules:        DefaultRules(),
		defaultLobby: DefaultLobby,
		rng:          rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lobbies[s.defaultLobby] = lobby.New(s.defaultLobby, s.drawTarget())
	s.order = append(s.order, s.defaultLobby)
	return s
}

func (s *Store) Rules() Rules         { return s.rules }
func (s *Store) DefaultLobby() string { return s.defaultLobby }

func (s *Store) drawTarget() int {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rules.GuessMin + s.rng.IntN(s.rules.GuessMax-s.rules.GuessMin+1)
}

func (s *Store) lookup(name string) (*lobby.Lobby, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lb, ok := s.lobbies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrLobbyNotFound, name)
	}
	return lb, nil
}

// GetOrCreateLobby makes sure name exists and reports whether it was created.
func (s *Store) GetOrCreateLobby(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lobbies[name]; ok {
		return false, nil
	}
	s.createLocked(name)
	return true, nil
}

func (s *Store) CreateLobby(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lobbies[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateLobby, name)
	}
	s.createLocked(name)
	return nil
}

func (s *Store) createLocked(name string) {
	s.lobbies[name] = lobby.New(name, s.drawTarget())
	s.order = append(s.order, name)
}

// ListLobbies returns lobby names in creation order.
func (s *Store) ListLobbies() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order)
}

func (s *Store) Snapshot(name string) (lobby.Snapshot, error) {
	lb, err := s.lookup(name)
	if err != nil {
		return lobby.Snapshot{}, err
	}
	lb.Lock()
	defer lb.Unlock()
	return lb.Snapshot(), nil
}

// LobbyOf returns the lobby the user currently belongs to.
func (s *Store) LobbyOf(id lobby.UserID) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.index[id]
	return name, ok
}

// AddUser attaches a user that is not in any lobby yet.
func (s *Store) AddUser(lobbyName string, u lobby.User) (lobby.Snapshot, error) {
	lb, err := s.lookup(lobbyName)
	if err != nil {
		return lobby.Snapshot{}, err
	}
	lb.Lock()
	defer lb.Unlock()

	if lb.UsernameTaken(u.Username, u.ID) {
		return lobby.Snapshot{}, fmt.Errorf("%w: %q", ErrDuplicateUsername, u.Username)
	}

	s.mu.Lock()
	if cur, joined := s.index[u.ID]; joined {
		s.mu.Unlock()
		return lobby.Snapshot{}, fmt.Errorf("%w: %q", ErrAlreadyJoined, cur)
	}
	s.index[u.ID] = lobbyName
	s.mu.Unlock()

	lb.Add(u)
	return lb.Snapshot(), nil
}

// RemoveUser detaches the user from lobbyName and returns what is left.
func (s *Store) RemoveUser(lobbyName string, id lobby.UserID) (lobby.User, lobby.Snapshot, error) {
	lb, err := s.lookup(lobbyName)
	if err != nil {
		return lobby.User{}, lobby.Snapshot{}, err
	}
	lb.Lock()
	defer lb.Unlock()

	u, ok := lb.Remove(id)
	if !ok {
		return lobby.User{}, lobby.Snapshot{}, ErrUserNotFound
	}

	s.mu.Lock()
	if s.index[id] == lobbyName {
		delete(s.index, id)
	}
	s.mu.Unlock()

	return u, lb.Snapshot(), nil
}

// Move is the outcome of MoveUser. From is empty when the user joined fresh;
// FromState is only set when From is not empty.
type Move struct {
	From      string
	To        string
	Changed   bool
	FromState lobby.Snapshot
	ToState   lobby.Snapshot
}

// MoveUser puts the user into target, leaving its current lobby. An empty
// username keeps the current one; a user that is not joined anywhere needs one.
// Re-joining the same lobby with the same name changes nothing.
func (s *Store) MoveUser(id lobby.UserID, username, target string) (Move, error) {
	dst, err := s.lookup(target)
	if err != nil {
		return Move{}, err
	}

	for {
		from, joined := s.LobbyOf(id)
		if !joined {
			if username == "" {
				return Move{}, ErrUserNotFound
			}
			snap, err := s.AddUser(target, lobby.User{ID: id, Username: username})
			if errors.Is(err, ErrAlreadyJoined) {
				continue // joined concurrently, retry as a move
			}
			if err != nil {
				return Move{}, err
			}
			return Move{To: target, Changed: true, ToState: snap}, nil
		}

		if from == target {
			mv, retry, err := s.renameIn(dst, id, username)
			if retry {
				continue
			}
			return mv, err
		}

		src, err := s.lookup(from)
		if err != nil {
			return Move{}, err
		}
		mv, retry, err := s.moveBetween(src, dst, id, username)
		if retry {
			continue
		}
		return mv, err
	}
}

func (s *Store) renameIn(lb *lobby.Lobby, id lobby.UserID, username string) (Move, bool, error) {
	lb.Lock()
	defer lb.Unlock()

	if cur, _ := s.LobbyOf(id); cur != lb.Name() {
		return Move{}, true, nil
	}
	if username != "" && lb.UsernameTaken(username, id) {
		return Move{}, false, fmt.Errorf("%w: %q", ErrDuplicateUsername, username)
	}
	changed := username != "" && lb.Rename(id, username)
	return Move{From: lb.Name(), To: lb.Name(), Changed: changed, ToState: lb.Snapshot()}, false, nil
}

func (s *Store) moveBetween(src, dst *lobby.Lobby, id lobby.UserID, username string) (Move, bool, error) {
	first, second := src, dst
	if dst.Name() < src.Name() {
		first, second = dst, src
	}
	first.Lock()
	defer first.Unlock()
	second.Lock()
	defer second.Unlock()

	if cur, _ := s.LobbyOf(id); cur != src.Name() {
		return Move{}, true, nil
	}
	u, ok := src.User(id)
	if !ok {
		return Move{}, true, nil
	}
	if username == "" {
		username = u.Username
	}
	if dst.UsernameTaken(username, id) {
		return Move{}, false, fmt.Errorf("%w: %q", ErrDuplicateUsername, username)
	}

	src.Remove(id)
	dst.Add(lobby.User{ID: id, Username: username, Score: u.Score})

	s.mu.Lock()
	s.index[id] = dst.Name()
	s.mu.Unlock()

	return Move{
		From:      src.Name(),
		To:        dst.Name(),
		Changed:   true,
		FromState: src.Snapshot(),
		ToState:   dst.Snapshot(),
	}, false, nil
}

type TeamChange struct {
	Prev    string
	Team    string
	Removed bool // Prev was deleted because it became empty
	Changed bool
	State   lobby.Snapshot
}

// SetUserTeam moves the user to team inside lobbyName; an empty team leaves
// the current one.
func (s *Store) SetUserTeam(lobbyName string, id lobby.UserID, team string) (TeamChange, error) {
	lb, err := s.lookup(lobbyName)
	if err != nil {
		return TeamChange{}, err
	}
	lb.Lock()
	defer lb.Unlock()

	if _, ok := lb.User(id); !ok {
		return TeamChange{}, ErrUserNotFound
	}
	prev, removed, changed := lb.SetTeam(id, team)
	return TeamChange{
		Prev:    prev,
		Team:    team,
		Removed: removed,
		Changed: changed,
		State:   lb.Snapshot(),
	}, nil
}

type GuessOutcome struct {
	Correct bool
	Score   int
	State   lobby.Snapshot
}

// RecordGuess checks value against the lobby target. A correct guess scores
// and draws a new target.
func (s *Store) RecordGuess(lobbyName string, id lobby.UserID, value int) (GuessOutcome, error) {
	if value < s.rules.GuessMin || value > s.rules.GuessMax {
		return GuessOutcome{}, fmt.Errorf("%w: %d not in [%d, %d]", ErrGuessOutOfRange, value, s.rules.GuessMin, s.rules.GuessMax)
	}

	lb, err := s.lookup(lobbyName)
	if err != nil {
		return GuessOutcome{}, err
	}
	lb.Lock()
	defer lb.Unlock()

	u, ok := lb.User(id)
	if !ok {
		return GuessOutcome{}, ErrUserNotFound
	}
	if value != lb.Target() {
		return GuessOutcome{Correct: false, Score: u.Score, State: lb.Snapshot()}, nil
	}

	score := lb.AddScore(id, s.rules.Points)
	lb.SetTarget(s.drawTarget())
	return GuessOutcome{Correct: true, Score: score, State: lb.Snapshot()}, nil
}

// AssignTeams splits the lobby members, in join order, into teams of at
// least groupSize and replaces every existing team. Teams are named
// "Team 1", "Team 2", ...
func (s *Store) AssignTeams(lobbyName string, groupSize int, src partition.Source) (lobby.Snapshot, error) {
	lb, err := s.lookup(lobbyName)
	if err != nil {
		return lobby.Snapshot{}, err
	}
	lb.Lock()
	defer lb.Unlock()

	ids := lb.Members()
	if groupSize > 0 && len(ids) < groupSize {
		return lobby.Snapshot{}, fmt.Errorf("%w: %d users, teams of %d", ErrTooFewUsers, len(ids), groupSize)
	}

	groups, err := partition.Partition(ids, groupSize, src)
	if err != nil {
		return lobby.Snapshot{}, fmt.Errorf("assign teams in %q: %w", lobbyName, err)
	}

	assignment := make(map[string][]lobby.UserID, len(groups))
	for i, g := range groups {
		assignment["Team "+strconv.Itoa(i+1)] = g
	}
	lb.ReplaceTeams(assignment)
	return lb.Snapshot(), nil
}
