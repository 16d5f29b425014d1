package hub

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/guess-lobby-backend/internal/engine"
	"github.com/DoyleJ11/guess-lobby-backend/internal/journal"
	"github.com/DoyleJ11/guess-lobby-backend/internal/lobby"
)

type HubMsg interface{ isHubMsg() }

// Register attaches a client outbox and sends it the lobby list. The hub
// closes Outbox when the client unregisters or falls behind, and on shutdown.
type Register struct {
	ClientID lobby.UserID
	Outbox   chan Notification
}

type Unregister struct {
	ClientID lobby.UserID
}

type Publish struct {
	Out []Outbound
}

type Stats struct {
	Reply chan View
}

type ShutdownHub struct{}

func (Register) isHubMsg()    {}
func (Unregister) isHubMsg()  {}
func (Publish) isHubMsg()     {}
func (Stats) isHubMsg()       {}
func (ShutdownHub) isHubMsg() {}

type View struct {
	NumClients int
	Dropped    int
}

// Recorder receives journal entries for applied commands. It must not block.
type Recorder interface {
	Record(entries ...journal.Entry)
}

type client struct {
	out   chan Notification
	seen  map[string]int // lobby -> last delivered version
	lists int            // length of the last lobby list delivered
}

// Hub owns the set of connected clients and is the only writer to their
// outboxes. Commands are applied by the caller's goroutine; only delivery
// goes through the hub loop.
type Hub struct {
	inbox   chan HubMsg
	clients map[lobby.UserID]*client
	dropped int

	proc *engine.Processor
	rec  Recorder
	log  *zap.Logger
	now  func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

type Option func(*Hub)

func WithLogger(l *zap.Logger) Option { return func(h *Hub) { h.log = l } }
func WithRecorder(r Recorder) Option  { return func(h *Hub) { h.rec = r } }

func NewHub(parent context.Context, proc *engine.Processor, opts ...Option) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan HubMsg, 256),
		clients: make(map[lobby.UserID]*client),
		proc:    proc,
		log:     zap.NewNop(),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(h)
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) Processor() *engine.Processor { return h.proc }

// Done is closed once the hub has stopped delivering.
func (h *Hub) Done() <-chan struct{} { return h.ctx.Done() }

func (h *Hub) Register(ctx context.Context, id lobby.UserID, outbox chan Notification) error {
	return h.send(ctx, Register{ClientID: id, Outbox: outbox})
}

func (h *Hub) Unregister(ctx context.Context, id lobby.UserID) error {
	return h.send(ctx, Unregister{ClientID: id})
}

func (h *Hub) Shutdown() {
	select {
	case h.inbox <- ShutdownHub{}:
	case <-h.ctx.Done():
	}
}

// Dispatch applies cmd and queues the resulting notifications. The error is
// the command's rejection, which has already been queued for the originator.
func (h *Hub) Dispatch(ctx context.Context, cmd engine.Command) (engine.Result, error) {
	res, err := h.proc.Apply(cmd)
	if err != nil {
		h.log.Debug("command rejected",
			zap.String("command", string(cmd.Type())),
			zap.String("user", string(cmd.Origin())),
			zap.String("kind", string(engine.KindOf(err))),
			zap.Error(err),
		)
		if out := PlanError(cmd, err); len(out) > 0 {
			_ = h.send(ctx, Publish{Out: out})
		}
		return res, err
	}

	if out := Plan(res); len(out) > 0 {
		if serr := h.send(ctx, Publish{Out: out}); serr != nil {
			h.log.Warn("notifications not queued", zap.String("command", string(res.Command)), zap.Error(serr))
		}
	}
	if h.rec != nil && len(res.Events) > 0 {
		h.rec.Record(h.entries(res)...)
	}
	return res, nil
}

// Reject reports a message that never became a command, such as a frame
// that failed to decode.
func (h *Hub) Reject(ctx context.Context, id lobby.UserID, command string, err error) error {
	return h.send(ctx, Publish{Out: []Outbound{{
		To: []lobby.UserID{id},
		Note: CommandError{
			Kind:    engine.KindValidation,
			Command: engine.CommandType(command),
			Message: err.Error(),
		},
	}}})
}

// Disconnect removes the client's user from its lobby and then detaches the
// outbox, so remaining members still see the departure.
func (h *Hub) Disconnect(ctx context.Context, id lobby.UserID) {
	if _, err := h.Dispatch(ctx, engine.Leave{User: id}); err != nil {
		h.log.Warn("leave on disconnect failed", zap.String("user", string(id)), zap.Error(err))
	}
	_ = h.Unregister(ctx, id)
}

func (h *Hub) send(ctx context.Context, m HubMsg) error {
	select {
	case h.inbox <- m:
		return nil
	case <-h.ctx.Done():
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) entries(res engine.Result) []journal.Entry {
	at := h.now().UTC()
	out := make([]journal.Entry, len(res.Events))
	for i, e := range res.Events {
		out[i] = journal.Entry{
			At:    at,
			Lobby: e.Lobby,
			User:  string(e.User),
			Event: string(e.Type),
			Team:  e.Team,
			Value: e.Value,
			Score: e.Score,
		}
	}
	return out
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case Register:
				if old := h.clients[msg.ClientID]; old != nil {
					close(old.out)
				}
				c := &client{out: msg.Outbox, seen: make(map[string]int)}
				h.clients[msg.ClientID] = c
				// Register client + send the lobby list immediately
				h.push(msg.ClientID, c, LobbyListUpdate{Lobbies: h.proc.Store().ListLobbies()})

			case Unregister:
				if c := h.clients[msg.ClientID]; c != nil {
					close(c.out)
					delete(h.clients, msg.ClientID)
				}

			case Publish:
				for _, ob := range msg.Out {
					h.deliver(ob)
				}

			case Stats:
				// test-only: reflect internal state without data races
				msg.Reply <- View{NumClients: len(h.clients), Dropped: h.dropped}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) shutdown() {
	for id, c := range h.clients {
		close(c.out)
		delete(h.clients, id)
	}
	h.cancel()
}

func (h *Hub) deliver(ob Outbound) {
	if ob.Everyone {
		for id, c := range h.clients {
			h.push(id, c, ob.Note)
		}
		return
	}
	for _, id := range ob.To {
		if c := h.clients[id]; c != nil {
			h.push(id, c, ob.Note)
		}
	}
}

func (h *Hub) push(id lobby.UserID, c *client, n Notification) {
	switch note := n.(type) {
	case LobbyStateUpdate:
		name, v := note.State.Name, note.State.Version
		if last, ok := c.seen[name]; ok && v < last {
			return
		}
		c.seen[name] = v
	case leftLobby:
		// snapshots of the old lobby queued before the move are now stale
		if v, ok := c.seen[note.Lobby]; !ok || note.Version > v {
			c.seen[note.Lobby] = note.Version
		}
		return
	case LobbyListUpdate:
		if len(note.Lobbies) < c.lists {
			return
		}
		c.lists = len(note.Lobbies)
	}

	select {
	case c.out <- n:
	default:
		// Client is slow/full - drop them.
		h.log.Warn("dropping slow client", zap.String("client", string(id)))
		close(c.out)
		delete(h.clients, id)
		h.dropped++
	}
}
