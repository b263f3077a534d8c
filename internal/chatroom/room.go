package chatroom

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

var ErrRoomClosed = errors.New("room closed")

const (
	roomChannel = "relay:chat:%s"
	DefaultRoom = "lobby"
)

// Member receives every line broadcast in the room, including its own.
type Member interface {
	SendText(ctx context.Context, text string) error
}

// Room fans chat lines out through redis pub/sub so every relay instance
// subscribed to the same room delivers them to its local members.
type Room struct {
	redis   *redis.Client
	channel string
	logger  *slog.Logger

	members map[Member]int
	mu      sync.RWMutex

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	closed  bool
}

func NewRoom(redisClient *redis.Client, name string, logger *slog.Logger) *Room {
	if logger == nil {
		logger = slog.Default()
	}
	if name == "" {
		name = DefaultRoom
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Room{
		redis:   redisClient,
		channel: fmt.Sprintf(roomChannel, name),
		logger:  logger.With("component", "chat_room", "room", name),
		members: make(map[Member]int),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start subscribes to the room channel. It returns once the subscription is
// confirmed so lines published afterwards are never missed.
func (r *Room) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRoomClosed
	}
	if r.started {
		return nil
	}

	pubsub := r.redis.Subscribe(r.ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	r.started = true
	r.wg.Add(1)
	go r.receive(pubsub)

	r.logger.Info("subscribed to chat room", "channel", r.channel)
	return nil
}

func (r *Room) receive(pubsub *redis.PubSub) {
	defer r.wg.Done()
	defer pubsub.Close()

	for {
		msg, err := pubsub.ReceiveMessage(r.ctx)
		if err != nil {
			if r.ctx.Err() != nil {
				return
			}
			r.logger.Error("receive chat line", "error", err)
			return
		}
		r.deliver(msg.Payload)
	}
}

func (r *Room) deliver(line string) {
	r.mu.RLock()
	members := make([]Member, 0, len(r.members))
	for m := range r.members {
		members = append(members, m)
	}
	r.mu.RUnlock()

	for _, m := range members {
		if err := m.SendText(r.ctx, line); err != nil {
			r.logger.Debug("deliver chat line failed", "error", err)
		}
	}
}

// Join adds member and announces clientID to the room.
func (r *Room) Join(ctx context.Context, member Member, clientID int) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRoomClosed
	}
	r.members[member] = clientID
	r.mu.Unlock()

	return r.publish(ctx, JoinLine(clientID))
}

// Leave removes member and announces its departure.
func (r *Room) Leave(ctx context.Context, member Member) error {
	r.mu.Lock()
	clientID, ok := r.members[member]
	delete(r.members, member)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return r.publish(ctx, LeaveLine(clientID))
}

func (r *Room) Say(ctx context.Context, clientID int, text string) error {
	return r.publish(ctx, MessageLine(clientID, text))
}

func (r *Room) publish(ctx context.Context, line string) error {
	if err := r.redis.Publish(ctx, r.channel, line).Err(); err != nil {
		return fmt.Errorf("publish chat line: %w", err)
	}
	return nil
}

// Count returns the number of members connected to this instance.
func (r *Room) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

func (r *Room) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	clear(r.members)
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
	return nil
}

func JoinLine(clientID int) string {
	return fmt.Sprintf("Client #%d joined", clientID)
}

func MessageLine(clientID int, text string) string {
	return fmt.Sprintf("Client #%d: %s", clientID, text)
}

func LeaveLine(clientID int) string {
	return fmt.Sprintf("Client #%d left", clientID)
}
