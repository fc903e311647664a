package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mossy-p/peercall/config"
	"github.com/mossy-p/peercall/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	// RoomTTL bounds how long rooms, codes and peer sets live.
	RoomTTL = 24 * time.Hour

	// RoomCodeLength is the length of the short shareable room code.
	RoomCodeLength = 6
)

var ErrRoomNotFound = errors.New("room not found")

func roomKey(roomID string) string  { return "room:" + roomID }
func codeKey(code string) string    { return "code:" + code }
func peersKey(roomID string) string { return "room:" + roomID + ":peers" }

// SignalChannel is the pub/sub channel carrying a room's envelopes.
func SignalChannel(roomID string) string { return "signal:" + roomID }

// Client is the relay's room store and envelope bus.
type Client struct {
	rdb *redis.Client
}

// Connect initializes the Redis client and checks the connection.
func Connect(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// SaveRoom stores room metadata under its ID and its code.
func (c *Client) SaveRoom(ctx context.Context, room *models.RoomMetadata) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("failed to encode room: %w", err)
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, roomKey(room.ID), data, RoomTTL)
		pipe.Set(ctx, codeKey(room.Code), room.ID, RoomTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store room: %w", err)
	}
	return nil
}

// ResolveRoomID maps a room code to its ID. Anything that is not
// code-shaped is assumed to already be an ID.
func (c *Client) ResolveRoomID(ctx context.Context, identifier string) (string, error) {
	if len(identifier) != RoomCodeLength {
		return identifier, nil
	}
	id, err := c.rdb.Get(ctx, codeKey(identifier)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrRoomNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve room code: %w", err)
	}
	return id, nil
}

// GetRoom loads room metadata with the current player count.
func (c *Client) GetRoom(ctx context.Context, roomID string) (*models.RoomMetadata, error) {
	data, err := c.rdb.Get(ctx, roomKey(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load room: %w", err)
	}

	var room models.RoomMetadata
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("failed to parse room data: %w", err)
	}

	count, err := c.PeerCount(ctx, roomID)
	if err != nil {
		return nil, err
	}
	room.PlayerCount = count
	return &room, nil
}

// DeleteRoom removes the room, its code and its peer set.
func (c *Client) DeleteRoom(ctx context.Context, room *models.RoomMetadata) error {
	if err := c.rdb.Del(ctx, roomKey(room.ID), codeKey(room.Code), peersKey(room.ID)).Err(); err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	return nil
}

// AddPeer records userID as present in the room.
func (c *Client) AddPeer(ctx context.Context, roomID, userID string) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, peersKey(roomID), userID)
		pipe.Expire(ctx, peersKey(roomID), RoomTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to add peer: %w", err)
	}
	return nil
}

func (c *Client) RemovePeer(ctx context.Context, roomID, userID string) error {
	if err := c.rdb.SRem(ctx, peersKey(roomID), userID).Err(); err != nil {
		return fmt.Errorf("failed to remove peer: %w", err)
	}
	return nil
}

func (c *Client) HasPeer(ctx context.Context, roomID, userID string) (bool, error) {
	ok, err := c.rdb.SIsMember(ctx, peersKey(roomID), userID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check peer: %w", err)
	}
	return ok, nil
}

func (c *Client) PeerCount(ctx context.Context, roomID string) (int, error) {
	n, err := c.rdb.SCard(ctx, peersKey(roomID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count peers: %w", err)
	}
	return int(n), nil
}

// Publish sends an encoded envelope to every relay instance serving the
// room.
func (c *Client) Publish(ctx context.Context, roomID string, payload []byte) error {
	if err := c.rdb.Publish(ctx, SignalChannel(roomID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish envelope: %w", err)
	}
	return nil
}

// Subscription streams a room's published envelopes.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

// Subscribe listens on the room's channel. The subscription is active when
// Subscribe returns.
func (c *Client) Subscribe(ctx context.Context, roomID string) (Subscription, error) {
	ps := c.rdb.Subscribe(ctx, SignalChannel(roomID))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	s := &pubsub{
		ps:   ps,
		out:  make(chan []byte, 64),
		done: make(chan struct{}),
	}
	go s.pump()
	return s, nil
}

type pubsub struct {
	ps        *redis.PubSub
	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (s *pubsub) pump() {
	defer close(s.out)
	for msg := range s.ps.Channel() {
		select {
		case s.out <- []byte(msg.Payload):
		case <-s.done:
			return
		}
	}
}

func (s *pubsub) Messages() <-chan []byte { return s.out }

func (s *pubsub) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
