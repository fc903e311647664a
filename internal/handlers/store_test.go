package handlers

import (
	"context"
	"sync"

	"github.com/mossy-p/peercall/internal/models"
	"github.com/mossy-p/peercall/internal/redis"
)

// memoryStore is an in-process Store with redis-like semantics.
type memoryStore struct {
	mu    sync.Mutex
	rooms map[string]models.RoomMetadata
	codes map[string]string
	peers map[string]map[string]struct{}
	subs  map[string]map[*memorySub]struct{}

	publishErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		rooms: make(map[string]models.RoomMetadata),
		codes: make(map[string]string),
		peers: make(map[string]map[string]struct{}),
		subs:  make(map[string]map[*memorySub]struct{}),
	}
}

func (m *memoryStore) SaveRoom(_ context.Context, room *models.RoomMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[room.ID] = *room
	m.codes[room.Code] = room.ID
	return nil
}

func (m *memoryStore) ResolveRoomID(_ context.Context, identifier string) (string, error) {
	if len(identifier) != redis.RoomCodeLength {
		return identifier, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.codes[identifier]
	if !ok {
		return "", redis.ErrRoomNotFound
	}
	return id, nil
}

func (m *memoryStore) GetRoom(_ context.Context, roomID string) (*models.RoomMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return nil, redis.ErrRoomNotFound
	}
	room.PlayerCount = len(m.peers[roomID])
	return &room, nil
}

func (m *memoryStore) DeleteRoom(_ context.Context, room *models.RoomMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, room.ID)
	delete(m.codes, room.Code)
	delete(m.peers, room.ID)
	return nil
}

func (m *memoryStore) AddPeer(_ context.Context, roomID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.peers[roomID] == nil {
		m.peers[roomID] = make(map[string]struct{})
	}
	m.peers[roomID][userID] = struct{}{}
	return nil
}

func (m *memoryStore) RemovePeer(_ context.Context, roomID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.peers[roomID], userID)
	return nil
}

func (m *memoryStore) HasPeer(_ context.Context, roomID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.peers[roomID][userID]
	return ok, nil
}

func (m *memoryStore) peerCount(roomID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.peers[roomID])
}

func (m *memoryStore) Publish(_ context.Context, roomID string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	for sub := range m.subs[roomID] {
		select {
		case sub.ch <- payload:
		default:
		}
	}
	return nil
}

func (m *memoryStore) Subscribe(_ context.Context, roomID string) (redis.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := &memorySub{store: m, roomID: roomID, ch: make(chan []byte, 64)}
	if m.subs[roomID] == nil {
		m.subs[roomID] = make(map[*memorySub]struct{})
	}
	m.subs[roomID][sub] = struct{}{}
	return sub, nil
}

func (m *memoryStore) subscriberCount(roomID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[roomID])
}

type memorySub struct {
	store  *memoryStore
	roomID string
	ch     chan []byte
	once   sync.Once
}

func (s *memorySub) Messages() <-chan []byte { return s.ch }

func (s *memorySub) Close() error {
	s.once.Do(func() {
		s.store.mu.Lock()
		delete(s.store.subs[s.roomID], s)
		close(s.ch)
		s.store.mu.Unlock()
	})
	return nil
}
