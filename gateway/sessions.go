package gateway

import (
	"encoding/json"
	"sync"

	"pong-tournament/socket"
)

// SessionRegistry maps a user id to every live lobby socket of that user.
type SessionRegistry struct {
	mu      sync.RWMutex
	sockets map[string]map[string]*socket.Socket
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sockets: make(map[string]map[string]*socket.Socket)}
}

// Register adds sock for userID. The returned func removes it and reports how many sockets the user still has.
func (r *SessionRegistry) Register(userID string, sock *socket.Socket) func() int {
	r.mu.Lock()
	set, ok := r.sockets[userID]
	if !ok {
		set = make(map[string]*socket.Socket)
		r.sockets[userID] = set
	}
	set[sock.ID] = sock
	r.mu.Unlock()

	var once sync.Once
	remaining := 0
	return func() int {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			set := r.sockets[userID]
			delete(set, sock.ID)
			remaining = len(set)
			if remaining == 0 {
				delete(r.sockets, userID)
			}
		})
		return remaining
	}
}

// SendToUser queues frame on every socket of userID and returns how many accepted it.
func (r *SessionRegistry) SendToUser(userID string, frame interface{}) int {
	data, err := json.Marshal(frame)
	if err != nil {
		return 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	sent := 0
	for _, sock := range r.sockets[userID] {
		if sock.Send(data) {
			sent++
		}
	}
	return sent
}

// Count returns the number of live sockets of userID.
func (r *SessionRegistry) Count(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sockets[userID])
}
