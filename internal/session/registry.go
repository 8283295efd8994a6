package session

import "arena-server/internal/protocol"

// Registry tracks the outbox channels of connected sessions for one
// namespace. It is owned by a single actor goroutine and is not safe for
// concurrent use; all calls must happen on that actor's loop.
type Registry struct {
	clients map[string]chan protocol.ServerMessage
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]chan protocol.ServerMessage)}
}

func (r *Registry) Add(id string, out chan protocol.ServerMessage) {
	r.clients[id] = out
}

// Remove drops a session and closes its outbox so the transport's writer
// goroutine drains and exits. Safe: the registry is single-actor-owned and a
// deleted entry is never sent to again.
func (r *Registry) Remove(id string) {
	if ch, ok := r.clients[id]; ok {
		close(ch)
		delete(r.clients, id)
	}
}

func (r *Registry) Count() int { return len(r.clients) }

// Send delivers to one session. A session whose outbox is full is dropped,
// same policy as broadcast: a reader that slow is as good as gone.
func (r *Registry) Send(id string, msg protocol.ServerMessage) {
	ch, ok := r.clients[id]
	if !ok {
		return
	}
	select {
	case ch <- msg:
	default:
		close(ch)
		delete(r.clients, id)
	}
}

// Broadcast fans out to every session.
func (r *Registry) Broadcast(msg protocol.ServerMessage) {
	r.BroadcastExcept("", msg)
}

// BroadcastExcept fans out to every session but the named one.
func (r *Registry) BroadcastExcept(exceptID string, msg protocol.ServerMessage) {
	for id, ch := range r.clients {
		if id == exceptID {
			continue
		}
		select {
		case ch <- msg:
		default:
			close(ch)
			delete(r.clients, id)
		}
	}
}

// CloseAll closes every outbox and empties the registry. Used on shutdown so
// writer goroutines drain and exit.
func (r *Registry) CloseAll() {
	for id, ch := range r.clients {
		close(ch)
		delete(r.clients, id)
	}
}
