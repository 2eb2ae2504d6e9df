package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Conn is one live realtime client. Send must be safe for concurrent use.
type Conn interface {
	ID() string
	Send(msg []byte) error
}

// Registry tracks the live connections of one stream and fans messages out
// to them. It never closes a connection; the handler that admitted a
// connection owns it.
type Registry struct {
	name   string
	mu     sync.RWMutex
	conns  map[Conn]struct{}
	logger *zap.SugaredLogger
}

// NewRegistry creates an empty registry for the named stream
func NewRegistry(name string, logger *zap.SugaredLogger) *Registry {
	return &Registry{
		name:   name,
		conns:  make(map[Conn]struct{}),
		logger: logger.With("stream", name),
	}
}

// Connect admits c. Connecting the same connection twice is harmless.
func (r *Registry) Connect(c Conn) {
	r.mu.Lock()
	r.conns[c] = struct{}{}
	n := len(r.conns)
	r.mu.Unlock()

	r.logger.Debugw("client connected", "conn", c.ID(), "active", n)
}

// Disconnect removes c. Removing an absent connection is a no-op.
func (r *Registry) Disconnect(c Conn) {
	r.mu.Lock()
	_, ok := r.conns[c]
	delete(r.conns, c)
	n := len(r.conns)
	r.mu.Unlock()

	if ok {
		r.logger.Debugw("client disconnected", "conn", c.ID(), "active", n)
	}
}

// Len returns the number of active connections
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Connections returns a snapshot of the active set
func (r *Registry) Connections() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Conn, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}

// Broadcast delivers msg to every active connection and returns how many
// deliveries succeeded. A connection that fails is removed; the others
// still receive the message.
func (r *Registry) Broadcast(msg []byte) int {
	delivered := 0
	for _, c := range r.Connections() {
		if err := c.Send(msg); err != nil {
			r.logger.Infow("dropping client after failed send", "conn", c.ID(), "error", err)
			r.Disconnect(c)
			continue
		}
		delivered++
	}
	return delivered
}

// BroadcastJSON encodes v once and broadcasts it
func (r *Registry) BroadcastJSON(v any) (int, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	return r.Broadcast(data), nil
}

// Send delivers msg to c only. A failed connection is removed.
func (r *Registry) Send(c Conn, msg []byte) error {
	if err := c.Send(msg); err != nil {
		r.logger.Infow("dropping client after failed send", "conn", c.ID(), "error", err)
		r.Disconnect(c)
		return err
	}
	return nil
}

// SendJSON encodes v and sends it to c
func (r *Registry) SendJSON(c Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.Send(c, data)
}
