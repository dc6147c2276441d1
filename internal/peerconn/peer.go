// Package peerconn implements the transport described in spec.md §4.H/§6:
// a newline-delimited JSON stream over TCP between sites, a per-connection
// reader goroutine, a connector that retries the configured static peer
// list, and a broadcast that detaches peers on send failure.
package peerconn

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Polqt/rgaedit/internal/wire"
)

// Peer is one attached TCP connection to another site.
type Peer struct {
	ID   string // connection-scoped id, for logging only — never a CRDT id
	Addr string

	conn net.Conn
	w    *bufio.Writer
	wmu  sync.Mutex
}

func newPeer(conn net.Conn) *Peer {
	return &Peer{
		ID:   uuid.NewString(),
		Addr: conn.RemoteAddr().String(),
		conn: conn,
		w:    bufio.NewWriter(conn),
	}
}

// Send marshals env and writes it as one newline-terminated line. Safe for
// concurrent use.
func (p *Peer) Send(env wire.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "peerconn: marshal envelope")
	}
	p.wmu.Lock()
	defer p.wmu.Unlock()
	if _, err := p.w.Write(b); err != nil {
		return errors.Wrap(err, "peerconn: write")
	}
	if err := p.w.WriteByte('\n'); err != nil {
		return errors.Wrap(err, "peerconn: write newline")
	}
	return p.w.Flush()
}

// Close closes the underlying connection.
func (p *Peer) Close() error {
	return p.conn.Close()
}

// ─────────────────────────────────────────────────────────────
// Set — the attached-peer registry behind the broadcast hook (4.H)
// ─────────────────────────────────────────────────────────────

// Set is a concurrency-safe registry of attached peers.
type Set struct {
	mu    sync.RWMutex
	peers map[string]*Peer
}

// NewSet returns an empty peer set.
func NewSet() *Set {
	return &Set{peers: make(map[string]*Peer)}
}

// Add registers a peer.
func (s *Set) Add(p *Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[p.ID] = p
}

// Remove detaches and closes a peer, if present.
func (s *Set) Remove(id string) {
	s.mu.Lock()
	p, ok := s.peers[id]
	if ok {
		delete(s.peers, id)
	}
	s.mu.Unlock()
	if ok {
		_ = p.Close()
	}
}

// List returns a snapshot of currently attached peers.
func (s *Set) List() []*Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	return out
}

// Info is a copyable, lock-free summary of a Peer, safe to hand out to
// callers that only want to display connection identity.
type Info struct {
	ID   string
	Addr string
}

// ListInfo returns Info snapshots of every attached peer.
func (s *Set) ListInfo() []Info {
	peers := s.List()
	out := make([]Info, len(peers))
	for i, p := range peers {
		out[i] = Info{ID: p.ID, Addr: p.Addr}
	}
	return out
}

// Broadcast sends env to every attached peer except excludeID. A send
// failure detaches that peer; there is no retry and no buffering (§4.H).
func (s *Set) Broadcast(env wire.Envelope, excludeID string) {
	for _, p := range s.List() {
		if p.ID == excludeID {
			continue
		}
		if err := p.Send(env); err != nil {
			slog.Warn("peerconn: broadcast send failed, detaching peer", "peer", p.ID, "addr", p.Addr, "err", err)
			s.Remove(p.ID)
		}
	}
}
