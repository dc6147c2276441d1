package peerconn

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/Polqt/rgaedit/internal/wire"
)

// connectRetryInterval and dialTimeout match spec.md §6: the connector
// retries roughly every second with a two-second per-attempt connect
// timeout.
const (
	connectRetryInterval = time.Second
	dialTimeout          = 2 * time.Second
)

// Handler is invoked by Manager for every decoded line. OnConnect fires
// once, right after an outbound dial succeeds, so the caller can send the
// initial sync_request (§4.G).
type Handler interface {
	OnMessage(p *Peer, env wire.Envelope)
	OnConnect(p *Peer)
	OnDisconnect(p *Peer)
}

// Manager owns the listening socket, the connector goroutines for the
// static peer list, and the attached-peer set.
type Manager struct {
	handler Handler
	peers   *Set

	mu       sync.Mutex
	listener net.Listener
	stopped  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewManager creates a Manager that dispatches to handler.
func NewManager(handler Handler) *Manager {
	return &Manager{
		handler: handler,
		peers:   NewSet(),
		stopCh:  make(chan struct{}),
	}
}

// Peers returns the attached-peer registry.
func (m *Manager) Peers() *Set { return m.peers }

// Addr returns the bound listener address, or nil if Listen hasn't
// succeeded yet. Useful for tests that bind to "127.0.0.1:0" and need
// the OS-assigned port.
func (m *Manager) Addr() net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == nil {
		return nil
	}
	return m.listener.Addr()
}

// Broadcast fans env out to every attached peer except excludeID.
func (m *Manager) Broadcast(env wire.Envelope, excludeID string) {
	m.peers.Broadcast(env, excludeID)
}

// Listen binds addr and accepts inbound peers until Stop is called or an
// Accept call fails (the error is logged and accepting stops). Each
// accepted connection spawns a reader goroutine (§5: "one reader thread
// per attached peer connection").
func (m *Manager) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.listener = ln
	m.mu.Unlock()

	m.wg.Add(1)
	go m.acceptLoop(ln)
	return nil
}

func (m *Manager) acceptLoop(ln net.Listener) {
	defer m.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-m.stopCh:
				return
			default:
			}
			slog.Warn("peerconn: accept error", "err", err)
			return
		}
		p := newPeer(conn)
		m.peers.Add(p)
		slog.Info("peerconn: peer attached (inbound)", "peer", p.ID, "addr", p.Addr)
		m.wg.Add(1)
		go m.readLoop(p)
	}
}

// Connect spawns the connector loop for one static peer address: it
// dials, and on success hands the connection to the reader loop and
// fires OnConnect; on failure it retries every connectRetryInterval until
// Stop is called.
func (m *Manager) Connect(addr string) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(connectRetryInterval)
		defer ticker.Stop()
		for {
			conn, err := net.DialTimeout("tcp", addr, dialTimeout)
			if err == nil {
				p := newPeer(conn)
				m.peers.Add(p)
				slog.Info("peerconn: peer attached (outbound)", "peer", p.ID, "addr", p.Addr)
				m.handler.OnConnect(p)
				m.wg.Add(1)
				go m.readLoop(p)
				return
			}
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
			}
		}
	}()
}

func (m *Manager) readLoop(p *Peer) {
	defer m.wg.Done()
	defer func() {
		m.peers.Remove(p.ID)
		m.handler.OnDisconnect(p)
	}()

	scanner := bufio.NewScanner(p.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		env, err := wire.Decode(line)
		if err != nil {
			slog.Warn("peerconn: discarding malformed line", "peer", p.ID, "err", err)
			continue
		}
		m.handler.OnMessage(p, env)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		slog.Warn("peerconn: read error", "peer", p.ID, "err", err)
	}
}

// Stop terminates the listener and connector loops at their next
// iteration and closes all attached sockets. In-flight local operations
// complete; no attempt is made to flush queued broadcasts (§5).
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	close(m.stopCh)
	ln := m.listener
	m.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	for _, p := range m.peers.List() {
		m.peers.Remove(p.ID)
	}
	m.wg.Wait()
}
