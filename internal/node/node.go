// Package node ties the replicated document engine (internal/crdt) to the
// peer transport (internal/peerconn): local edits are applied then
// broadcast, remote messages are dispatched to the replica, and a newly
// attached peer is brought up to date via anti-entropy (spec.md §4.G).
package node

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/pkg/errors"

	"github.com/Polqt/rgaedit/internal/crdt"
	"github.com/Polqt/rgaedit/internal/peerconn"
	"github.com/Polqt/rgaedit/internal/wire"
)

// Node is one participating site: its replica, its peer transport, and an
// optional export file written after every successfully integrated
// insert (§6's "Persisted state").
type Node struct {
	SiteID string

	replica *crdt.Replica
	mgr     *peerconn.Manager

	exportPath string
}

// New creates a Node for siteID. exportPath, if non-empty, is the file
// that the visible text is atomically written to after each insert.
func New(siteID, exportPath string) *Node {
	n := &Node{
		SiteID:     siteID,
		replica:    crdt.NewReplica(siteID),
		exportPath: exportPath,
	}
	n.mgr = peerconn.NewManager(n)
	return n
}

// Listen binds the node's inbound socket.
func (n *Node) Listen(addr string) error {
	return n.mgr.Listen(addr)
}

// ConnectPeers starts a connector loop for each static peer address.
func (n *Node) ConnectPeers(addrs []string) {
	for _, addr := range addrs {
		n.mgr.Connect(addr)
	}
}

// Stop shuts the node's transport down.
func (n *Node) Stop() {
	n.mgr.Stop()
}

// VisibleText returns the current visible document text.
func (n *Node) VisibleText() string {
	return n.replica.VisibleText()
}

// Snapshot returns the full replica, tombstones included.
func (n *Node) Snapshot() []crdt.Cell {
	return n.replica.Snapshot()
}

// Peers lists currently attached peers (addr, connection id).
func (n *Node) Peers() []peerconn.Info {
	return n.mgr.Peers().ListInfo()
}

// ─────────────────────────────────────────────────────────────
// Local edit entry points — apply, then broadcast (§4.H)
// ─────────────────────────────────────────────────────────────

// Insert applies a local insert of value at visible index and broadcasts
// it to every attached peer.
func (n *Node) Insert(value string, index int) {
	op := n.replica.LocalInsert(value, index)
	env, err := wire.EncodeInsert(op)
	if err != nil {
		slog.Error("node: encode local insert", "err", err)
		return
	}
	n.broadcastLine(env)
	n.exportText()
}

// Delete applies a local delete at visible index, or returns an error for
// an out-of-range index, in which case no state changes and nothing is
// broadcast (§7).
func (n *Node) Delete(index int) error {
	op, err := n.replica.LocalDelete(index)
	if err != nil {
		return err
	}
	env, err := wire.EncodeDelete(op)
	if err != nil {
		return errors.Wrap(err, "node: encode local delete")
	}
	n.broadcastLine(env)
	return nil
}

func (n *Node) broadcastLine(env []byte) {
	e, err := wire.Decode(env)
	if err != nil {
		slog.Error("node: re-decode local envelope", "err", err)
		return
	}
	n.mgr.Broadcast(e, "")
}

// exportText atomically rewrites the per-site export file, if configured.
func (n *Node) exportText() {
	if n.exportPath == "" {
		return
	}
	text := n.replica.VisibleText()
	tmp := n.exportPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(text), 0o644); err != nil {
		slog.Warn("node: export write failed", "path", n.exportPath, "err", err)
		return
	}
	if err := os.Rename(tmp, n.exportPath); err != nil {
		slog.Warn("node: export rename failed", "path", n.exportPath, "err", err)
	}
}

// DefaultExportPath returns the conventional per-site export filename.
func DefaultExportPath(siteID string) string {
	return fmt.Sprintf("site_%s.txt", siteID)
}
