package node

import (
	"log/slog"

	"github.com/Polqt/rgaedit/internal/crdt"
	"github.com/Polqt/rgaedit/internal/peerconn"
	"github.com/Polqt/rgaedit/internal/wire"
)

// Node implements peerconn.Handler.
var _ peerconn.Handler = (*Node)(nil)

// OnConnect fires right after an outbound dial succeeds. The initiator
// sends sync_request immediately (§4.G, §6's connection lifecycle).
func (n *Node) OnConnect(p *peerconn.Peer) {
	env, err := wire.EncodeSyncRequest(n.SiteID)
	if err != nil {
		slog.Error("node: encode sync_request", "err", err)
		return
	}
	e, _ := wire.Decode(env)
	if err := p.Send(e); err != nil {
		slog.Warn("node: sync_request send failed", "peer", p.ID, "err", err)
	}
}

// OnDisconnect logs peer loss. Nothing else happens: the connector loop
// stops after its first successful dial, so a lost peer is not redialed.
func (n *Node) OnDisconnect(p *peerconn.Peer) {
	slog.Info("node: peer detached", "peer", p.ID, "addr", p.Addr)
}

// OnMessage dispatches a decoded line from p to the replica or the
// anti-entropy responder. Unknown types are logged and discarded (§7);
// malformed op payloads are likewise logged and discarded without
// terminating the connection.
func (n *Node) OnMessage(p *peerconn.Peer, env wire.Envelope) {
	switch env.Type {
	case wire.TypeInsert:
		op, err := env.AsInsert()
		if err != nil {
			slog.Warn("node: bad insert payload", "peer", p.ID, "err", err)
			return
		}
		n.replica.ApplyInsert(op)
		n.exportText()

	case wire.TypeDelete:
		op, err := env.AsDelete()
		if err != nil {
			slog.Warn("node: bad delete payload", "peer", p.ID, "err", err)
			return
		}
		n.replica.ApplyDelete(op)

	case wire.TypeSyncRequest:
		n.handleSyncRequest(p)

	case wire.TypeSyncResponse:
		n.handleSyncResponse(env)

	default:
		slog.Warn("node: unknown message type", "peer", p.ID, "type", env.Type)
	}
}

// handleSyncRequest replies with the full replica snapshot, in replica
// order, which minimizes parking on the other side (§4.G).
func (n *Node) handleSyncRequest(p *peerconn.Peer) {
	cells := n.replica.Snapshot()
	env, err := wire.EncodeSyncResponse(n.SiteID, cells)
	if err != nil {
		slog.Error("node: encode sync_response", "err", err)
		return
	}
	e, _ := wire.Decode(env)
	if err := p.Send(e); err != nil {
		slog.Warn("node: sync_response send failed", "peer", p.ID, "err", err)
	}
}

// handleSyncResponse replays a snapshot by synthesizing, for each cell in
// order, an insert (and a delete if tombstoned), per §4.G. The applier's
// idempotence and pending buffers make correctness independent of replay
// order or of operations the local replica already has.
func (n *Node) handleSyncResponse(env wire.Envelope) {
	for _, c := range env.AsSnapshot() {
		n.replica.ApplyInsert(crdt.InsertOp{
			SiteID: c.ID.Site,
			Parent: c.Parent,
			Value:  c.Value,
			OpID:   c.ID,
		})
		if c.Deleted {
			deleterSite := c.DeletedBy
			vclock := c.DeletedVClock
			if deleterSite == "" {
				deleterSite = c.ID.Site
			}
			if vclock == nil {
				vclock = crdt.NewVClock()
			}
			n.replica.ApplyDelete(crdt.DeleteOp{
				SiteID: deleterSite,
				Target: c.ID,
				OpID: crdt.DeleteOpID{
					Target:      c.ID,
					DeleterSite: deleterSite,
					VClock:      vclock,
				},
			})
		}
	}
	n.exportText()
}
