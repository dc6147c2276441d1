// Package wire defines the newline-delimited JSON message contract
// between sites (spec.md §6) and the conversions to/from the crdt
// package's integration-level operation types.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/Polqt/rgaedit/internal/crdt"
)

// Message types, per spec.md §6.
const (
	TypeInsert       = "insert"
	TypeDelete       = "delete"
	TypeSyncRequest  = "sync_request"
	TypeSyncResponse = "sync_response"
)

// Envelope is the outer shape every line on the wire decodes into first;
// Type selects how the remaining fields are interpreted.
type Envelope struct {
	Type string `json:"type"`

	// insert
	SiteID string   `json:"site_id,omitempty"`
	PosID  *crdt.PID `json:"pos_id,omitempty"`
	Char   string   `json:"char,omitempty"`
	OpID   json.RawMessage `json:"op_id,omitempty"`

	// delete
	TargetID *crdt.PID `json:"target_id,omitempty"`

	// sync_response
	Snapshot []WireCell `json:"snapshot,omitempty"`
}

// WireCell is the §6 on-the-wire shape of a crdt.Cell.
type WireCell struct {
	Value         string     `json:"value"`
	ID            crdt.PID   `json:"id"`
	Parent        *crdt.PID  `json:"parent"`
	Deleted       bool       `json:"deleted"`
	DeletedBy     string     `json:"deleted_by,omitempty"`
	DeletedVClock crdt.VClock `json:"deleted_vclock,omitempty"`
}

func cellToWire(c crdt.Cell) WireCell {
	return WireCell{
		Value:         c.Value,
		ID:            c.ID,
		Parent:        c.Parent,
		Deleted:       c.Deleted,
		DeletedBy:     c.DeletedBy,
		DeletedVClock: c.DeletedVClock,
	}
}

func (w WireCell) toCell() crdt.Cell {
	return crdt.Cell{
		Value:         w.Value,
		ID:            w.ID,
		Parent:        w.Parent,
		Deleted:       w.Deleted,
		DeletedBy:     w.DeletedBy,
		DeletedVClock: w.DeletedVClock,
	}
}

// EncodeInsert builds the wire line for an insert operation.
func EncodeInsert(op crdt.InsertOp) ([]byte, error) {
	opID, err := json.Marshal(op.OpID)
	if err != nil {
		return nil, err
	}
	env := Envelope{
		Type:   TypeInsert,
		SiteID: op.SiteID,
		PosID:  op.Parent,
		Char:   op.Value,
		OpID:   opID,
	}
	return json.Marshal(env)
}

// EncodeDelete builds the wire line for a delete operation.
func EncodeDelete(op crdt.DeleteOp) ([]byte, error) {
	opID, err := json.Marshal(op.OpID)
	if err != nil {
		return nil, err
	}
	target := op.Target
	env := Envelope{
		Type:     TypeDelete,
		SiteID:   op.SiteID,
		TargetID: &target,
		OpID:     opID,
	}
	return json.Marshal(env)
}

// EncodeSyncRequest builds the wire line for a sync request.
func EncodeSyncRequest(siteID string) ([]byte, error) {
	return json.Marshal(Envelope{Type: TypeSyncRequest, SiteID: siteID})
}

// EncodeSyncResponse builds the wire line for a sync response carrying a
// full replica snapshot.
func EncodeSyncResponse(siteID string, cells []crdt.Cell) ([]byte, error) {
	wireCells := make([]WireCell, len(cells))
	for i, c := range cells {
		wireCells[i] = cellToWire(c)
	}
	return json.Marshal(Envelope{Type: TypeSyncResponse, SiteID: siteID, Snapshot: wireCells})
}

// Decode parses one line of the wire protocol into an Envelope.
func Decode(line []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Envelope{}, fmt.Errorf("wire: malformed message: %w", err)
	}
	return env, nil
}

// AsInsert converts a decoded insert Envelope into a crdt.InsertOp.
func (env Envelope) AsInsert() (crdt.InsertOp, error) {
	var opID crdt.PID
	if err := json.Unmarshal(env.OpID, &opID); err != nil {
		return crdt.InsertOp{}, fmt.Errorf("wire: malformed insert op_id: %w", err)
	}
	return crdt.InsertOp{
		SiteID: env.SiteID,
		Parent: env.PosID,
		Value:  env.Char,
		OpID:   opID,
	}, nil
}

// AsDelete converts a decoded delete Envelope into a crdt.DeleteOp.
func (env Envelope) AsDelete() (crdt.DeleteOp, error) {
	if env.TargetID == nil {
		return crdt.DeleteOp{}, fmt.Errorf("wire: delete missing target_id")
	}
	var opID crdt.DeleteOpID
	if err := json.Unmarshal(env.OpID, &opID); err != nil {
		return crdt.DeleteOp{}, fmt.Errorf("wire: malformed delete op_id: %w", err)
	}
	return crdt.DeleteOp{
		SiteID: env.SiteID,
		Target: *env.TargetID,
		OpID:   opID,
	}, nil
}

// AsSnapshot converts a decoded sync_response Envelope into plain cells.
func (env Envelope) AsSnapshot() []crdt.Cell {
	cells := make([]crdt.Cell, len(env.Snapshot))
	for i, w := range env.Snapshot {
		cells[i] = w.toCell()
	}
	return cells
}
