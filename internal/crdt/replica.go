package crdt

import (
	"fmt"
	"log/slog"
	"sync"
)

// Replica is the local RGA sequence: an ordered list of cells, a pending
// buffer for inserts and deletes whose dependency hasn't arrived yet, and
// the seen-operation set that makes delivery idempotent. A single mutex
// guards all of it; the drain of pending children reenters the insert
// path while the lock is already held (see insertLocked/deleteLocked).
type Replica struct {
	mu sync.Mutex

	siteID string
	clock  VClock

	nodes []Cell
	index map[string]int // PID.Key() -> index in nodes

	pendingInserts map[string][]InsertOp // parentKey -> waiting inserts
	pendingDeletes map[string][]DeleteOp // target PID.Key() -> waiting deletes

	seenInserts map[string]struct{} // PID.Key() of integrated inserts
	seenDeletes map[string]struct{} // DeleteOpID.Key() of applied deletes
}

// NewReplica creates an empty replica owned by siteID.
func NewReplica(siteID string) *Replica {
	return &Replica{
		siteID:         siteID,
		clock:          NewVClock(),
		index:          make(map[string]int),
		pendingInserts: make(map[string][]InsertOp),
		pendingDeletes: make(map[string][]DeleteOp),
		seenInserts:    make(map[string]struct{}),
		seenDeletes:    make(map[string]struct{}),
	}
}

// SiteID returns the owning site's id.
func (r *Replica) SiteID() string { return r.siteID }

// Clock returns a detached copy of the local vector clock.
func (r *Replica) Clock() VClock {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clock.Clone()
}

// ─────────────────────────────────────────────────────────────
// Local edit entry points (4.D / 4.D′ "translating a visible index")
// ─────────────────────────────────────────────────────────────

// LocalInsert inserts value after visible position index-1 (clamped into
// [0, len(visible)]) and returns the resulting operation for broadcast.
func (r *Replica) LocalInsert(value string, index int) InsertOp {
	r.mu.Lock()
	defer r.mu.Unlock()

	visible := r.visibleLocked()
	if index < 0 {
		index = 0
	}
	if index > len(visible) {
		index = len(visible)
	}

	var parent *PID
	if index > 0 {
		p := visible[index-1].ID
		parent = &p
	}

	r.clock = r.clock.Increment(r.siteID)
	op := InsertOp{
		SiteID: r.siteID,
		Parent: parent,
		Value:  value,
		OpID:   PID{VClock: r.clock.Clone(), Site: r.siteID},
	}
	r.insertLocked(op)
	return op
}

// LocalDelete deletes the visible character at index, which must satisfy
// 0 <= index < len(visible); out-of-range indices are rejected (not
// clamped), matching the 0-based semantics SPEC_FULL.md adopts from
// spec.md §9's open question.
func (r *Replica) LocalDelete(index int) (DeleteOp, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	visible := r.visibleLocked()
	if index < 0 || index >= len(visible) {
		return DeleteOp{}, fmt.Errorf("crdt: delete index %d out of range [0,%d)", index, len(visible))
	}
	target := visible[index].ID

	r.clock = r.clock.Increment(r.siteID)
	op := DeleteOp{
		SiteID: r.siteID,
		Target: target,
		OpID: DeleteOpID{
			Target:      target,
			DeleterSite: r.siteID,
			VClock:      r.clock.Clone(),
		},
	}
	r.deleteLocked(op)
	return op, nil
}

// ─────────────────────────────────────────────────────────────
// Operation Applier (4.F) — single entry point for remote operations
// ─────────────────────────────────────────────────────────────

// ApplyInsert integrates a remote (or replayed-local) insert operation.
// It never panics: an internal invariant violation is logged and
// swallowed, matching §4.F/§7's propagation policy.
func (r *Replica) ApplyInsert(op InsertOp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.recoverLocked("ApplyInsert")
	r.insertLocked(op)
}

// ApplyDelete integrates a remote (or replayed-local) delete operation.
func (r *Replica) ApplyDelete(op DeleteOp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.recoverLocked("ApplyDelete")
	r.deleteLocked(op)
}

func (r *Replica) recoverLocked(where string) {
	if rec := recover(); rec != nil {
		slog.Error("crdt: invariant violation recovered", "op", where, "panic", rec)
	}
}

// ─────────────────────────────────────────────────────────────
// insertLocked — the algorithm in spec.md §4.D
// ─────────────────────────────────────────────────────────────

func (r *Replica) insertLocked(op InsertOp) {
	idKey := op.OpID.Key()

	// (1) idempotence
	if _, ok := r.seenInserts[idKey]; ok {
		return
	}
	if _, ok := r.index[idKey]; ok {
		return
	}

	// (2) parent-miss: park, do not mark seen
	if op.Parent != nil {
		if _, ok := r.index[op.Parent.Key()]; !ok {
			pk := parentKey(op.Parent)
			r.pendingInserts[pk] = append(r.pendingInserts[pk], op)
			return
		}
	}

	// (3) locate anchor
	anchor := -1
	if op.Parent != nil {
		idx, ok := r.index[op.Parent.Key()]
		if !ok {
			slog.Error("crdt: parent vanished after presence check", "parent", op.Parent.Key())
			return
		}
		anchor = idx
	}

	// (4) scan forward over same-parent siblings, which must end up in
	// descending-id order (I3: "the greater id comes first"). We advance
	// past any sibling that still outranks N, and stop — inserting N
	// immediately ahead of it — at the first sibling N outranks.
	at := anchor + 1
	for at < len(r.nodes) {
		c := r.nodes[at]
		if !samePID(c.Parent, op.Parent) {
			break
		}
		if !c.ID.Less(op.OpID) {
			// c still outranks (or the ids are incomparable-equal,
			// which can't happen for distinct ids): keep scanning.
			at++
			continue
		}
		break
	}

	// (5) insert
	newCell := Cell{Value: op.Value, ID: op.OpID, Parent: op.Parent}
	r.insertCellAt(at, newCell)

	// (6) advance local clock
	r.clock.MergeInto(op.OpID.VClock)

	// (7) mark seen
	r.seenInserts[idKey] = struct{}{}

	// drain any deletes that were waiting on this target
	r.drainPendingDeletesLocked(op.OpID)

	// (8) drain pending children, in parked order
	r.drainPendingInsertsLocked(op.OpID)
}

// insertCellAt splices newCell into nodes at position at and keeps the
// index map consistent (§9's "array-with-indices plus id->index map").
func (r *Replica) insertCellAt(at int, newCell Cell) {
	r.nodes = append(r.nodes, Cell{})
	copy(r.nodes[at+1:], r.nodes[at:])
	r.nodes[at] = newCell

	for key, idx := range r.index {
		if idx >= at {
			r.index[key] = idx + 1
		}
	}
	r.index[newCell.ID.Key()] = at
}

func (r *Replica) drainPendingInsertsLocked(parent PID) {
	pk := parent.Key()
	waiting, ok := r.pendingInserts[pk]
	if !ok {
		return
	}
	delete(r.pendingInserts, pk)
	for _, child := range waiting {
		r.insertLocked(child)
	}
}

// samePID compares two possibly-nil parent pointers for equality.
func samePID(a, b *PID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// ─────────────────────────────────────────────────────────────
// deleteLocked — the algorithm in spec.md §4.D′, extended with a
// pending-delete buffer per SPEC_FULL.md's resolution of the open
// question in spec.md §9.
// ─────────────────────────────────────────────────────────────

func (r *Replica) deleteLocked(op DeleteOp) {
	opKey := op.OpID.Key()
	if _, ok := r.seenDeletes[opKey]; ok {
		return
	}
	r.seenDeletes[opKey] = struct{}{}

	idx, ok := r.index[op.Target.Key()]
	if !ok {
		// target not yet present: park for lazy application.
		tk := op.Target.Key()
		r.pendingDeletes[tk] = append(r.pendingDeletes[tk], op)
		return
	}
	r.applyDeleteAt(idx, op)
}

func (r *Replica) applyDeleteAt(idx int, op DeleteOp) {
	cell := &r.nodes[idx]
	if !cell.Deleted {
		cell.Deleted = true
		cell.DeletedBy = op.OpID.DeleterSite
		cell.DeletedVClock = op.OpID.VClock.Clone()
	}
	r.clock.MergeInto(op.OpID.VClock)
}

func (r *Replica) drainPendingDeletesLocked(target PID) {
	tk := target.Key()
	waiting, ok := r.pendingDeletes[tk]
	if !ok {
		return
	}
	delete(r.pendingDeletes, tk)
	idx, ok := r.index[tk]
	if !ok {
		// shouldn't happen: we just integrated this id.
		return
	}
	for _, op := range waiting {
		if _, seen := r.seenDeletes[op.OpID.Key()]; !seen {
			r.seenDeletes[op.OpID.Key()] = struct{}{}
		}
		r.applyDeleteAt(idx, op)
	}
}

// ─────────────────────────────────────────────────────────────
// Projections
// ─────────────────────────────────────────────────────────────

// VisibleText returns the current visible document text.
func (r *Replica) VisibleText() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []byte
	for _, c := range r.visibleLocked() {
		out = append(out, c.Value...)
	}
	return string(out)
}

func (r *Replica) visibleLocked() []Cell {
	visible := make([]Cell, 0, len(r.nodes))
	for _, c := range r.nodes {
		if !c.Deleted {
			visible = append(visible, c)
		}
	}
	return visible
}

// Snapshot returns a deep copy of the full replica sequence (including
// tombstones) in sequence order, for anti-entropy (4.G).
func (r *Replica) Snapshot() []Cell {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Cell, len(r.nodes))
	for i, c := range r.nodes {
		out[i] = c.Clone()
	}
	return out
}

// Len returns the number of cells (live and tombstoned).
func (r *Replica) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.nodes)
}
