package crdt

import "encoding/json"

// PID is a position identifier: a vector-clock snapshot paired with the
// minting site, totally ordered by Less. Two PIDs are equal only when both
// components are equal.
type PID struct {
	VClock VClock `json:"vclock"`
	Site   string `json:"site"`
}

// Less implements the total order <ₚ from spec.md §3:
//  1. a.VClock happens-before b.VClock  => a < b
//  2. b.VClock happens-before a.VClock  => a > b
//  3. otherwise (concurrent or equal)   => compare Site lexicographically
func (a PID) Less(b PID) bool {
	if a.VClock.HappensBefore(b.VClock) {
		return true
	}
	if b.VClock.HappensBefore(a.VClock) {
		return false
	}
	return a.Site < b.Site
}

// Equal reports whether a and b name the same position.
func (a PID) Equal(b PID) bool {
	return a.Site == b.Site && a.VClock.Equal(b.VClock)
}

// Key returns the canonical string encoding used for map keys, the
// seen-operation set, and the pending-insert buffer. encoding/json sorts
// map keys and struct fields keep declaration order, so PIDs with the
// same clock entries always produce the same byte string. An explicit
// zero entry is encoded, so two PIDs that Equal treats as equal can
// still differ in Key when only one of them carries a zero entry.
func (a PID) Key() string {
	return keyOf(a)
}

// keyOf returns the canonical JSON encoding of v as a string, used
// wherever a value needs a stable, comparable identity (seen-sets,
// pending-buffer keys, map keys for dedup).
func keyOf(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic("crdt: value is not serializable: " + err.Error())
	}
	return string(b)
}

// rootKey is the pending-buffer / index key used for the implicit document
// root (parent == nil).
const rootKey = "\x00root"

// parentKey returns the canonical key for an (possibly nil) parent PID.
func parentKey(parent *PID) string {
	if parent == nil {
		return rootKey
	}
	return parent.Key()
}
