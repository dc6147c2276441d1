package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Polqt/rgaedit/internal/crdt"
)

func TestEncodeDecodeInsertRoundTrip(t *testing.T) {
	parent := crdt.PID{VClock: crdt.VClock{"1": 1}, Site: "1"}
	op := crdt.InsertOp{
		SiteID: "1",
		Parent: &parent,
		Value:  "x",
		OpID:   crdt.PID{VClock: crdt.VClock{"1": 2}, Site: "1"},
	}

	line, err := EncodeInsert(op)
	require.NoError(t, err)

	env, err := Decode(line)
	require.NoError(t, err)
	assert.Equal(t, TypeInsert, env.Type)

	out, err := env.AsInsert()
	require.NoError(t, err)
	assert.Equal(t, op.SiteID, out.SiteID)
	assert.Equal(t, op.Value, out.Value)
	assert.True(t, op.OpID.Equal(out.OpID))
	require.NotNil(t, out.Parent)
	assert.True(t, parent.Equal(*out.Parent))
}

func TestEncodeDecodeInsertAtRootHasNilParent(t *testing.T) {
	op := crdt.InsertOp{
		SiteID: "1",
		Parent: nil,
		Value:  "a",
		OpID:   crdt.PID{VClock: crdt.VClock{"1": 1}, Site: "1"},
	}
	line, err := EncodeInsert(op)
	require.NoError(t, err)

	env, err := Decode(line)
	require.NoError(t, err)
	out, err := env.AsInsert()
	require.NoError(t, err)
	assert.Nil(t, out.Parent)
}

func TestEncodeDecodeDeleteRoundTrip(t *testing.T) {
	target := crdt.PID{VClock: crdt.VClock{"1": 1}, Site: "1"}
	op := crdt.DeleteOp{
		SiteID: "2",
		Target: target,
		OpID: crdt.DeleteOpID{
			Target:      target,
			DeleterSite: "2",
			VClock:      crdt.VClock{"1": 1, "2": 1},
		},
	}

	line, err := EncodeDelete(op)
	require.NoError(t, err)

	env, err := Decode(line)
	require.NoError(t, err)
	assert.Equal(t, TypeDelete, env.Type)

	out, err := env.AsDelete()
	require.NoError(t, err)
	assert.Equal(t, op.SiteID, out.SiteID)
	assert.True(t, op.Target.Equal(out.Target))
	assert.Equal(t, op.OpID.DeleterSite, out.OpID.DeleterSite)
	assert.True(t, op.OpID.VClock.Equal(out.OpID.VClock))
}

func TestDecodeDeleteMissingTargetIsAnError(t *testing.T) {
	line, err := EncodeSyncRequest("1")
	require.NoError(t, err)
	env, err := Decode(line)
	require.NoError(t, err)
	env.Type = TypeDelete // malformed: no target_id

	_, err = env.AsDelete()
	assert.Error(t, err)
}

func TestEncodeSyncRequestRoundTrip(t *testing.T) {
	line, err := EncodeSyncRequest("site-a")
	require.NoError(t, err)

	env, err := Decode(line)
	require.NoError(t, err)
	assert.Equal(t, TypeSyncRequest, env.Type)
	assert.Equal(t, "site-a", env.SiteID)
}

func TestEncodeSyncResponseRoundTripPreservesTombstones(t *testing.T) {
	root := crdt.PID{VClock: crdt.VClock{"1": 1}, Site: "1"}
	child := crdt.PID{VClock: crdt.VClock{"1": 2}, Site: "1"}
	cells := []crdt.Cell{
		{Value: "a", ID: root},
		{
			Value: "b", ID: child, Parent: &root,
			Deleted: true, DeletedBy: "2",
			DeletedVClock: crdt.VClock{"1": 2, "2": 1},
		},
	}

	line, err := EncodeSyncResponse("1", cells)
	require.NoError(t, err)

	env, err := Decode(line)
	require.NoError(t, err)
	assert.Equal(t, TypeSyncResponse, env.Type)

	out := env.AsSnapshot()
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].Value)
	assert.False(t, out[0].Deleted)

	assert.Equal(t, "b", out[1].Value)
	assert.True(t, out[1].Deleted)
	assert.Equal(t, "2", out[1].DeletedBy)
	assert.True(t, cells[1].DeletedVClock.Equal(out[1].DeletedVClock))
	require.NotNil(t, out[1].Parent)
	assert.True(t, root.Equal(*out[1].Parent))
}

func TestDecodeMalformedLineIsAnError(t *testing.T) {
	_, err := Decode([]byte("not json"))
	assert.Error(t, err)
}
