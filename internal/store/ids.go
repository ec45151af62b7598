package store

import (
	"encoding/hex"
	"sync/atomic"
	"time"
)

var idSeq uint64

// newSortableID generates a lexicographically sortable 26-char hex suffix:
// 16 chars of nanosecond timestamp, 10 chars of process-local sequence.
func newSortableID() string {
	ns := uint64(time.Now().UnixNano())
	seq := atomic.AddUint64(&idSeq, 1)
	var raw [13]byte
	raw[0] = byte(ns >> 56)
	raw[1] = byte(ns >> 48)
	raw[2] = byte(ns >> 40)
	raw[3] = byte(ns >> 32)
	raw[4] = byte(ns >> 24)
	raw[5] = byte(ns >> 16)
	raw[6] = byte(ns >> 8)
	raw[7] = byte(ns)
	raw[8] = byte(seq >> 32)
	raw[9] = byte(seq >> 24)
	raw[10] = byte(seq >> 16)
	raw[11] = byte(seq >> 8)
	raw[12] = byte(seq)
	dst := make([]byte, 26)
	hex.Encode(dst, raw[:])
	return string(dst)
}

func NewInputID() string      { return "input_" + newSortableID() }
func NewPredictionID() string { return "pred_" + newSortableID() }
func NewSnapshotID() string   { return "snap_" + newSortableID() }
func NewCycleID() string      { return "cycle_" + newSortableID() }
func NewNodeID() string       { return "node_" + newSortableID() }
func NewCheckpointID() string { return "ckpt_" + newSortableID() }
func NewBackfillJobID() string { return "bf_" + newSortableID() }
func NewConfigID() string     { return "cfg_" + newSortableID() }
func NewLeaderboardID() string { return "lb_" + newSortableID() }
