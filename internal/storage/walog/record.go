// Package walog implements the write-ahead log: an append-only stream of
// log records with LSN assignment and explicit flush, independent of the
// buffer pool and disk manager for table/index pages. Log records are
// logical (record-level before/after images), not physical page images,
// matching the spec's Log Record variant.
package walog

import (
	"encoding/binary"
	"fmt"
)

// Kind identifies the variant of a log record.
type Kind uint8

const (
	KindBegin Kind = iota + 1
	KindCommit
	KindAbort
	KindInsert
	KindUpdate
	KindDelete
	KindCheckpoint
)

func (k Kind) String() string {
	switch k {
	case KindBegin:
		return "BEGIN"
	case KindCommit:
		return "COMMIT"
	case KindAbort:
		return "ABORT"
	case KindInsert:
		return "INSERT"
	case KindUpdate:
		return "UPDATE"
	case KindDelete:
		return "DELETE"
	case KindCheckpoint:
		return "CHECKPOINT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(k))
	}
}

// LSN is a monotonic log sequence number; 0 is invalid.
type LSN uint64

// TxnID identifies a transaction.
type TxnID uint64

// Record is one entry in the log. Before/After carry an already-encoded
// tuple image for INSERT/UPDATE/DELETE; their interpretation is owned by
// the table heap, not this package. RID is encoded as the 8-byte form
// from package rid.
type Record struct {
	LSN     LSN
	Kind    Kind
	TxnID   TxnID
	PrevLSN LSN // previous record for the same txn, 0 if none

	RID    [8]byte // zero for BEGIN/COMMIT/ABORT/CHECKPOINT
	Before []byte  // UPDATE: before-image; DELETE: the deleted tuple
	After  []byte  // INSERT: inserted tuple; UPDATE: after-image

	// Checkpoint carries a snapshot for KindCheckpoint records.
	Checkpoint *CheckpointPayload
}

// CheckpointPayload snapshots enough state to bound log replay after a
// checkpoint. Payload contents are intentionally minimal — the spec
// leaves exact fields to the implementer.
type CheckpointPayload struct {
	ActiveTxns []TxnID
}

// marshal encodes a record as:
//
//	[0:4]   length (u32, of everything after this field)
//	[4]     kind (u8)
//	[5:13]  lsn (u64)
//	[13:21] txnID (u64)
//	[21:29] prevLSN (u64)
//	[29:37] rid (8 bytes)
//	[37:41] len(Before) (u32)
//	[41:..] Before
//	[..:+4] len(After) (u32)
//	[..]    After
//	[..:+4] len(checkpoint active txns) (u32), 0 if not a checkpoint
//	[..]    8*N bytes of txn ids
func marshal(r *Record) []byte {
	var ckpt []byte
	if r.Checkpoint != nil {
		ckpt = make([]byte, 4+8*len(r.Checkpoint.ActiveTxns))
		binary.LittleEndian.PutUint32(ckpt[0:4], uint32(len(r.Checkpoint.ActiveTxns)))
		for i, id := range r.Checkpoint.ActiveTxns {
			binary.LittleEndian.PutUint64(ckpt[4+8*i:], uint64(id))
		}
	} else {
		ckpt = make([]byte, 4)
	}

	body := make([]byte, 0, 33+4+len(r.Before)+4+len(r.After)+len(ckpt))
	var tmp [8]byte
	body = append(body, byte(r.Kind))
	binary.LittleEndian.PutUint64(tmp[:], uint64(r.LSN))
	body = append(body, tmp[:]...)
	binary.LittleEndian.PutUint64(tmp[:], uint64(r.TxnID))
	body = append(body, tmp[:]...)
	binary.LittleEndian.PutUint64(tmp[:], uint64(r.PrevLSN))
	body = append(body, tmp[:]...)
	body = append(body, r.RID[:]...)

	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(r.Before)))
	body = append(body, l[:]...)
	body = append(body, r.Before...)
	binary.LittleEndian.PutUint32(l[:], uint32(len(r.After)))
	body = append(body, l[:]...)
	body = append(body, r.After...)
	body = append(body, ckpt...)

	out := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(body)))
	copy(out[4:], body)
	return out
}

func unmarshal(buf []byte) (*Record, int, error) {
	if len(buf) < 4 {
		return nil, 0, fmt.Errorf("walog: truncated length prefix")
	}
	length := binary.LittleEndian.Uint32(buf[0:4])
	total := 4 + int(length)
	if len(buf) < total {
		return nil, 0, fmt.Errorf("walog: truncated record")
	}
	body := buf[4:total]
	if len(body) < 37 {
		return nil, 0, fmt.Errorf("walog: truncated record header")
	}
	r := &Record{
		Kind:    Kind(body[0]),
		LSN:     LSN(binary.LittleEndian.Uint64(body[1:9])),
		TxnID:   TxnID(binary.LittleEndian.Uint64(body[9:17])),
		PrevLSN: LSN(binary.LittleEndian.Uint64(body[17:25])),
	}
	copy(r.RID[:], body[25:33])
	off := 33
	beforeLen := int(binary.LittleEndian.Uint32(body[off : off+4]))
	off += 4
	if beforeLen > 0 {
		r.Before = append([]byte{}, body[off:off+beforeLen]...)
	}
	off += beforeLen
	afterLen := int(binary.LittleEndian.Uint32(body[off : off+4]))
	off += 4
	if afterLen > 0 {
		r.After = append([]byte{}, body[off:off+afterLen]...)
	}
	off += afterLen
	if off+4 <= len(body) {
		n := int(binary.LittleEndian.Uint32(body[off : off+4]))
		off += 4
		if n > 0 {
			ids := make([]TxnID, n)
			for i := 0; i < n; i++ {
				ids[i] = TxnID(binary.LittleEndian.Uint64(body[off+8*i:]))
			}
			r.Checkpoint = &CheckpointPayload{ActiveTxns: ids}
		}
	}
	return r, total, nil
}
