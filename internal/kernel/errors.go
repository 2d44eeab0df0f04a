package kernel

import "errors"

// The kernel surfaces one flat error taxonomy regardless of which storage
// layer raised the underlying condition; callers use errors.Is against
// these sentinels rather than reaching into internal/storage packages.
var (
	ErrTableNotFound  = errors.New("kernel: table not found")
	ErrTableExists    = errors.New("kernel: table already exists")
	ErrIndexNotFound  = errors.New("kernel: index not found")
	ErrIndexExists    = errors.New("kernel: index already exists")
	ErrRecordNotFound = errors.New("kernel: record not found")
	ErrKeyNotFound    = errors.New("kernel: key not found")
	ErrDuplicateKey   = errors.New("kernel: duplicate key")
	ErrLockTimeout    = errors.New("kernel: lock wait timed out")
	ErrLockOrder      = errors.New("kernel: lock requested outside the growing phase")
	ErrTxnNotActive   = errors.New("kernel: transaction is not active")
)
