// Package protocol implements the wire codec: fixed-layout request and
// reply headers followed by variable-length payloads, encoded with
// host-native fixed-width integers. The server and its clients are assumed
// co-located on the same host (a local stream socket); portability across
// hosts is not a goal, so there is no network byte order conversion here.
package protocol

// Op is a single-byte request type.
type Op byte

const (
	OpCloseConn Op = '!' // CLOSE_CONN
	OpOpenFile  Op = 'O' // OPEN_FILE
	OpCloseFile Op = 'Q' // CLOSE_FILE
	OpReadFile  Op = 'R' // READ_FILE
	OpReadN     Op = 'N' // READ_N
	OpAppend    Op = 'A' // APPEND
	OpWrite     Op = 'W' // WRITE
	OpLock      Op = 'L' // LOCK
	OpUnlock    Op = 'U' // UNLOCK
	OpRemove    Op = 'X' // REMOVE
)

func (o Op) String() string {
	switch o {
	case OpCloseConn:
		return "CLOSE_CONN"
	case OpOpenFile:
		return "OPEN_FILE"
	case OpCloseFile:
		return "CLOSE_FILE"
	case OpReadFile:
		return "READ_FILE"
	case OpReadN:
		return "READ_N"
	case OpAppend:
		return "APPEND"
	case OpWrite:
		return "WRITE"
	case OpLock:
		return "LOCK"
	case OpUnlock:
		return "UNLOCK"
	case OpRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// Flags is a bitset carried on OPEN_FILE requests.
type Flags uint8

const (
	FlagCreate Flags = 0x1
	FlagLock   Flags = 0x2
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// ErrCode is the errcode carried on a reply when Status == StatusFail.
type ErrCode uint8

const (
	ErrNone           ErrCode = 0x0
	ErrNoSuchFile     ErrCode = 0x1
	ErrAlreadyCreated ErrCode = 0x2
	ErrAlreadyOpen    ErrCode = 0x4
	ErrNotOpened      ErrCode = 0x8
	ErrTooManyFiles   ErrCode = 0x10
	ErrLocked         ErrCode = 0x20
	ErrTooBig         ErrCode = 0x40
)

func (e ErrCode) String() string {
	switch e {
	case ErrNone:
		return "none"
	case ErrNoSuchFile:
		return "no such file"
	case ErrAlreadyCreated:
		return "already created"
	case ErrAlreadyOpen:
		return "already open"
	case ErrNotOpened:
		return "not opened"
	case ErrTooManyFiles:
		return "too many files"
	case ErrLocked:
		return "locked"
	case ErrTooBig:
		return "too big"
	default:
		return "unknown error"
	}
}

// Status is the single status byte on a reply header.
type Status byte

const (
	StatusOK   Status = 'Y'
	StatusFail Status = 'N'
)

// RequestHeader is the fixed-layout header preceding the pathname and,
// optionally, a payload buffer.
type RequestHeader struct {
	Type     Op
	ClientID uint32
	Flags    Flags
	PathLen  uint32 // bytes of pathname that follow, including terminator
	BufLen   uint32 // bytes of payload that follow the pathname, 0 if absent
}

// ReplyHeader is the fixed-layout header preceding an optional multi-file
// payload block (see WriteMultiReply).
type ReplyHeader struct {
	Status        Status
	ErrCode       ErrCode
	NBuffers      uint32
	PathsTotalLen uint32
}
