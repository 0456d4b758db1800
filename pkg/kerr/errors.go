// Package kerr defines the error kinds the Chilena core reports.
package kerr

// CoreError is a small enumerated error kind.
type CoreError int8

const (
	ErrNone CoreError = iota
	ErrNotMounted
	ErrNameTooLong
	ErrNoFreeInodes
	ErrNotFound
	ErrNotAFile
	ErrDeviceError
	ErrTimeout
	ErrSectorOutOfRange
	ErrInvalidExecutable
	ErrOutOfMemory
	ErrNoProcessSlot
	ErrInvalidTarget
	ErrHandleTableFull
)

var descriptions = map[CoreError]string{
	ErrNone:              "no error",
	ErrNotMounted:        "filesystem is not mounted",
	ErrNameTooLong:       "name exceeds 47 bytes",
	ErrNoFreeInodes:      "no free inodes remain",
	ErrNotFound:          "entry not found",
	ErrNotAFile:          "inode is not a file",
	ErrDeviceError:       "block device reported an error",
	ErrTimeout:           "block device operation timed out",
	ErrSectorOutOfRange:  "sector index is out of range",
	ErrInvalidExecutable: "executable image failed validation",
	ErrOutOfMemory:       "allocation failed",
	ErrNoProcessSlot:     "no free process slot",
	ErrInvalidTarget:     "target process is invalid or unresponsive",
	ErrHandleTableFull:   "process handle table is full",
}

func (e CoreError) Error() string {
	if s, ok := descriptions[e]; ok {
		return s
	}
	return "unknown core error"
}
