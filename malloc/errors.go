package malloc

import (
	"errors"
	"fmt"

	"github.com/prataprc/golog"
)

// ErrOutOfMemory names the condition that makes Allocate return nil: no
// free block and no virgin memory left in the pool. api.Allocator's
// Allocate does not return an error, so this is not returned directly,
// but it gives log lines and callers something to compare against
// instead of a bare string.
var ErrOutOfMemory = errors.New("malloc: pool exhausted")

// fatalf logs a corruption finding through golog before panicking, so
// the finding is on record even if the process is killed before the
// panic unwinds far enough to print a stack trace.
func fatalf(format string, args ...interface{}) {
	log.Fatalf(format+"\n", args...)
	panic(fmt.Errorf(format, args...))
}
