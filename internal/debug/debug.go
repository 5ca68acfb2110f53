// Package debug provides opt-in diagnostic logging. Output goes to stderr
// so the stdio protocol stream stays clean; the daemon redirects it into
// its rotating log file.
package debug

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

var (
	mu  sync.Mutex
	out io.Writer = os.Stderr
)

// Enabled reports whether CK_DEBUG diagnostics are on.
func Enabled() bool {
	v := os.Getenv("CK_DEBUG")
	return v != "" && v != "0" && v != "false"
}

// SetOutput redirects diagnostic output.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

// Logf writes one timestamped diagnostic line when CK_DEBUG is set.
func Logf(format string, args ...interface{}) {
	if !Enabled() {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(out, "[ck %s] %s\n", time.Now().Format("15:04:05.000"), fmt.Sprintf(format, args...))
}
