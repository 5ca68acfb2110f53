//go:build !windows

package daemon

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/untoldecay/ContextKeeper/internal/rpc"
)

// Info is a discovered daemon with a liveness probe result.
type Info struct {
	RegistryEntry
	Alive            bool    `json:"alive"`
	UptimeSeconds    float64 `json:"uptime_seconds,omitempty"`
	Watchers         int     `json:"watchers,omitempty"`
	LastActivityTime string  `json:"last_activity_time,omitempty"`
	Error            string  `json:"error,omitempty"`
}

// Discover lists registered daemons and probes each over its socket.
// A registered entry whose socket no longer answers is reported with
// Alive false rather than dropped; the process may be wedged and the
// operator should see it.
func Discover(reg *Registry) ([]Info, error) {
	entries, err := reg.List()
	if err != nil {
		return nil, err
	}

	infos := make([]Info, 0, len(entries))
	for _, entry := range entries {
		info := Info{RegistryEntry: entry}
		client := rpc.NewClient(entry.SocketPath)
		status, err := client.Status()
		if err != nil {
			info.Error = err.Error()
		} else {
			info.Alive = true
			info.UptimeSeconds = status.UptimeSeconds
			info.Watchers = status.Watchers
			info.LastActivityTime = status.LastActivityTime
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// processAlive reports whether a pid refers to a running process we can
// signal. Signal 0 performs the permission and existence checks without
// delivering anything.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(unix.Signal(0))
	return err == nil
}
