// Package version exposes what gatekeeper was built from and which running
// instance is answering. Build fields are stamped with -ldflags "-X
// gatekeeper/internal/version.<Name>=..."; unstamped builds report "unknown".
package version

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
)

const unknown = "unknown"

var (
	Version   = unknown
	BuildDate = unknown // RFC 3339, UTC
	GitCommit = unknown
)

// Info is build metadata plus the identity of this process. It is reported
// by /health and attached to every log record.
type Info struct {
	Version    string `json:"version"`
	GitCommit  string `json:"git_commit"`
	BuildDate  string `json:"build_date"`
	InstanceID string `json:"instance_id"`
	Hostname   string `json:"hostname"`
}

var (
	once sync.Once
	info Info
)

// GetInfo is computed once per process, so InstanceID is stable for its
// lifetime.
func GetInfo() Info {
	once.Do(func() {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = unknown
		}
		info = Info{
			Version:    Version,
			GitCommit:  GitCommit,
			BuildDate:  BuildDate,
			InstanceID: uuid.NewString(),
			Hostname:   host,
		}
	})
	return info
}

func (i Info) String() string {
	return fmt.Sprintf("gatekeeper version %s (commit: %s, built: %s)", i.Version, i.GitCommit, i.BuildDate)
}

// ShortCommit is the first seven characters of GitCommit.
func (i Info) ShortCommit() string {
	if len(i.GitCommit) > 7 {
		return i.GitCommit[:7]
	}
	return i.GitCommit
}

// product is the name/version token used in Via and User-Agent. Unstamped
// builds identify as "dev" rather than leaking "unknown" to upstreams.
func (i Info) product() string {
	v := i.Version
	if v == "" || v == unknown {
		v = "dev"
	}
	return "gatekeeper/" + v
}

// Via is the token appended to the Via header of proxied traffic.
func (i Info) Via() string {
	return "1.1 " + i.product()
}

// UserAgent identifies gatekeeper's own outbound requests.
func (i Info) UserAgent() string {
	if c := i.ShortCommit(); c != "" && c != unknown {
		return i.product() + " (" + c + ")"
	}
	return i.product()
}
