package config

import (
	"fmt"
	"os"

	"github.com/mitchellh/go-homedir"
)

// Template is a commented starting config with every key at its default.
const Template = `# profpipe host configuration

# listener: tcp | tcp4 | tcp6 | unix
network = "tcp"
address = "127.0.0.1:4242"

# hex dump every packet to stdout
echo_packets = false

# microseconds between counter samples requested from the device
capture_period_us = 10000

poll_timeout = "1s"
handshake_timeout = "5s"
# empty waits indefinitely
dispatch_timeout = ""

# semver range of accepted stream versions; empty accepts any
version_constraint = ""

# sqlite capture file; empty disables capture
capture_path = "~/.profpipe/capture.db"

# status endpoint (/health, /metrics, /sessions); empty disables it
status_addr = "127.0.0.1:9464"

quiet = false
`

// WriteTemplate writes Template to path unless a file exists there and
// overwrite is false.
func WriteTemplate(path string, overwrite bool) error {
	path, err := homedir.Expand(path)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(Template), 0o600)
}
