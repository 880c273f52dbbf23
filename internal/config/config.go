// Package config loads the daemon's static configuration and named run
// profiles from YAML, using gopkg.in/yaml.v2 the way the teacher's own
// Starlark-script configuration loaded structured data from a file path.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/athrvk/vayu-sub005/internal/runprofile"
)

const (
	defaultListenPort = 9330
	listenPortEnvVar  = "VAYU_LISTEN_PORT"
	appName           = "vayu"
)

// Daemon is the daemon-wide configuration: transport defaults and a map of
// named run profiles loaded from the file. The control API does not look
// these names up: POST /runs always takes its profile from the request
// body.
type Daemon struct {
	ListenPort       int                           `yaml:"listen_port"`
	DefaultTimeout   time.Duration                 `yaml:"default_timeout"`
	DefaultUserAgent string                        `yaml:"default_user_agent"`
	NumWorkers       int                           `yaml:"num_workers"`
	Profiles         map[string]runprofile.Profile `yaml:"profiles"`
}

// Default returns the daemon configuration used when no config file is
// given: built-in defaults only.
func Default() Daemon {
	return Daemon{}.withDefaults()
}

// Load reads a YAML daemon config file from path and fills in defaults for
// anything left unset.
func Load(path string) (Daemon, error) {
	var d Daemon
	data, err := os.ReadFile(path)
	if err != nil {
		return Daemon{}, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Daemon{}, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return d.withDefaults(), nil
}

func (d Daemon) withDefaults() Daemon {
	if d.ListenPort == 0 {
		d.ListenPort = ResolveListenPort()
	}
	if d.DefaultTimeout == 0 {
		d.DefaultTimeout = 20 * time.Second
	}
	if d.DefaultUserAgent == "" {
		d.DefaultUserAgent = "vayu/0.1"
	}
	if d.Profiles == nil {
		d.Profiles = make(map[string]runprofile.Profile)
	}
	return d
}

// ResolveListenPort applies spec.md §6's "single environment variable
// overrides the listen port; absent, a well-known default is used" rule.
// The daemon's caller is responsible for the "pick a free port and record
// it in a discovery file" fallback when the resolved port is unavailable.
func ResolveListenPort() int {
	if v := os.Getenv(listenPortEnvVar); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil && port > 0 {
			return port
		}
	}
	return defaultListenPort
}

// AppName is the directory name used under the user config dir for the
// lock file and discovery file.
func AppName() string { return appName }
