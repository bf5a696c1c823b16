package graphios

import (
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// DefaultBackends is the list of default backends' names.
var DefaultBackends = []string{"carbon"}

const (
	// DefaultSendTimeout is the default upper bound for a single dispatch to one backend.
	DefaultSendTimeout = 30 * time.Second
)

const (
	// ParamBackends is the name of parameter with backends.
	ParamBackends = "backends"
	// ParamParallel is the name of parameter enabling concurrent dispatch to all backends.
	ParamParallel = "parallel"
	// ParamSendTimeout is the name of parameter with the per backend dispatch timeout.
	ParamSendTimeout = "send-timeout"
)

// AddFlags adds flags to the specified FlagSet.
func AddFlags(fs *pflag.FlagSet) {
	fs.String(ParamBackends, strings.Join(DefaultBackends, ","), "Comma-separated list of backends")
	fs.Bool(ParamParallel, false, "Send to all backends concurrently")
	fs.Duration(ParamSendTimeout, DefaultSendTimeout, "Maximum time to spend sending to a single backend (0 to disable)")
}
