package receivers

import (
	obscura "github.com/obscuranet/obscurawallet/pkg"
	"github.com/obscuranet/obscurawallet/pkg/conductor"
)

// Sets up standard receivers.
func SetUpReceivers(cond *conductor.Conductor, bus obscura.MessageBus, conf obscura.Config) {
	// Set up configured loggers
	SetupLoggers(cond, bus, conf)

	// Set up configured Callbacks
	SetupCallbacks(cond, bus, conf)
}
