package obscura

import (
	"github.com/jinzhu/configor"
)

type Config struct {
	Obscurawallet struct {
		// key for which Node struct to use
		Node string `default:"mainnet" required:"true"`
		// default tombstone offset for new proposals (blocks past the tip)
		TombstoneOffset int64 `default:"50"`
	}

	// info for connecting to an obscura ledger node
	Node map[string]struct {
		RPCHost string `default:"localhost"`
		RPCPort int    `default:"3223"`
		RPCUser string `default:"obscurawallet"`
		RPCPass string `default:"obscurawallet"`
		ZMQHost string `default:"localhost"`
		ZMQPort int    `default:"28332"`
	}

	Store struct {
		// sqlite file path, or a postgres:// connection URL
		DBFile string `default:"obscurawallet.db"`
	}

	WebAPI struct {
		AdminBind string `default:"localhost"`
		AdminPort string `default:"9090"`
	}

	// event loggers, keyed by name
	Loggers map[string]struct {
		Path  string
		Types []string
	}

	// HTTP webhook destinations for wallet events, keyed by name
	Callbacks map[string]CallbackConfig
}

type CallbackConfig struct {
	Path       string
	HMACSecret string
	Types      []string
}

func LoadConfig(confPath string) Config {
	c := Config{}
	configor.Load(&c, confPath)
	return c
}
