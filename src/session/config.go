package session

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	AccountPollInterval time.Duration `envconfig:"ACCOUNT_POLL_INTERVAL" default:"5s"`
	TradePollInterval   time.Duration `envconfig:"TRADE_POLL_INTERVAL" default:"5s"`
	OrderPollInterval   time.Duration `envconfig:"ORDER_POLL_INTERVAL" default:"3s"`
	BackoffCeiling      time.Duration `envconfig:"BACKOFF_CEILING" default:"5m"`
	ReconnectDelay      time.Duration `envconfig:"RECONNECT_DELAY" default:"5s"`

	SocketReplyTimeout    time.Duration `envconfig:"SOCKET_REPLY_TIMEOUT" default:"750ms"`
	SocketFailureCooldown time.Duration `envconfig:"SOCKET_FAILURE_COOLDOWN" default:"5s"`
	AuthRefreshWindow     time.Duration `envconfig:"AUTH_REFRESH_WINDOW" default:"10s"`

	FreshnessMaxAge time.Duration `envconfig:"FRESHNESS_MAX_AGE" default:"1s"`
	FreshnessBudget time.Duration `envconfig:"FRESHNESS_BUDGET" default:"2500ms"`

	CommandTimeout time.Duration `envconfig:"COMMAND_TIMEOUT" default:"15s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
