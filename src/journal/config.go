package journal

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Path       string `envconfig:"TRADE_LOG_PATH" default:"trades.jsonl"`
	MaxRecords int    `envconfig:"TRADE_LOG_MAX_RECORDS" default:"5000"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
