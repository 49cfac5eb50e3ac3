package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	MexcBaseURL   string `envconfig:"MEXC_BASE_URL" default:"https://contract.mexc.com"`
	MexcWSURL     string `envconfig:"MEXC_WS_URL" default:"wss://contract.mexc.com/edge"`
	PhemexBaseURL string `envconfig:"PHEMEX_BASE_URL" default:"https://api.phemex.com"`
	PhemexWSURL   string `envconfig:"PHEMEX_WS_URL" default:"wss://ws.phemex.com"`
	KucoinBaseURL string `envconfig:"KUCOIN_BASE_URL" default:"https://api.kucoin.com"`
	HydraBaseURL  string `envconfig:"HYDRA_BASE_URL" default:"https://api.hydra.trade"`
	HydraWSURL    string `envconfig:"HYDRA_WS_URL" default:"wss://api.hydra.trade/ws"`

	HTTPTimeout   time.Duration `envconfig:"HTTP_TIMEOUT" default:"15s"`
	RESTRateLimit float64       `envconfig:"REST_RATE_LIMIT" default:"8"`
	RESTRateBurst int           `envconfig:"REST_RATE_BURST" default:"4"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
