package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	logger "github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"tradeterm/src/connectors"
	"tradeterm/src/database"
	"tradeterm/src/events"
	"tradeterm/src/journal"
	"tradeterm/src/model"
	"tradeterm/src/position"
	"tradeterm/src/repository"
	"tradeterm/src/security"
	"tradeterm/src/server"
	"tradeterm/src/session"
)

func main() {
	_ = godotenv.Load()
	setupLogger()

	app := cli.NewApp()
	app.Name = "tradeterm"
	app.Usage = "multi-exchange trading terminal core"

	app.Commands = []cli.Command{
		terminalCMD,
		keysCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogger() {
	levelStr := strings.ToLower(os.Getenv("LOG_LEVEL"))

	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		level = logger.InfoLevel
	}

	logger.SetLevel(level)
	logger.SetFormatter(&logger.TextFormatter{
		FullTimestamp: true,
	})
}

var (
	terminalCMD = cli.Command{
		Name:        "terminal",
		Usage:       "run the terminal core and status server",
		Action:      terminalAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Connect the configured exchange profiles and serve status endpoints`,
	}
	keysCMD = cli.Command{
		Name:   "keys",
		Usage:  "credential encryption helpers",
		Action: keysAction,
		Flags: []cli.Flag{
			cli.BoolFlag{Name: "new", Usage: "generate a fresh master key"},
			cli.StringFlag{Name: "encrypt", Usage: "encrypt a credential with the configured master key"},
		},
		Description: `Generate the master key or encrypt exchange credentials for the environment`,
	}
)

// terminalConfig is the env-driven startup wiring: which profiles connect at
// boot, their credentials and the shared watch list.
type terminalConfig struct {
	Profiles string `envconfig:"PROFILES" default:""`
	Symbols  string `envconfig:"WATCH_SYMBOLS" default:""`

	CredentialsEncrypted bool `envconfig:"CREDENTIALS_ENCRYPTED" default:"false"`

	MexcAPIKey    string `envconfig:"MEXC_API_KEY" default:""`
	MexcAPISecret string `envconfig:"MEXC_API_SECRET" default:""`

	PhemexAPIKey    string `envconfig:"PHEMEX_API_KEY" default:""`
	PhemexAPISecret string `envconfig:"PHEMEX_API_SECRET" default:""`

	KucoinAPIKey     string `envconfig:"KUCOIN_API_KEY" default:""`
	KucoinAPISecret  string `envconfig:"KUCOIN_API_SECRET" default:""`
	KucoinPassphrase string `envconfig:"KUCOIN_PASSPHRASE" default:""`

	HydraPrivateKey string `envconfig:"HYDRA_PRIVATE_KEY" default:""`
	HydraAccountID  string `envconfig:"HYDRA_ACCOUNT_ID" default:""`

	ProxyScheme   string `envconfig:"PROXY_SCHEME" default:""`
	ProxyHost     string `envconfig:"PROXY_HOST" default:""`
	ProxyPort     int    `envconfig:"PROXY_PORT" default:"0"`
	ProxyUsername string `envconfig:"PROXY_USERNAME" default:""`
	ProxyPassword string `envconfig:"PROXY_PASSWORD" default:""`
}

func getTerminalConfig() terminalConfig {
	var config terminalConfig
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// multiSink fans every executed trade out to the journal and, when enabled,
// the database archive.
type multiSink []position.TradeSink

func (s multiSink) Append(trade model.ExecutedTrade) error {
	var errs []error
	for _, sink := range s {
		if err := sink.Append(trade); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func terminalAction(_ *cli.Context) error {
	logger.Info("Starting terminal CMD")

	cfg := getTerminalConfig()

	journalCfg := journal.GetConfig()
	tradeLog, err := journal.Open(journalCfg.Path, journalCfg.MaxRecords)
	if err != nil {
		logger.WithError(err).Error("Failed to open trade journal")
		return err
	}
	defer tradeLog.Close()

	sinks := multiSink{tradeLog}
	if database.GetConfig().EnableDB {
		if err := database.InitMainDB(); err != nil {
			logger.WithError(err).Error("Failed to connect to database")
			return err
		}
		sinks = append(sinks, repository.NewTradeRepository())
	}

	bus := events.NewBus()
	bus.Register(&events.LogListener{})

	meta := connectors.NewMetaCache()
	sessCfg := session.GetConfig()
	factory := session.NewDriverFactory(connectors.GetConfig(), sessCfg, meta)
	manager := session.NewManager(sessCfg, bus, factory, sinks)

	symbols := splitList(cfg.Symbols)
	proxy := model.ProxySpec{
		Scheme:   cfg.ProxyScheme,
		Host:     cfg.ProxyHost,
		Port:     cfg.ProxyPort,
		Username: cfg.ProxyUsername,
		Password: cfg.ProxyPassword,
	}

	for _, name := range splitList(cfg.Profiles) {
		profile := model.ExchangeProfile(name)
		sess := manager.Session(profile)
		if sess == nil {
			logger.WithField("profile", name).Error("Unknown profile in PROFILES, skipping")
			continue
		}
		creds, err := profileCredentials(cfg, profile)
		if err != nil {
			logger.WithError(err).WithField("profile", name).Error("Failed to load credentials, skipping")
			continue
		}
		sess.SetCredentials(creds)
		sess.SetProxy(proxy)
		sess.SetWatchedSymbols(symbols)
		sess.Connect()
	}

	server.StartServer(server.GetConfig().Port, manager)
	return nil
}

func profileCredentials(cfg terminalConfig, profile model.ExchangeProfile) (model.Credentials, error) {
	var creds model.Credentials
	switch profile {
	case model.ProfileMexcFutures:
		creds = model.Credentials{APIKey: cfg.MexcAPIKey, APISecret: cfg.MexcAPISecret}
	case model.ProfilePhemexFutures:
		creds = model.Credentials{APIKey: cfg.PhemexAPIKey, APISecret: cfg.PhemexAPISecret}
	case model.ProfileKucoinSpot:
		creds = model.Credentials{
			APIKey:     cfg.KucoinAPIKey,
			APISecret:  cfg.KucoinAPISecret,
			Passphrase: cfg.KucoinPassphrase,
		}
	case model.ProfileHydraPerp:
		creds = model.Credentials{PrivateKey: cfg.HydraPrivateKey, AccountID: cfg.HydraAccountID}
	}

	if !cfg.CredentialsEncrypted {
		return creds, nil
	}
	for _, field := range []*string{&creds.APIKey, &creds.APISecret, &creds.Passphrase, &creds.PrivateKey} {
		if *field == "" {
			continue
		}
		plain, err := security.DecryptString(*field)
		if err != nil {
			return model.Credentials{}, fmt.Errorf("decrypt credential: %w", err)
		}
		*field = plain
	}
	return creds, nil
}

func keysAction(c *cli.Context) error {
	if c.Bool("new") {
		key, err := security.NewKey()
		if err != nil {
			return err
		}
		fmt.Println(key)
		return nil
	}

	if plain := c.String("encrypt"); plain != "" {
		sealed, err := security.EncryptString(plain)
		if err != nil {
			return err
		}
		fmt.Println(sealed)
		return nil
	}

	return cli.ShowCommandHelp(c, "keys")
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
