package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/getsentry/sentry-go"
	"github.com/mitchellh/go-homedir"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nodegeo/nodegeo/cache"
	"github.com/nodegeo/nodegeo/provider"
	"github.com/nodegeo/nodegeo/utils"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "nodegeo",
	Short: "nodegeo resolves proxy and VPN node addresses to a location",
}

var (
	reloadMu sync.Mutex
	reloads  []func(ctx context.Context)
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.Version = utils.Version
	rootCmd.SetVersionTemplate("{{.Version}}\n")

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/nodegeo.yml)")
	rootCmd.PersistentFlags().String("level", "info", "log level")
	rootCmd.PersistentFlags().String("log-format", "json", "log format: json or text")

	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("level"))
	viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))

	setDefaults()
}

// setDefaults registers every key the commands read so that environment
// variables are picked up for keys missing from the config file.
func setDefaults() {
	// local database
	viper.SetDefault("local.paths", []string{
		"./GeoLite2-City.mmdb",
		"./data/GeoLite2-City.mmdb",
		"~/GeoLite2-City.mmdb",
		"/usr/share/GeoIP/GeoLite2-City.mmdb",
		"/var/lib/GeoIP/GeoLite2-City.mmdb",
	})
	viper.SetDefault("local.locale", "zh-CN")

	// cache
	viper.SetDefault("cache.ttl", cache.DefaultTTL)
	viper.SetDefault("cache.size", cache.DefaultSize)

	// online fallback
	viper.SetDefault("online.enabled", true)
	viper.SetDefault("online.cooldown", "500ms")
	viper.SetDefault("online.timeout", "8s")
	viper.SetDefault("online.attempts", 3)
	viper.SetDefault("online.backoff", "2s")
	viper.SetDefault("online.rate", "1s")
	viper.SetDefault("online.burst", 5)
	for _, name := range provider.APIKeyNames {
		viper.SetDefault("online.keys."+name, "")
	}

	// database download
	viper.SetDefault("providers.maxmind.account_id", "")
	viper.SetDefault("providers.maxmind.license_key", "")
	viper.SetDefault("providers.maxmind.edition", "GeoLite2-City")
	viper.SetDefault("providers.maxmind.url", "")
	viper.SetDefault("providers.maxmind.path", "")

	viper.SetDefault("sentry.dsn", "")
}

// onReload registers fn to run after the config file changes.
func onReload(fn func(ctx context.Context)) {
	reloadMu.Lock()
	defer reloadMu.Unlock()

	reloads = append(reloads, fn)
}

func runReloads(ctx context.Context) {
	reloadMu.Lock()
	defer reloadMu.Unlock()

	for _, fn := range reloads {
		fn(ctx)
	}
}

func configureLogging(_ context.Context) {
	level, err := zerolog.ParseLevel(viper.GetString("log.level"))
	if err != nil {
		fmt.Println("invalid log level")
		os.Exit(1)
	}

	if viper.GetString("log.format") == "text" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	zerolog.SetGlobalLevel(level)
	if level == zerolog.TraceLevel {
		log.Logger = log.With().Caller().Logger()
	}

	log.Logger.Level(level)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// configureEnv maps every key to NODEGEO_<KEY>, dots and dashes becoming
// underscores.
func configureEnv() {
	replacer := strings.NewReplacer("-", "_", ".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.SetEnvPrefix("NODEGEO")
	viper.AutomaticEnv()
}

func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := homedir.Dir()
		if err != nil {
			fmt.Printf("home directory not found %s\n", err.Error())
			os.Exit(1)
		}

		viper.AddConfigPath(".")
		viper.AddConfigPath(home)
		viper.AddConfigPath("/app")
		viper.SetConfigName("nodegeo")
	}

	configureEnv()

	configRead := false
	if err := viper.ReadInConfig(); err == nil {
		configRead = true
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	ctx := context.Background()
	configureLogging(ctx)

	// sentry.dsn in the config file or NODEGEO_SENTRY_DSN
	if dsn := viper.GetString("sentry.dsn"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: dsn, Release: utils.Version}); err != nil {
			log.Warn().Err(err).Msg("failed to initialize Sentry")
		} else {
			log.Info().Msg("Sentry error tracking enabled")
		}
	}

	if !configRead {
		return
	}

	viper.OnConfigChange(func(e fsnotify.Event) {
		ctx := context.Background()
		log.Info().Str("file", e.Name).Str("op", e.Op.String()).Msg("reloading config")
		configureLogging(ctx)
		runReloads(ctx)
	})
	viper.WatchConfig()
}
