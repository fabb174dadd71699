package main

import (
	"fmt"
	"os"

	"github.com/eagraf/bookstore-ingress/internal/ingress/config"
	"github.com/eagraf/bookstore-ingress/internal/ingress/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const version = "v0.1.0"

var (
	configPath string
	v          = viper.New()
	log        = logging.NewLogger()
)

var rootCmd = &cobra.Command{
	Use:   "ingress",
	Short: "ingress - path based reverse proxy for the bookstore",
	Long: `ingress routes requests by path prefix to the bookstore API or the frontend,
adding permissive CORS headers to every response.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ingress proxy",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of ingress",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, rulesCmd, versionCmd)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "path to the config file (default ./ingress.yml or $HOME/.ingress/ingress.yml)")
	flags.String("listen", "", "address the proxy listens on")
	flags.String("metrics-listen", "", "address serving /metrics and /healthz")
	flags.String("log-level", "", "log level (trace, debug, info, warn, error)")

	for key, flag := range map[string]string{
		"listen_addr":  "listen",
		"metrics_addr": "metrics-listen",
		"log_level":    "log-level",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

func loadConfig() (*config.IngressConfig, error) {
	cfg, err := config.NewIngressConfig(v, configPath)
	if err != nil {
		return nil, err
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	log = logging.NewLoggerWithOptions(os.Stderr, cfg.LogFormat, level)
	if cfg.ConfigFile() != "" {
		log.Info().Msgf("Loaded config from %s", cfg.ConfigFile())
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("ingress exited with an error")
		os.Exit(1)
	}
}
