package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ydmw74/sepa-xml-converter/internal/converter"
	"github.com/ydmw74/sepa-xml-converter/internal/metrics"
	"github.com/ydmw74/sepa-xml-converter/internal/server"
)

var serveAddr string

// serveCmd starts the HTTP API and blocks until SIGINT or SIGTERM.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP conversion API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig
		if serveAddr != "" {
			cfg.Server.Address = serveAddr
		}

		reg := metrics.NewRegistry()
		conv, err := converter.New(cfg, converter.WithLogger(appLog), converter.WithMetrics(reg))
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return server.New(conv, cfg.Server, reg, appLog).Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: server.address)")
}
