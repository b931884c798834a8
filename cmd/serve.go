package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentic-research/cominavi/internal/config"
	"github.com/agentic-research/cominavi/internal/httpapi"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Sync the catalog and serve it over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			addr := serveListen
			if addr == "" {
				addr = a.cfg.HTTPListen()
			}
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}

			o, err := a.start(ctx)
			if err != nil {
				_ = ln.Close()
				return err
			}
			defer func() { _ = o.Close() }()

			srv := &http.Server{
				Handler:           httpapi.New(o, a.log),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errc := make(chan error, 1)
			go func() { errc <- srv.Serve(ln) }()
			a.log.Info("http: serving", "addr", ln.Addr().String())

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "HTTP listen address (default from config, then "+config.DefaultListen+")")
	rootCmd.AddCommand(serveCmd)
}
