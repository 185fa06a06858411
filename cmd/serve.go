package main

import (
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/merchant-metrics/internal/dashboard"
	"github.com/sells-group/merchant-metrics/internal/ingest"
	"github.com/sells-group/merchant-metrics/internal/insights"
	"github.com/sells-group/merchant-metrics/internal/metrics"
	"github.com/sells-group/merchant-metrics/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		engine := metrics.NewEngine(st.Pool(), st)
		srv := server.New(server.Options{
			Store:          st,
			Pool:           st.Pool(),
			Dashboard:      dashboard.NewService(st.Pool(), st),
			Engine:         engine,
			Importer:       ingest.NewImporter(st),
			Insights:       insights.NewGenerator(st.Pool(), st, engine),
			Telegram:       initTelegram(),
			UploadDir:      cfg.Upload.Dir,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		httpSrv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: srv.Router(),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			httpSrv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
