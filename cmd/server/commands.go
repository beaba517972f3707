package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/lease-billing/api"
	"github.com/warp/lease-billing/billing"
	"github.com/warp/lease-billing/factory"
	"github.com/warp/lease-billing/logger"
)

var serveMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the due-invoice sweep",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.WithComponent("server")
		ctx := cmd.Context()

		be, err := openStore(ctx, cfg, serveMigrate)
		if err != nil {
			return fmt.Errorf("failed to initialize store: %w", err)
		}
		defer be.close()

		pub, pubCloser := newPublisher(cfg)
		if pubCloser != nil {
			defer pubCloser.Close()
		}

		engine, err := newEngine(cfg, be.store, pub)
		if err != nil {
			return err
		}

		handler := api.NewHandler(engine)
		handler.Ping = be.ping
		router := api.NewRouter(handler)

		sweep := api.NewSweepScheduler(engine, handler.Metrics, logger.WithComponent("sweep"))
		sweep.CheckInterval = cfg.SweepInterval
		sweep.Start()
		defer sweep.Stop()

		server := &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Info().Int("port", cfg.HTTPPort).Str("store", cfg.StoreDriver).Msg("server starting")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
		}

		log.Info().Msg("shutting down server")
		sweep.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}

		log.Info().Msg("server stopped")
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the store schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		be, err := openStore(cmd.Context(), cfg, true)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		defer be.close()
		log := logger.WithComponent("migrate")
		log.Info().Str("store", cfg.StoreDriver).Msg("schema up to date")
		return nil
	},
}

var previewToday string

var previewCmd = &cobra.Command{
	Use:   "preview <contract.json|->",
	Short: "Print the invoice schedule a contract document would produce",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readInput(args[0], cmd.InOrStdin())
		if err != nil {
			return err
		}

		limits, err := cfg.Limits()
		if err != nil {
			return err
		}
		contract, err := factory.NewContractFactory(limits.DefaultDailyPenaltyRate).ParseContract(string(raw), time.Now())
		if err != nil {
			return err
		}

		today, err := previewDate(previewToday)
		if err != nil {
			return err
		}
		return writeSchedule(cmd.OutOrStdout(), billing.GenerateSchedule(contract, today), today)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", true, "apply pending Postgres migrations on start")
	previewCmd.Flags().StringVar(&previewToday, "today", "", "evaluate statuses and penalties as of this day (YYYY-MM-DD)")
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read contract: %w", err)
	}
	return raw, nil
}

func previewDate(s string) (billing.Date, error) {
	if s == "" {
		loc, err := cfg.Location()
		if err != nil {
			return billing.Date{}, err
		}
		return billing.SystemClock{Location: loc}.Today(), nil
	}
	return billing.ParseDate(s)
}

func writeSchedule(out io.Writer, invoices []billing.Invoice, today billing.Date) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INVOICE\tKIND\tPERIOD\tDUE\tPRINCIPAL\tSTATE\tPENALTY")
	for _, inv := range invoices {
		v := billing.ViewOf(inv, today)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			inv.Number, inv.Kind, inv.Period(), inv.DueDate, inv.Principal, v.Display, v.OutstandingPenalty)
	}
	return tw.Flush()
}
