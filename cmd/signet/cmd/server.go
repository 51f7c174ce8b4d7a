package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/signet/api"
	"github.com/jmcleod/signet/signer"
)

var (
	port                 int
	serverCAKey          string
	serverCACert         string
	serverPassphraseFile string
	serverValidityDays   int
	serialDB             string
	tlsCert              string
	tlsKey               string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the CSR signing service",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

		opts, err := signerOptions(serverPassphraseFile, serverValidityDays)
		if err != nil {
			return err
		}

		if serialDB != "" {
			src, err := signer.NewBoltSerialSourceFromFile(serialDB, nil)
			if err != nil {
				return fmt.Errorf("failed to open serial db: %w", err)
			}
			defer src.Close()
			opts = append(opts, signer.WithSerialSource(src))
		}

		apiOpts := []api.Option{
			api.WithLogger(logger),
			api.WithSignerOptions(opts...),
		}
		if serverCAKey != "" && serverCACert != "" {
			keyPEM, err := os.ReadFile(serverCAKey)
			if err != nil {
				return fmt.Errorf("reading CA key: %w", err)
			}
			certPEM, err := os.ReadFile(serverCACert)
			if err != nil {
				return fmt.Errorf("reading CA certificate: %w", err)
			}
			apiOpts = append(apiOpts, api.WithIssuer(keyPEM, certPEM))
		}

		a := api.New(apiOpts...)

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		r.Mount("/api/v1", a.Router())

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		useTLS := tlsCert != "" && tlsKey != ""
		if useTLS {
			cert, err := tls.LoadX509KeyPair(tlsCert, tlsKey)
			if err != nil {
				return fmt.Errorf("failed to load TLS key pair: %w", err)
			}
			server.TLSConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			var err error
			if useTLS {
				err = server.ListenAndServeTLS("", "")
			} else {
				err = server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		fmt.Printf("Starting signing service on port %d (tls: %v)...\n", port, useTLS)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			fmt.Printf("\nReceived %s, shutting down...\n", sig)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().IntVarP(&port, "port", "p", 8443, "Port to listen on")
	serverCmd.Flags().StringVar(&serverCAKey, "ca-key", "", "Path to the CA private key PEM file")
	serverCmd.Flags().StringVar(&serverCACert, "ca-cert", "", "Path to the CA certificate PEM file")
	serverCmd.Flags().StringVar(&serverPassphraseFile, "passphrase-file", "", "File holding the CA key passphrase")
	serverCmd.Flags().IntVar(&serverValidityDays, "validity-days", 0, "Certificate lifetime in days (default 365)")
	serverCmd.Flags().StringVar(&serialDB, "serial-db", "", "Path to a BBolt file for persistent monotonic serials")
	serverCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	serverCmd.Flags().StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
}
