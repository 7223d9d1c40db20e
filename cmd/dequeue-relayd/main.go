// Command dequeue-relayd boots the reference relay server: a minimal,
// single-tenant collaborator implementing the push/pull/socket contract
// that internal/syncclient expects, for integration tests and local
// demos. It is not a production multi-tenant service.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/DequeueApp/dequeue-sync-core/internal/relay"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var listenAddr, dbPath, signingKeyHex, devSubject string

	cmd := &cobra.Command{
		Use:   "dequeue-relayd",
		Short: "Run the reference sync relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := resolveSigningKey(signingKeyHex)
			if err != nil {
				return err
			}

			srv, err := relay.NewServer(relay.Config{
				ListenAddr: listenAddr,
				DBPath:     dbPath,
				SigningKey: key,
			})
			if err != nil {
				return fmt.Errorf("create relay server: %w", err)
			}

			if err := srv.Start(); err != nil {
				return fmt.Errorf("start relay server: %w", err)
			}
			slog.Info("relay listening", "addr", listenAddr, "db", dbPath)

			token, err := relay.IssueToken(key, devSubject, "", 24*time.Hour)
			if err != nil {
				return fmt.Errorf("issue dev token: %w", err)
			}
			fmt.Printf("dev bearer token (24h): %s\n", token)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			slog.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen-addr", ":8080", "HTTP listen address")
	cmd.Flags().StringVar(&dbPath, "db", "dequeue-relay.db", "path to the relay's event store")
	cmd.Flags().StringVar(&signingKeyHex, "signing-key", "", "hex-encoded HMAC signing key (random if omitted)")
	cmd.Flags().StringVar(&devSubject, "dev-subject", "dev-user", "subject embedded in the dev token printed at startup")
	return cmd
}

func resolveSigningKey(hexKey string) ([]byte, error) {
	if hexKey != "" {
		key, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, fmt.Errorf("decode --signing-key: %w", err)
		}
		return key, nil
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return key, nil
}
