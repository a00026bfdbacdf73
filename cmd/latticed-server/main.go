// SPDX-License-Identifier: LGPL-3.0-or-later

// Command latticed-server runs a home-server process:
// device auth, mailbox send/multirecv, ACL edits, medium-pk lifecycle
// and profile lookup, over JSON-RPC (HTTP, raw TCP, and lz4-TCP).
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lattice-chat/lattice/config"
	"github.com/lattice-chat/lattice/crypto"
	"github.com/lattice-chat/lattice/crypto/keys"
	"github.com/lattice-chat/lattice/directory"
	"github.com/lattice-chat/lattice/internal/logger"
	"github.com/lattice-chat/lattice/rpc"
	"github.com/lattice-chat/lattice/server"
	"github.com/lattice-chat/lattice/wire"
)

var configPath string
var dotenvPath string

var rootCmd = &cobra.Command{
	Use:   "latticed-server",
	Short: "lattice federation home-server (mailbox message plane)",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the daemon's YAML config file")
	rootCmd.Flags().StringVar(&dotenvPath, "dotenv", ".env", "optional .env file overlaying secrets onto the config")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "latticed-server: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if err := config.LoadDotenv(dotenvPath); err != nil {
		os.Exit(2)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.ErrorMsg("config load failed", logger.Error(err))
		os.Exit(1)
	}
	config.ApplyEnvOverrides(cfg)
	if err := cfg.ValidateServer(); err != nil {
		logger.ErrorMsg("config validation failed", logger.Error(err))
		os.Exit(1)
	}

	ctx := context.Background()

	store, err := server.Open(ctx, server.Config{
		Host:     cfg.PgHost,
		Port:     cfg.PgPort,
		User:     cfg.PgUser,
		Password: cfg.PgPassword,
		Database: cfg.PgDatabase,
		SSLMode:  cfg.PgSSLMode,
	})
	if err != nil {
		logger.ErrorMsg("open store failed", logger.Error(err))
		os.Exit(2)
	}
	defer store.Close()

	seed, err := crypto.DecodeHex(cfg.SigningSk)
	if err != nil {
		logger.ErrorMsg("invalid signing_sk", logger.Error(err))
		os.Exit(1)
	}
	signingSecret, err := keys.SigningSecretFromSeed(seed)
	if err != nil {
		logger.ErrorMsg("invalid signing_sk", logger.Error(err))
		os.Exit(1)
	}

	directoryPkBytes, err := crypto.DecodeHex(cfg.DirectoryPk)
	if err != nil {
		logger.ErrorMsg("invalid directory_pk", logger.Error(err))
		os.Exit(1)
	}
	directoryPk, err := keys.SigningPublicFromBytes(directoryPkBytes)
	if err != nil {
		logger.ErrorMsg("invalid directory_pk", logger.Error(err))
		os.Exit(1)
	}
	dirClient, err := directory.NewClient(cfg.DirectoryUrl, directoryPk)
	if err != nil {
		logger.ErrorMsg("directory client failed", logger.Error(err))
		os.Exit(2)
	}

	serverName, err := wire.ParseServerName(cfg.ServerName)
	if err != nil {
		logger.ErrorMsg("invalid server_name", logger.Error(err))
		os.Exit(1)
	}

	deps := &server.Deps{
		Store:      store,
		PubSub:     server.NewPubSub(server.DefaultIdleTTL),
		Auth:       server.NewAuthIssuer(signingSecret),
		Directory:  directory.NewCache(dirClient, directory.DefaultCacheTTL),
		ServerName: serverName,
	}

	srv := rpc.NewServer(cfg.Listen, rpc.DefaultServerMaxConcurrency)
	server.RegisterRPC(srv, deps)

	httpServer := &http.Server{Addr: cfg.Listen, Handler: rpc.ServeHTTP(srv)}
	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()

	if cfg.TcpListen != "" {
		ln, err := net.Listen("tcp", cfg.TcpListen)
		if err != nil {
			logger.ErrorMsg("tcp listen failed", logger.Error(err))
			os.Exit(2)
		}
		go func() { errCh <- rpc.ServeTCP(context.Background(), ln, srv, false) }()
	}
	if cfg.Lz4tcpListen != "" {
		ln, err := net.Listen("tcp", cfg.Lz4tcpListen)
		if err != nil {
			logger.ErrorMsg("lz4tcp listen failed", logger.Error(err))
			os.Exit(2)
		}
		go func() { errCh <- rpc.ServeTCP(context.Background(), ln, srv, true) }()
	}

	logger.Info("home server listening", logger.String("listen", cfg.Listen), logger.String("server_name", cfg.ServerName))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), rpc.DefaultTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.ErrorMsg("listener exited", logger.Error(err))
			return err
		}
		return nil
	}
}
