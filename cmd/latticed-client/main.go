// SPDX-License-Identifier: LGPL-3.0-or-later

// Command latticed-client runs the end-user client core as
// a daemon: a local JSON-RPC surface for UI/CLI front-ends, plus the
// worker loops (send queue, DM/group receive, group rekey, medium-key
// rotation) against a local SQLite store.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lattice-chat/lattice/client"
	clientstore "github.com/lattice-chat/lattice/client/store"
	"github.com/lattice-chat/lattice/config"
	"github.com/lattice-chat/lattice/crypto"
	"github.com/lattice-chat/lattice/crypto/keys"
	"github.com/lattice-chat/lattice/directory"
	"github.com/lattice-chat/lattice/internal/logger"
)

var configPath string
var dotenvPath string

var rootCmd = &cobra.Command{
	Use:   "latticed-client",
	Short: "lattice end-user client daemon (local RPC + worker loops)",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the daemon's YAML config file")
	rootCmd.Flags().StringVar(&dotenvPath, "dotenv", ".env", "optional .env file overlaying secrets onto the config")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "latticed-client: %v\n", err)
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
	if err := cfg.ValidateClient(); err != nil {
		logger.ErrorMsg("config validation failed", logger.Error(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := clientstore.Open(ctx, cfg.DbPath)
	if err != nil {
		logger.ErrorMsg("open store failed", logger.Error(err))
		os.Exit(2)
	}
	defer st.Close()

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
	dirClient, err := client.NewDirectoryClient(cfg.DirectoryUrl, directoryPk, directory.DefaultCacheTTL)
	if err != nil {
		logger.ErrorMsg("directory client failed", logger.Error(err))
		os.Exit(2)
	}

	servers := client.NewServerPool(client.DefaultServerClientIdleTTL)
	defer servers.Close()

	c := client.New(client.Deps{
		Store:     st,
		Directory: dirClient,
		Servers:   servers,
		Events:    client.NewEvents(0),
	})

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		logger.ErrorMsg("listen failed", logger.Error(err))
		os.Exit(2)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx, ln) }()

	logger.Info("client daemon listening", logger.String("listen", cfg.Listen))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		logger.Info("shutting down")
		cancel()
		<-errCh
		return nil
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			logger.ErrorMsg("client exited", logger.Error(err))
			return err
		}
		return nil
	}
}
