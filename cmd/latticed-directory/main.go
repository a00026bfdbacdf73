// SPDX-License-Identifier: LGPL-3.0-or-later

// Command latticed-directory runs a directory service process:
// either the authoritative primary (signing_sk set) or a
// read-only mirror (mirror set), exposing the five v1_* directory RPC
// methods over HTTP, and optionally raw-TCP/lz4-TCP.
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
)

var configPath string
var dotenvPath string

var rootCmd = &cobra.Command{
	Use:   "latticed-directory",
	Short: "lattice federation directory node (primary or mirror)",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the daemon's YAML config file")
	rootCmd.Flags().StringVar(&dotenvPath, "dotenv", ".env", "optional .env file overlaying secrets onto the config")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "latticed-directory: %v\n", err)
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
	if err := cfg.ValidateDirectory(); err != nil {
		logger.ErrorMsg("config validation failed", logger.Error(err))
		os.Exit(1)
	}

	store, err := directory.OpenNodeStore(cfg.DbPath)
	if err != nil {
		logger.ErrorMsg("open node store failed", logger.Error(err))
		os.Exit(2)
	}
	defer store.Close()

	srv := rpc.NewServer(cfg.Listen, rpc.DefaultServerMaxConcurrency)

	if cfg.SigningSk != "" {
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
		primary, err := directory.NewPrimary(signingSecret, store, directory.DefaultPublishInterval)
		if err != nil {
			logger.ErrorMsg("start primary failed", logger.Error(err))
			os.Exit(2)
		}
		defer primary.Stop()
		publishCtx, cancelPublish := context.WithCancel(context.Background())
		defer cancelPublish()
		go primary.Run(publishCtx)
		directory.RegisterRPC(srv, primary, nil)
		logger.Info("directory running as primary", logger.String("listen", cfg.Listen))
	} else {
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
		remote, err := directory.NewRemotePrimary(cfg.Mirror)
		if err != nil {
			logger.ErrorMsg("dial mirror primary failed", logger.Error(err))
			os.Exit(2)
		}
		mirror := directory.NewMirror(remote, directoryPk, store, directory.DefaultMirrorPollInterval)
		directory.RegisterRPC(srv, nil, mirror)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go mirror.Run(ctx)
		logger.Info("directory running as mirror", logger.String("listen", cfg.Listen), logger.String("primary", cfg.Mirror))
	}

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
