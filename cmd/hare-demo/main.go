package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/archSeer/hare"
	"github.com/archSeer/hare/rpc"
	"github.com/archSeer/hare/topology"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "hare-demo",
		Short: "Exercise the hare RPC actors against a live broker",
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "hare.toml", "path to TOML config")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an echo server on the configured request queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runServer(url, cfg)
		},
	}

	requestCmd := &cobra.Command{
		Use:   "request <payload>",
		Short: "Send one request and print the response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url, cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runRequest(url, cfg, args[0])
		},
	}

	rootCmd.AddCommand(serveCmd, requestCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// echoBehavior replies to every request with its own payload.
type echoBehavior struct {
	rpc.NopBehavior
	logger *slog.Logger
}

func (b *echoBehavior) HandleRequest(ctx context.Context, payload []byte, meta rpc.Meta, state any) (rpc.ServerDecision, any) {
	b.logger.Info("request received",
		"correlationId", meta.CorrelationID,
		"replyTo", meta.ReplyTo,
		"bytes", len(payload),
	)
	return rpc.Reply(payload), state
}

func runServer(url string, cfg topology.Config) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	server, err := hare.NewServer(url, cfg, &echoBehavior{logger: logger}, rpc.WithLogger(logger))
	if err != nil {
		return err
	}
	defer server.Close()

	logger.Info("echo server running", "status", server.Status())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		return nil
	case <-server.Done():
		return server.Err()
	}
}

func runRequest(url string, cfg topology.Config, payload string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	routingKey := ""
	if cfg.Bind != nil {
		routingKey = cfg.Bind.RoutingKey
	}
	// The client declares its own private reply queue; the server side owns
	// the request queue and binding.
	clientCfg := topology.Config{Exchange: cfg.Exchange}

	client, err := hare.NewClient(url, clientCfg, nil, rpc.WithLogger(logger))
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := client.Request(ctx, []byte(payload), rpc.WithRoutingKey(routingKey))
	if err != nil {
		return err
	}
	fmt.Println(string(resp))
	return nil
}
