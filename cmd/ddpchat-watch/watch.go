package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/ddpchat-sdk-go/ddpchat"
)

type watchOptions struct {
	configPath string
	url        string
	token      string
	rooms      []string
	httpAddr   string
	store      string
	storeName  string
	logFormat  string
	logLevel   string
	reconnect  bool
}

func watchCmd() *cobra.Command {
	var opts watchOptions

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Connect and follow rooms",
		Long: `Connect to the server, print the room directory and follow the rooms
given with --room. Config comes from --config, then DDPCHAT_* variables,
then flags.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "YAML config file")
	flags.StringVar(&opts.url, "url", "", "websocket URL (overrides config)")
	flags.StringVar(&opts.token, "token", "", "resume token (overrides config)")
	flags.StringSliceVarP(&opts.rooms, "room", "r", nil, "room id to open (repeatable)")
	flags.StringVar(&opts.httpAddr, "http-addr", "", "serve snapshot and metrics on this address")
	flags.StringVar(&opts.store, "store", "", "snapshot store: memory, sqlite:<path> or s3://<bucket>/<key>")
	flags.StringVar(&opts.storeName, "store-name", "default", "snapshot row name for sqlite stores")
	flags.StringVar(&opts.logFormat, "log-format", "text", "log format: text or json")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	flags.BoolVar(&opts.reconnect, "reconnect", true, "start a new session when the connection closes")

	return cmd
}

func newLogger(format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	handlerOpts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, handlerOpts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

func runWatch(ctx context.Context, opts watchOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger, err := newLogger(opts.logFormat, opts.logLevel)
	if err != nil {
		return err
	}

	cfg, err := ddpchat.ReadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.url != "" {
		cfg.URL = opts.url
	}
	if opts.token != "" {
		cfg.Token = opts.token
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	client := ddpchat.NewClient(cfg)
	client.SetLogger(ddpchat.NewSlogLogger(logger))
	client.SetMetrics(ddpchat.NewMetrics(ddpchat.WithRegistry(reg)))

	store, closeStore, err := openStore(ctx, opts.store, opts.storeName)
	if err != nil {
		return err
	}
	defer closeStore()
	if store != nil {
		client.SetSnapshotStore(store)
	}

	ready := make(chan struct{}, 1)
	client.OnStateChanged(func(ev ddpchat.StateEvent) {
		if ev.NewState == ddpchat.StateReady {
			select {
			case ready <- struct{}{}:
			default:
			}
		}
	})
	client.OnMessage(func(ev ddpchat.MessageEvent) {
		fmt.Printf("%s [%s] %s: %s\n",
			ev.Message.Timestamp.Local().Format("15:04:05"), ev.RoomID, ev.Message.AuthorName, ev.Message.Body)
	})
	client.OnRoomError(func(e ddpchat.RoomError) {
		logger.Warn("room failed", "room", e.RoomID, "op", e.Op.String(), "error", e.Err)
	})
	client.OnError(func(err error) {
		logger.Warn("session error", "error", err)
	})

	if opts.httpAddr != "" {
		srv := &http.Server{
			Addr:              opts.httpAddr,
			Handler:           newRouter(client, reg, logger),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("http listening", "addr", opts.httpAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	delay := time.Second
	const maxDelay = 30 * time.Second
	for {
		if err := client.Start(ctx); err != nil {
			logger.Error("start failed", "error", err)
		} else {
			started := time.Now()
			if !followRooms(ctx, client, ready, opts.rooms, logger) {
				return client.Close()
			}
			select {
			case <-client.Done():
				logger.Warn("connection closed")
			case <-ctx.Done():
				return client.Close()
			}
			if time.Since(started) > maxDelay {
				delay = time.Second
			}
		}
		if !opts.reconnect {
			return nil
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
		delay = min(delay*2, maxDelay)
	}
}

// followRooms waits for the directory, prints it and opens rooms. It
// returns false when ctx ended.
func followRooms(ctx context.Context, client *ddpchat.Client, ready <-chan struct{}, rooms []string, logger *slog.Logger) bool {
	select {
	case <-ready:
	case <-client.Done():
		return true
	case <-ctx.Done():
		return false
	}

	for _, r := range client.Rooms() {
		fmt.Printf("room %s  %s\n", r.ID, r.Name)
	}
	for _, id := range rooms {
		if err := client.OpenRoom(ctx, id); err != nil {
			logger.Warn("open room failed", "room", id, "error", err)
		}
	}
	return true
}
