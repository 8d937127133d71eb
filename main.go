package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/maren-dev/maren/src"
	"github.com/maren-dev/maren/src/gateway"
	"github.com/maren-dev/maren/src/ops"
	"github.com/maren-dev/maren/src/structs"
	"github.com/maren-dev/maren/src/utils"
)

var signals = []os.Signal{
	os.Interrupt,
	syscall.SIGINT,
	syscall.SIGTERM,
}

func main() {
	err := godotenv.Load()
	if err != nil {
		panic("failed to load config file")
	}
	logger := slog.New(src.NewHandler(os.Stdout, src.HandlerOpts{}))
	slog.SetDefault(logger)
	cfg := utils.LoadConfiguration()

	ctx, stop := signal.NotifyContext(context.Background(), signals...)
	defer stop()

	client := src.NewClient(cfg.BotToken, src.ClientOptions{
		Intents:    structs.IntentsDefault | structs.IntentMessageContent,
		ShardCount: cfg.ShardCount,
		Status:     structs.StatusOnline,
		Logger:     logger,
	})

	client.On(structs.EventNameMessageCreate, func(c *src.Client, g *gateway.Gateway, data json.RawMessage) error {
		var message struct {
			Content   string       `json:"content"`
			ChannelID string       `json:"channel_id"`
			Author    structs.User `json:"author"`
		}
		if err := json.Unmarshal(data, &message); err != nil {
			return err
		}
		logger.Info("message received",
			"author", message.Author.Username,
			"channel_id", message.ChannelID)
		return nil
	})

	go func() {
		for err := range client.Errors() {
			logger.Error("client error", "error", err)
		}
	}()

	if cfg.MetricsAddress != "" {
		go ops.NewServer(logger).StartServer(ctx, cfg.MetricsAddress)
	}

	if err := client.Start(ctx); err != nil {
		logger.Error("failed to start client", "error", err)
		stop()
		os.Exit(1)
	}
	<-ctx.Done()
	client.Close()
}
