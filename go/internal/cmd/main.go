package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fieldgoal/pickem/go/clients/chatapi"
	"github.com/fieldgoal/pickem/go/internal/chat/engine"
	"github.com/fieldgoal/pickem/go/internal/chat/transport"
	"github.com/fieldgoal/pickem/go/internal/models"
)

// Terminal chat client for the pick'em league rooms. Connects, joins the
// configured rooms and sends stdin lines to the first one.
func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file loaded")
	}

	token := os.Getenv("CHAT_TOKEN")
	if token == "" {
		log.Fatal().Msg("CHAT_TOKEN environment variable is required")
	}

	configPath := getEnv("CHAT_CONFIG", "config.yaml")
	config, err := loadConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
	}

	engineConfig := engine.DefaultConfig()
	if config.Chat.InitialReconnectDelaySeconds > 0 {
		engineConfig.InitialReconnectDelay = time.Duration(config.Chat.InitialReconnectDelaySeconds) * time.Second
	}
	if config.Chat.MaxReconnectAttempts > 0 {
		engineConfig.MaxReconnectAttempts = config.Chat.MaxReconnectAttempts
	}

	dialer := transport.NewWebsocketDialer(transport.DefaultWebsocketConfig(config.Chat.WebsocketURL))
	api := chatapi.NewClient(config.Chat.APIBaseURL, token)
	eng := engine.New(engineConfig, dialer, api, token)

	eng.Events().OnMessage(func(message models.ChatMessage) {
		fmt.Printf("[%s] %s: %s\n", message.RoomID, message.UserID, message.Text)
	})
	eng.Events().OnPresence(func(change engine.PresenceChange) {
		status := "offline"
		if change.Entry.IsOnline {
			status = "online"
		}
		fmt.Printf("[%s] * %s is %s\n", change.RoomID, change.Entry.Name, status)
	})
	eng.Events().OnConnectionState(func(change engine.StateChange) {
		log.Info().Str("state", string(change.State)).Int("attempt", change.Attempt).Msg("connection state")
	})
	eng.Events().OnError(func(err error) {
		log.Warn().Err(err).Msg("engine error")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, roomID := range config.Chat.Rooms {
		eng.Join(ctx, roomID)
	}

	if err := eng.Connect(ctx); err != nil {
		log.Warn().Err(err).Msg("initial connect failed, retrying in background")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Info().Msg("shutting down")
		eng.Disconnect()
		cancel()
		os.Exit(0)
	}()

	if len(config.Chat.Rooms) == 0 {
		log.Warn().Msg("no rooms configured; only receiving connection events")
		select {}
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		handle := eng.Send(config.Chat.Rooms[0], text, "")
		log.Debug().Str("temp_id", handle.TempID).Str("status", string(handle.Status)).Msg("message submitted")
	}
}
