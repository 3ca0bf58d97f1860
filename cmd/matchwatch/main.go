// Command matchwatch connects to a match server's stream and prints what it receives.
// It is a smoke check for deployments, not a game client.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Match-server/internal/identity"
	"github.com/park285/Cheese-Match-server/internal/obslog"
	"github.com/park285/Cheese-Match-server/internal/wsclient"
	"github.com/park285/Cheese-Match-server/pkg/matchdto"
)

func main() {
	_ = godotenv.Load()

	wsURL := os.Getenv("MATCHWATCH_WS_URL")
	who := os.Getenv("MATCHWATCH_IDENTITY")
	matchID := os.Getenv("MATCHWATCH_MATCH_ID")
	if wsURL == "" || who == "" {
		fmt.Fprintln(os.Stderr, "MATCHWATCH_WS_URL and MATCHWATCH_IDENTITY are required")
		os.Exit(2)
	}
	window := 30 * time.Second
	if v := os.Getenv("MATCHWATCH_DURATION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			fmt.Fprintf(os.Stderr, "MATCHWATCH_DURATION: invalid %q\n", v)
			os.Exit(2)
		}
		window = d
	}

	opts := obslog.DefaultOptions()
	opts.Format = "console"
	logger, err := obslog.Init(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	clientOpts := []wsclient.Option{wsclient.WithReconnect(3)}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		v, err := identity.NewJWTVerifier(secret)
		if err != nil {
			logger.Fatal("matchwatch_jwt", zap.Error(err))
		}
		token, err := v.Issue(who, window+time.Minute)
		if err != nil {
			logger.Fatal("matchwatch_token", zap.Error(err))
		}
		clientOpts = append(clientOpts, wsclient.WithToken(token))
	} else {
		header := os.Getenv("AUTH_HEADER")
		if header == "" {
			header = "X-User-Id"
		}
		clientOpts = append(clientOpts, wsclient.WithHeader(header, who))
	}

	c := wsclient.New(wsURL, clientOpts...)
	c.OnStateChange(func(s wsclient.State) {
		logger.Info("matchwatch_state", zap.String("state", string(s)))
	})
	c.OnEvent(func(ev *matchdto.Event) {
		b, _ := json.Marshal(ev)
		fmt.Println(string(b))
		if ev.Type == matchdto.EventError && ev.Error != nil {
			logger.Warn("matchwatch_rejected", zap.String("code", ev.Error.Code), zap.String("match_id", ev.MatchID))
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = c.Connect(cctx)
	cancel()
	if err != nil {
		logger.Error("matchwatch_connect_failed", zap.String("url", wsURL), zap.Error(err))
		os.Exit(1)
	}
	if id := strings.TrimSpace(matchID); id != "" {
		if err := c.Join(ctx, id); err != nil {
			logger.Error("matchwatch_join_failed", zap.String("match_id", id), zap.Error(err))
		}
	}

	select {
	case <-ctx.Done():
	case <-time.After(window):
	}
	_ = c.Close(context.Background())
}
