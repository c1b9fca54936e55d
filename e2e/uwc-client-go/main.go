package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ein-bandit/unity-webrtc-control/internal/client"
	"github.com/ein-bandit/unity-webrtc-control/internal/discovery"
	"github.com/ein-bandit/unity-webrtc-control/internal/signaling"
)

// Headless stand-in for a browser controller. It connects to a running
// broker, opens the data channel and sends numbered input messages, printing
// every signaling envelope and data-channel payload as one JSON line.
//
//	UWC_URL            signaling URL; empty browses mDNS for a broker
//	UWC_MDNS_INSTANCE  only accept this mDNS instance
//	UWC_ORIGIN         Origin header for the handshake
//	UWC_COUNT          number of messages to send (default 5)
//	UWC_INTERVAL_MS    delay between messages (default 200)
//	UWC_TIMEOUT_MS     connect timeout (default 15000)
func main() {
	count := envIntOrDefault("UWC_COUNT", 5)
	interval := time.Duration(envIntOrDefault("UWC_INTERVAL_MS", 200)) * time.Millisecond
	timeout := time.Duration(envIntOrDefault("UWC_TIMEOUT_MS", 15000)) * time.Millisecond

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	url := os.Getenv("UWC_URL")
	if url == "" {
		resolver, err := discovery.NewResolver(nil, timeout)
		if err != nil {
			fail("mdns: %v", err)
		}
		ep, err := resolver.Find(ctx, os.Getenv("UWC_MDNS_INSTANCE"))
		if err != nil {
			fail("mdns: %v", err)
		}
		url = ep.URL()
		emit("discovered", map[string]any{"instance": ep.Instance, "url": url})
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c, err := client.Dial(dialCtx, client.Config{
		URL:    url,
		Origin: os.Getenv("UWC_ORIGIN"),
		OnSignal: func(m signaling.Message) {
			emit("signal", map[string]any{"command": string(m.Command())})
		},
		Logger: logger,
	})
	if err != nil {
		fail("dial %s: %v", url, err)
	}
	defer c.Close()

	if err := c.WaitOpen(dialCtx); err != nil {
		fail("data channel: %v", err)
	}
	emit("open", map[string]any{"url": url})

	go func() {
		for payload := range c.Messages() {
			emit("message", map[string]any{"payload": payload})
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for seq := 0; seq < count; {
		select {
		case <-ctx.Done():
			return
		case <-c.Done():
			fail("connection closed: %v", c.Err())
		case <-ticker.C:
			if err := c.Send("input", map[string]any{"seq": seq}); err != nil {
				fail("send: %v", err)
			}
			seq++
		}
	}

	// Leave time for replies before hanging up.
	select {
	case <-ctx.Done():
	case <-c.Done():
	case <-time.After(interval * 2):
	}
	emit("done", map[string]any{"sent": count})
}

func emit(event string, fields map[string]any) {
	fields["event"] = event
	b, err := json.Marshal(fields)
	if err != nil {
		return
	}
	fmt.Println(string(b))
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func envIntOrDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return fallback
}
