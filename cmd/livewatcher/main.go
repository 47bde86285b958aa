package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kkstefanov/tiktok-live-watcher/api"
	"github.com/kkstefanov/tiktok-live-watcher/internal/config"
	"github.com/kkstefanov/tiktok-live-watcher/internal/database"
	"github.com/kkstefanov/tiktok-live-watcher/internal/health"
	"github.com/kkstefanov/tiktok-live-watcher/internal/notify"
	"github.com/kkstefanov/tiktok-live-watcher/internal/settings"
	"github.com/kkstefanov/tiktok-live-watcher/internal/ui"
	"github.com/kkstefanov/tiktok-live-watcher/internal/watcher"
)

const version = "v0.3.1"

const clearCacheOnStartFlag = "--clear-cache-on-start"

func main() {
	config.Load()

	// When relaunched with the cache-clear flag, purge cache dirs before
	// anything opens files under them.
	if hasArg(clearCacheOnStartFlag) {
		clearCacheDirs()
	}

	log.Printf("TikTok Live Watcher starting, version: %s", version)

	err := database.Init(config.DatabaseType, config.GetDatabaseConnectionString())
	if err != nil {
		log.Fatalf("Error initializing database: %v", err)
	}
	defer database.Close()

	repo := database.NewRepository()
	svc := settings.NewService(repo)

	aggregator := health.NewAggregator(repo, "tiktok_gateway")
	aggregator.Start(time.Duration(config.HealthFlushSeconds) * time.Second)

	statusChannel := api.NewClient("status", config.GatewayURL, api.Options{
		ReconnectDelay:    1500 * time.Millisecond,
		ReconnectDelayMax: 8 * time.Second,
	})
	trackingChannel := api.NewClient("tracking", config.GatewayURL, api.Options{
		ReconnectDelay:    2 * time.Second,
		ReconnectDelayMax: 12 * time.Second,
	})

	var notifier watcher.Notifier = notify.LogNotifier{}
	if config.DiscordToken != "" && config.DiscordChannelID != "" {
		discordNotifier, err := notify.NewDiscordNotifier(config.DiscordToken, config.DiscordChannelID)
		if err != nil {
			log.Printf("Discord notifier unavailable, falling back to log: %v", err)
		} else {
			defer discordNotifier.Close()
			notifier = discordNotifier
		}
	}

	broadcaster := ui.NewBroadcaster()
	core := watcher.New(repo, svc, statusChannel, trackingChannel, notifier, broadcaster, aggregator)

	// Connection errors are diagnostic, not fatal; keep them in history.
	statusChannel.OnError = core.HistoryConnectError("status_connect_error")
	trackingChannel.OnError = core.HistoryConnectError("join_tracker_connect_error")

	core.Start()

	server := ui.NewServer(core, broadcaster, svc)
	mux := http.NewServeMux()
	server.SetupRoutes(mux)
	go func() {
		log.Printf("Dashboard listening on %s", config.UIListenAddr)
		if err := http.ListenAndServe(config.UIListenAddr, mux); err != nil {
			log.Printf("Dashboard server stopped: %v", err)
		}
	}()

	// Wait for a SIGINT or SIGTERM signal
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)
	<-sc

	core.Stop()
	statusChannel.Close()
	trackingChannel.Close()
	aggregator.FlushToDB()
}

func hasArg(flag string) bool {
	for _, a := range os.Args[1:] {
		if a == flag {
			return true
		}
	}
	return false
}

func clearCacheDirs() {
	for _, dir := range []string{"cache", "media-cache", "temp"} {
		p := filepath.Join(config.DataDir, dir)
		if err := os.RemoveAll(p); err != nil {
			log.Printf("Error clearing cache dir %s: %v", p, err)
		}
	}
}
