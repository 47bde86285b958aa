package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

var (
	DatabaseType       string
	DatabasePath       string
	PostgresHost       string
	PostgresPort       string
	PostgresUser       string
	PostgresPassword   string
	PostgresDB         string
	GatewayURL         string
	DiscordToken       string
	DiscordChannelID   string
	OverlayBaseURL     string
	OverlayParams      string
	DataDir            string
	HealthFlushSeconds int
	UIListenAddr       string
)

const defaultOverlayParams = "showLikes=1&showChats=1&showGifts=1&showFollows=1&showJoins=1&bgColor=rgb(24,23,28)&fontColor=rgb(227,229,235)&fontSize=1.3em"

func Load() {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found, using environment variables")
	}

	DataDir = os.Getenv("DATA_DIR")
	if DataDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			base = "."
		}
		DataDir = filepath.Join(base, "TikTokLiveWatcher")
	}

	DatabaseType = os.Getenv("DATABASE_TYPE")
	if DatabaseType == "" {
		DatabaseType = "sqlite"
	}
	DatabasePath = os.Getenv("DATABASE_PATH")
	if DatabasePath == "" {
		DatabasePath = filepath.Join(DataDir, "livewatcher.db")
	}

	PostgresHost = os.Getenv("POSTGRES_HOST")
	PostgresPort = os.Getenv("POSTGRES_PORT")
	PostgresUser = os.Getenv("POSTGRES_USER")
	PostgresPassword = os.Getenv("POSTGRES_PASSWORD")
	PostgresDB = os.Getenv("POSTGRES_DB")

	GatewayURL = os.Getenv("GATEWAY_URL")
	if GatewayURL == "" {
		GatewayURL = "wss://tiktok-chat-reader.zerody.one/socket.io/?EIO=4&transport=websocket"
	}

	DiscordToken = os.Getenv("DISCORD_TOKEN")
	DiscordChannelID = os.Getenv("DISCORD_CHANNEL_ID")

	OverlayBaseURL = os.Getenv("OVERLAY_BASE_URL")
	if OverlayBaseURL == "" {
		OverlayBaseURL = "https://tiktok-chat-reader.zerody.one/obs.html"
	}
	OverlayParams = os.Getenv("OVERLAY_PARAMS")
	if OverlayParams == "" {
		OverlayParams = defaultOverlayParams
	}

	HealthFlushSeconds = getEnvInt("HEALTH_FLUSH_SECONDS", 30)

	UIListenAddr = os.Getenv("UI_LISTEN_ADDR")
	if UIListenAddr == "" {
		UIListenAddr = "127.0.0.1:8490"
	}
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Invalid value for %s: %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func GetDatabaseConnectionString() string {
	if DatabaseType == "postgres" {
		return "host=" + PostgresHost + " port=" + PostgresPort + " user=" + PostgresUser +
			" password=" + PostgresPassword + " dbname=" + PostgresDB + " sslmode=disable"
	}
	return DatabasePath
}
