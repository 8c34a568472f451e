package app

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const DefaultMaxUpload int64 = 10 << 20

// ClientConfig defines the parameters the TUI client needs.
type ClientConfig struct {
	ServerURL      string
	Username       string
	IdentifyOnJoin bool
	DownloadDir    string
	DBPath         string
	MaxUpload      int64
	LogFile        string
	LogLevel       string
}

// LocalConfig runs the development lobby server next to a client.
type LocalConfig struct {
	Addr   string
	Client ClientConfig
}

// Validate fills defaults and normalises the endpoint.
func (cfg *ClientConfig) Validate() error {
	if strings.TrimSpace(cfg.ServerURL) == "" {
		return errors.New("server URL is required")
	}
	endpoint, err := NormalizeEndpoint(cfg.ServerURL)
	if err != nil {
		return err
	}
	cfg.ServerURL = endpoint
	cfg.applyDefaults()
	return nil
}

func (cfg *ClientConfig) applyDefaults() {
	if cfg.MaxUpload <= 0 {
		cfg.MaxUpload = DefaultMaxUpload
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = DefaultDownloadDir()
	}
	if cfg.DBPath == "" {
		cfg.DBPath = DefaultDBPath()
	}
	if cfg.LogFile == "" {
		cfg.LogFile = filepath.Join(filepath.Dir(cfg.DBPath), "roomchat.log")
	}
}

// NormalizeEndpoint accepts ws, wss, http and https URLs (or a bare host)
// and returns the websocket URL to dial. A missing path becomes /ws.
func NormalizeEndpoint(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse server URL: %w", err)
	}
	switch parsed.Scheme {
	case "ws", "wss":
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server URL scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("server URL %q has no host", raw)
	}
	if parsed.Path == "" || parsed.Path == "/" {
		parsed.Path = "/ws"
	}
	return parsed.String(), nil
}

// DefaultDBPath returns a per-user data path for the downloads ledger.
func DefaultDBPath() string {
	if env := os.Getenv("ROOMCHAT_DB_PATH"); env != "" {
		return env
	}
	if env := os.Getenv("ROOMCHAT_DATA_DIR"); env != "" {
		return filepath.Join(env, "roomchat.db")
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "roomchat", "roomchat.db")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "RoomChat", "roomchat.db")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "RoomChat", "roomchat.db")
		}
		return filepath.Join(home, ".local", "share", "roomchat", "roomchat.db")
	}
	return filepath.Join(".", ".roomchat", "roomchat.db")
}

// DefaultDownloadDir is where /save writes images.
func DefaultDownloadDir() string {
	if env := os.Getenv("ROOMCHAT_DOWNLOAD_DIR"); env != "" {
		return env
	}
	return filepath.Join(filepath.Dir(DefaultDBPath()), "downloads")
}
