package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	intrnl "roomchat/internal"
	"roomchat/internal/app"
)

var rootCmd = &cobra.Command{
	Use:          "roomchat",
	Short:        "Terminal client for room-based chat servers",
	SilenceUsage: true,
	RunE:         runClient,
}

var localCmd = &cobra.Command{
	Use:   "local",
	Short: "Run an in-memory lobby server and connect to it",
	RunE:  runLocal,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the client version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), intrnl.VersionString())
	},
}

var (
	flagServerURL      string
	flagUser           string
	flagIdentifyOnJoin bool
	flagDownloadDir    string
	flagDBPath         string
	flagMaxUpload      int64
	flagLogFile        string
	flagLogLevel       string
	flagLocalAddr      string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagServerURL, "server-url", envOrDefault("ROOMCHAT_SERVER", "ws://localhost:5000/ws"), "messaging server websocket URL")
	flags.StringVar(&flagUser, "user", envOrDefault("ROOMCHAT_USER", ""), "display name; skips the username prompt")
	flags.BoolVar(&flagIdentifyOnJoin, "identify-on-join", envBool("ROOMCHAT_IDENTIFY_ON_JOIN"), "repeat the display name in every join request")
	flags.StringVar(&flagDownloadDir, "download-dir", envOrDefault("ROOMCHAT_DOWNLOAD_DIR", ""), "where /save writes images")
	flags.StringVar(&flagDBPath, "db", envOrDefault("ROOMCHAT_DB_PATH", ""), "sqlite downloads ledger path (defaults to a per-user path)")
	flags.Int64Var(&flagMaxUpload, "max-upload", envInt64("ROOMCHAT_MAX_UPLOAD", app.DefaultMaxUpload), "largest file /image and /file will send, in bytes")
	flags.StringVar(&flagLogFile, "log-file", envOrDefault("ROOMCHAT_LOG_FILE", ""), "log file (defaults next to the database)")
	flags.StringVar(&flagLogLevel, "log-level", envOrDefault("ROOMCHAT_LOG_LEVEL", "info"), "debug, info, warn or error")

	localCmd.Flags().StringVar(&flagLocalAddr, "addr", envOrDefault("ROOMCHAT_LOCAL_ADDR", "127.0.0.1:0"), "listen address for the local server")

	rootCmd.AddCommand(localCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func clientConfig() app.ClientConfig {
	return app.ClientConfig{
		ServerURL:      flagServerURL,
		Username:       flagUser,
		IdentifyOnJoin: flagIdentifyOnJoin,
		DownloadDir:    flagDownloadDir,
		DBPath:         flagDBPath,
		MaxUpload:      flagMaxUpload,
		LogFile:        flagLogFile,
		LogLevel:       flagLogLevel,
	}
}

func runClient(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return ignoreCanceled(app.RunClient(ctx, clientConfig()))
}

func runLocal(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return ignoreCanceled(app.RunLocal(ctx, app.LocalConfig{Addr: flagLocalAddr, Client: clientConfig()}))
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envBool(key string) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && value
}

func envInt64(key string, fallback int64) int64 {
	if value, err := strconv.ParseInt(os.Getenv(key), 10, 64); err == nil {
		return value
	}
	return fallback
}
