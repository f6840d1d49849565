// Command clanwatch is the clan bot. It:
//   - Loads configuration (.env, environment, optional roster YAML) and initializes structured logging.
//   - Acquires a Twitch app access token and keeps it refreshed in the background.
//   - Every cycle, tweets a go-live announcement for each live clan channel, then
//     retweets each member's latest tweet once if it is less than an hour old.
//   - Optionally exposes /, /status, /healthz and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Version and Commit are set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

var runFlags struct {
	statusServer bool
	port         int
	envFile      string
}

var rootCmd = &cobra.Command{
	Use:           "clanwatch",
	Short:         "Announce clan Twitch streams and repost clan tweets",
	Long:          "clanwatch polls Twitch for live clan members and tweets an announcement, and retweets fresh tweets from clan members exactly once.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runAction,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the polling bot until interrupted",
	RunE:  runAction,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("clanwatch %s (%s)\n", Version, Commit)
	},
}

func init() {
	for _, c := range []*cobra.Command{rootCmd, runCmd} {
		c.Flags().BoolVar(&runFlags.statusServer, "status-server", false, "serve /, /status, /healthz and /metrics (overrides STATUS_SERVER)")
		c.Flags().IntVar(&runFlags.port, "port", 0, "status server port (overrides PORT)")
		c.Flags().StringVar(&runFlags.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	}
	rootCmd.AddCommand(runCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("clanwatch exited with error", slog.Any("err", err))
		os.Exit(1)
	}
}

// setupLogging configures the default logger from LOG_LEVEL and LOG_FORMAT.
// Defaults: level=info, format=text.
func setupLogging() {
	lvl, known := parseLogLevel(os.Getenv("LOG_LEVEL"))
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	if !known {
		slog.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}

func parseLogLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, true
	case "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	case "info", "":
		return slog.LevelInfo, true
	default:
		return slog.LevelInfo, false
	}
}
