package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	_ "time/tzdata"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

// cliOptions are the command-line flags; the config file carries everything else.
type cliOptions struct {
	ConfigFile string `short:"c" long:"config" env:"RECALL_CONFIG_FILE" description:"path to the JSON config file"`
	EnvFile    string `long:"env-file" default:".env" description:"dotenv file loaded before reading the config"`
	LogLevel   string `long:"log-level" description:"override log_level (debug, info, warn, error)"`
	LogFormat  string `long:"log-format" choice:"json" choice:"console" description:"override log_format"`
}

func main() {
	var options cliOptions
	if _, err := flags.Parse(&options); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	if err := loadEnvFile(options.EnvFile); err != nil {
		slog.Error("load env file", "error", err)
		os.Exit(1)
	}

	if err := run(options); err != nil {
		slog.Error("bot exited with error", "error", err)
		os.Exit(1)
	}
}

// loadEnvFile loads dotenv values without overriding the real environment.
// A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}

	return nil
}
