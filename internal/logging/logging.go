// Package logging configures the indexer's structured logger, built
// on github.com/ethereum/go-ethereum/log the way op-node and
// op-service wire theirs, reading LOG_LEVEL and LOG_DIR per
// SPEC_FULL.md §6.
package logging

import (
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/log"
)

// New builds the root logger from LOG_LEVEL (default "info") and
// LOG_DIR (default: stderr only). LOG_LEVEL accepts go-ethereum's
// level names (trace, debug, info, warn, error, crit).
func New() log.Logger {
	level := levelFromEnv()

	handlers := []log.Handler{log.StreamHandler(os.Stderr, log.TerminalFormat(true))}
	if dir := os.Getenv("LOG_DIR"); dir != "" {
		if h, err := fileHandler(dir); err == nil {
			handlers = append(handlers, h)
		}
	}

	root := log.New()
	root.SetHandler(log.LvlFilterHandler(level, log.MultiHandler(handlers...)))
	return root
}

func levelFromEnv() log.Lvl {
	raw := os.Getenv("LOG_LEVEL")
	if raw == "" {
		return log.LvlInfo
	}
	lvl, err := log.LvlFromString(raw)
	if err != nil {
		return log.LvlInfo
	}
	return lvl
}

func fileHandler(dir string) (log.Handler, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "indexer.log")
	return log.FileHandler(path, log.LogfmtFormat())
}
