package config

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/dmitrijs2005/bizkeeper/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   base URL of the sync server
//	-d string   path to the local database file
//	-t string   access token for the sync endpoints
//	-i int      sync interval in seconds
//	-s string   comma-separated list of tables to sync
//	-r string   conflict strategy (last-write-wins, client-wins, server-wins, manual)
//
// os.Args is filtered with flagx.FilterArgs so flags owned by other
// components do not trip the parser.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-t", "-i", "-s", "-r"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerURL, "a", cfg.ServerURL, "base URL of the sync server")
	fs.StringVar(&cfg.DatabaseDSN, "d", cfg.DatabaseDSN, "path to the local database file")
	fs.StringVar(&cfg.AccessToken, "t", cfg.AccessToken, "access token for the sync endpoints")
	syncInterval := fs.Int("i", int(cfg.SyncInterval.Seconds()), "sync interval (in seconds)")
	tables := fs.String("s", strings.Join(cfg.SyncTables, ","), "comma-separated list of tables to sync")
	fs.StringVar(&cfg.ConflictStrategy, "r", cfg.ConflictStrategy, "conflict strategy")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.SyncInterval = time.Duration(*syncInterval) * time.Second
	if *tables != "" {
		cfg.SyncTables = strings.Split(*tables, ",")
	}
}
