package config

import (
	"flag"
	"os"
	"strings"

	"github.com/dmitrijs2005/bizkeeper/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   bind address for the HTTP endpoint
//	-d string   PostgreSQL DSN (pgx)
//	-k string   HMAC secret for signing JWTs
//	-s string   comma-separated list of synchronized tables
//
// os.Args is filtered with flagx.FilterArgs so flags owned by other
// components do not trip the parser.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-k", "-s"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.EndpointAddr, "a", cfg.EndpointAddr, "address and port to run server")
	fs.StringVar(&cfg.DatabaseDSN, "d", cfg.DatabaseDSN, "database connection string")
	fs.StringVar(&cfg.SecretKey, "k", cfg.SecretKey, "secret key for signing tokens")
	tables := fs.String("s", strings.Join(cfg.SyncTables, ","), "comma-separated list of synchronized tables")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	if *tables != "" {
		cfg.SyncTables = strings.Split(*tables, ",")
	}
}
