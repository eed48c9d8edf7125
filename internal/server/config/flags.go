package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/legacyvault/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-m string   store kind: postgres or memory
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-t int      access token validity, minutes
//	-k string   escrow key, 64 hex chars
//	-i int      check-in sweep interval, minutes
//	-w int      KDF workers
//	-n string   notification webhook URL
//
// Duration flags are accepted as integers in minutes.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-m", "-d", "-s", "-t", "-k", "-i", "-w", "-n"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.StoreKind, "m", config.StoreKind, "store kind (postgres|memory)")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	accessTokenValidityDuration := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access_token_validity_duration (in minutes)")

	fs.StringVar(&config.EscrowKey, "k", config.EscrowKey, "escrow key (hex)")

	sweepInterval := fs.Int("i", int(config.SweepInterval.Minutes()), "check-in sweep interval (in minutes)")

	fs.IntVar(&config.KDFWorkers, "w", config.KDFWorkers, "KDF workers")
	fs.StringVar(&config.NotifyWebhookURL, "n", config.NotifyWebhookURL, "notification webhook URL")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AccessTokenValidityDuration = time.Duration(*accessTokenValidityDuration) * time.Minute
	config.SweepInterval = time.Duration(*sweepInterval) * time.Minute
}
