package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/repostore/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   gRPC bind address (e.g., ":50051")
//	-d string   database DSN, or "memory"
//	-l string   log level
//	-k string   default storage credential key
//	-r string   redis address; empty keeps leases in process
//	-q string   rabbitmq url; empty dispatches jobs locally
//	-m string   otlp metrics endpoint; empty disables export
//
// os.Args is filtered with flagx.FilterArgs first so that the -c and -env
// bootstrap flags do not reach this flag set.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-l", "-k", "-r", "-q", "-m"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.StringVar(&config.DefaultCredentialsKey, "k", config.DefaultCredentialsKey, "default storage credential")
	fs.StringVar(&config.RedisAddr, "r", config.RedisAddr, "redis address")
	fs.StringVar(&config.RabbitURL, "q", config.RabbitURL, "rabbitmq url")
	fs.StringVar(&config.MetricsEndpoint, "m", config.MetricsEndpoint, "otlp metrics endpoint")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
