/*
This command runs the API gateway.

For the list of command line options, run:

	gateway -help

Options can also be read from a YAML file given with -config-file.
Flags take precedence over the file. On SIGHUP the file is read again
and the rate limit policies are replaced.
*/
package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	gateway "github.com/portfolio/apigateway"
	"github.com/portfolio/apigateway/config"
	"github.com/portfolio/apigateway/logging"
	"github.com/portfolio/apigateway/metrics"
)

func main() {
	cfg := config.NewConfig()
	if err := cfg.Parse(); err != nil {
		log.Fatalf("Error processing config: %s", err)
	}

	logging.Init(logging.Options{
		ApplicationLogPrefix:      cfg.ApplicationLogPrefix,
		ApplicationLogOutput:      os.Stderr,
		ApplicationLogLevel:       cfg.ApplicationLogLevel,
		ApplicationLogJSONEnabled: cfg.ApplicationLogJSONEnabled,
		RequestLogOutput:          os.Stdout,
		RequestLogDisabled:        cfg.RequestLogDisabled,
		RequestLogJSONEnabled:     cfg.RequestLogJSONEnabled,
	})

	m := metrics.Init(cfg.MetricsOptions())

	options, err := cfg.ToOptions()
	if err != nil {
		log.Fatal(err)
	}
	options.Metrics = m

	if err := gateway.Run(options); err != nil {
		log.Fatal(err)
	}
}
