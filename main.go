// The main package for the news-ingest executable.
//
// A run loads configuration (viper over an optional file, .env and
// NEWSINGEST_* variables), opens the article store (Postgres via pgx or an
// embedded bbolt file) and crawls the source listing with colly. New
// articles are inserted in one transaction; the run event is published to
// Pub/Sub when enabled and run metrics are pushed to a Prometheus
// Pushgateway when one is configured.
package main

import (
	_ "time/tzdata"

	"github.com/JakeFAU/news-ingest/cmd"
)

func main() {
	cmd.Execute()
}
