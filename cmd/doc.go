// Package cmd defines the corpuscrawler command line.
//
// Architecture overview:
//   - run: builds the application services (internal/app) from configuration, executes one pipeline run
//     (crawl every source, normalize, gate, export shards, write the manifest) and prints the run report as JSON.
//     Mirroring to a blob store, release notification and the run ledger are optional and configured under
//     publish.* and ledger.*.
//   - serve: the same services behind the chi HTTP API in internal/api. POST /v1/runs starts a run in the
//     background; at most one run is active at a time.
//   - sources / config: inspect the configured sources and the settings snapshot a manifest embeds.
//
// Operational notes:
//   - Configuration: Viper reads an optional YAML file (--config) and CORPUS_* environment overrides
//     (CORPUS_PIPELINE_BATCH_SIZE, CORPUS_LEDGER_DSN, ...). --log-level and --dev override the log section.
//   - Cloud Run: serve listens on server.port, overridable via PORT, and drains on SIGTERM. A run in flight
//     is cancelled; sources that had not finished report as failed.
//   - Transport: fixture mode (the default) serves a small offline corpus; http mode fetches pages with colly
//     and GitHub repositories through the REST API.
package cmd
