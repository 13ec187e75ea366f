package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/tinytelemetry/prom-reaper/internal/config"
)

// Build variables - set by ldflags during build.
var (
	version = "dev"
	commit  = "unknown"
)

const usage = `Usage: prom-reaper [config.toml]

Prometheus metrics sharding proxy. Scrapes upstream exposition
endpoints and splits their series across shards served at
/metrics/shard/{id}.

Commands:
  generate-config   print a sample configuration file and exit
  version           print version information and exit
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	configPath := "config.toml"
	switch len(args) {
	case 0:
	case 1:
		switch args[0] {
		case "generate-config":
			fmt.Print(sampleConfig)
			return 0
		case "version":
			fmt.Printf("prom-reaper %s (%s)\n", version, commit)
			return 0
		default:
			if strings.HasPrefix(args[0], "-") {
				fmt.Fprint(os.Stderr, usage)
				return 2
			}
			configPath = args[0]
		}
	default:
		fmt.Fprint(os.Stderr, usage)
		return 2
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return 1
	}

	if err := runServer(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

const sampleConfig = `# prom-reaper configuration

# Address to listen on
listen = "0.0.0.0:9090"

# Number of shards to split metrics into.
# Uses consistent hashing (xxh3 + jump hash), so changing this
# moves only ~1/N of metrics to different shards.
num_shards = 4

# How often to scrape upstream sources (seconds)
scrape_interval_secs = 30

# Upstream Prometheus-compatible metric sources.
# All sources are scraped in parallel.

[[sources]]
url = "http://ceph-exporter:9283/metrics"
timeout_secs = 25
# headers = {}        # optional: extra HTTP request headers
# extra_labels = {}   # optional: labels added to every series from this source

# Scrape own operational metrics (shard sizes, scrape durations, etc.)
# exposed at /metrics. Adjust the address to match "listen" above.
[[sources]]
url = "http://127.0.0.1:9090/metrics"
timeout_secs = 5

# Another source with all optional fields shown:
# [[sources]]
# url = "http://node-exporter:9100/metrics"
# timeout_secs = 10
# headers = { "Authorization" = "Bearer token123" }
# extra_labels = { cluster = "prod", datacenter = "eu-west-1" }
`
