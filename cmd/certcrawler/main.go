package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"certcrawler/pkg/config"
	"certcrawler/pkg/crawler"
	"certcrawler/pkg/fetch"
	"certcrawler/pkg/metrics"
	"certcrawler/pkg/models"
	"certcrawler/pkg/reconcile"
	"certcrawler/pkg/storage"
)

const version = "0.3.0"

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: certcrawler <command> [flags]

Commands:
  crawl     run a full two-pass collection session
  gaps      detect missing local pages and re-collect them
  status    compare the local store against the live site
  validate  cross-check stored list and detail records
  version   print the build version

Flags (crawl, gaps, status, validate):
`)
	flag.PrintDefaults()
}

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	configFileFlag := flag.String("config", "config.yaml", "Path to YAML config file")
	logLevelFlag := flag.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	metricsAddrFlag := flag.String("metrics", "", "Address for the metrics/pprof HTTP server (e.g. ':9090', empty to disable)")
	jsonFlag := flag.Bool("json", false, "Print status/validate output as JSON")

	flag.Usage = usage
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	command := os.Args[1]
	_ = flag.CommandLine.Parse(os.Args[2:])

	if command == "version" {
		fmt.Println("certcrawler " + version)
		return
	}

	level, err := logrus.ParseLevel(*logLevelFlag)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", *logLevelFlag, err)
	} else {
		log.SetLevel(level)
	}

	log.Infof("Loading configuration from %s", *configFileFlag)
	yamlFile, err := os.ReadFile(*configFileFlag)
	if err != nil {
		log.Fatalf("Read config file '%s' error: %v", *configFileFlag, err)
	}
	var cfg config.AppConfig
	if err := yaml.Unmarshal(yamlFile, &cfg); err != nil {
		log.Fatalf("Parse config file '%s' error: %v", *configFileFlag, err)
	}
	warnings, err := cfg.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	log.Infof("Site: %s, strategy: %s, products/page: %d",
		cfg.Site.BaseURL, cfg.FetchStrategy, cfg.Site.ProductsPerPage)

	met := metrics.New()
	if *metricsAddrFlag != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(met.Registry, promhttp.HandlerOpts{}))
		mux.Handle("/debug/pprof/", http.DefaultServeMux)
		go func() {
			log.Infof("Serving metrics on http://%s/metrics", *metricsAddrFlag)
			if err := http.ListenAndServe(*metricsAddrFlag, mux); err != nil {
				log.Errorf("Metrics server failed: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		sig := <-sigChan
		log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
		cancel()
		select {
		case sig = <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		}
	}()

	store, err := storage.NewBadgerStore(cfg.StateDir, cfg.Site.RecordNamespace, logrus.NewEntry(log))
	if err != nil {
		log.Fatalf("Failed to open record store: %v", err)
	}
	defer store.Close()
	go store.RunGC(ctx, 10*time.Minute)

	client, err := fetch.NewPageFetchClient(&cfg, log)
	if err != nil {
		log.Fatalf("Failed to build fetch client: %v", err)
	}

	entry := logrus.NewEntry(log)
	orch := crawler.New(&cfg, client, store, met, entry,
		crawler.NewLogObserver(entry.WithField("component", "progress"), 2*time.Second))

	switch command {
	case "crawl":
		runCrawl(ctx, orch, log)
	case "gaps":
		if err := orch.RunGapCollection(ctx); err != nil {
			log.Fatalf("Gap collection failed: %v", err)
		}
		log.Info("Gap collection completed")
	case "status":
		runStatus(ctx, orch, *jsonFlag, log)
	case "validate":
		runValidate(store, *jsonFlag, log)
	default:
		log.Errorf("Unknown command: %s", command)
		usage()
		os.Exit(2)
	}
}

// runCrawl drives one session to completion, stopping it when the signal
// handler cancels the context.
func runCrawl(ctx context.Context, orch *crawler.Orchestrator, log *logrus.Logger) {
	if !orch.StartCrawling() {
		log.Fatal("A session is already active")
	}
	done := make(chan struct{})
	go func() {
		orch.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		orch.StopCrawling()
		<-done
	case <-done:
	}

	if orch.State().Stage() == models.StageFailed {
		log.Error("Session ended in the failed stage, see the failure report above")
		os.Exit(1)
	}
	log.Info("Session completed successfully")
}

func runStatus(ctx context.Context, orch *crawler.Orchestrator, asJSON bool, log *logrus.Logger) {
	summary, err := orch.CheckCrawlingStatus(ctx)
	if err != nil {
		log.Fatalf("Status check failed: %v", err)
	}
	if asJSON {
		printJSON(summary, log)
		return
	}
	fmt.Printf("Site:        %d pages, %d products\n", summary.SiteTotalPages, summary.SiteProductCount)
	fmt.Printf("Local store: %d products (last updated %s)\n", summary.DBProductCount, formatTime(summary.DBLastUpdated))
	fmt.Printf("Missing:     %d products\n", summary.Diff)
	if summary.NeedCrawling {
		fmt.Printf("Next crawl:  site pages %d~%d\n", summary.CrawlingRange.StartPage, summary.CrawlingRange.EndPage)
	} else {
		fmt.Println("Next crawl:  not needed, store is up to date")
	}
}

// runValidate cross-checks the persisted record sets without touching the
// network.
func runValidate(store storage.RecordStore, asJSON bool, log *logrus.Logger) {
	lists, err := store.ListRecords()
	if err != nil {
		log.Fatalf("Reading list records failed: %v", err)
	}
	details, err := store.DetailRecords()
	if err != nil {
		log.Fatalf("Reading detail records failed: %v", err)
	}

	report := reconcile.Validate(lists, details, logrus.NewEntry(log))
	if asJSON {
		printJSON(report, log)
	} else {
		fmt.Printf("List records:    %d\n", len(lists))
		fmt.Printf("Detail records:  %d\n", len(details))
		fmt.Printf("Orphan details:  %d\n", len(report.OrphanDetails))
		fmt.Printf("Missing details: %d\n", len(report.MissingDetails))
		fmt.Printf("Mismatches:      %d\n", len(report.Mismatches))
	}
	if !report.Clean() {
		os.Exit(1)
	}
}

func printJSON(v interface{}, log *logrus.Logger) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("Encoding output failed: %v", err)
	}
	fmt.Println(string(out))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(time.RFC3339)
}
