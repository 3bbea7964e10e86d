// Command fallback_snapshot resolves every fallback-table symbol from live
// sources, merges them over the built-in table and writes the result as a
// seed file, optionally publishing the live prices to the fallback feed so
// running servers refresh their tables.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"stockadvisor/internal/app"
	"stockadvisor/internal/config"
	"stockadvisor/internal/fallbackfeed"
	"stockadvisor/internal/logging"
)

func main() {
	var (
		outPath     string
		cfgPath     string
		symbolsFile string
		timeout     time.Duration
		publish     bool
	)
	flag.StringVar(&outPath, "out", "fallback_prices.json", "output JSON file path")
	flag.StringVar(&cfgPath, "config", "", "path to config file (optional)")
	flag.StringVar(&symbolsFile, "symbols-file", "", "JSON file whose keys are the symbols to snapshot (default: fallback table)")
	flag.DurationVar(&timeout, "timeout", 30*time.Minute, "overall deadline")
	flag.BoolVar(&publish, "publish", false, "publish the snapshot to the kafka fallback topic")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("warning: .env: %v", err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a, err := app.New(ctx, cfg, logger, app.Options{LiveOnly: true})
	if err != nil {
		log.Fatalf("build: %v", err)
	}
	defer func() { _ = a.Close() }()

	names := a.Table.Symbols()
	if symbolsFile != "" {
		if names, err = readKeys(symbolsFile); err != nil {
			log.Fatalf("read symbols: %v", err)
		}
	}
	if len(names) == 0 {
		log.Fatal("no symbols to snapshot")
	}
	log.Printf("symbols: %d", len(names))

	prices := make(map[string]decimal.Decimal, len(names))
	var missing []string
	for _, r := range a.Engine.GetPrices(ctx, names) {
		if r.OK() {
			prices[r.Symbol] = r.Price
			continue
		}
		missing = append(missing, r.Symbol)
	}
	if len(missing) > 0 {
		log.Printf("no live price for %d symbols: %s", len(missing), strings.Join(missing, ","))
	}
	if len(prices) == 0 {
		log.Fatal("no live prices resolved; refusing to write an empty snapshot")
	}

	if _, err := a.Table.Refresh(prices); err != nil {
		log.Fatalf("merge: %v", err)
	}
	if err := a.Table.SaveFile(outPath); err != nil {
		log.Fatalf("write: %v", err)
	}
	log.Printf("done: %d live of %d prices written to %s", len(prices), len(a.Table.Symbols()), outPath)

	if !publish {
		return
	}
	if len(cfg.Kafka.Brokers) == 0 {
		log.Fatal("publish requested but kafka.brokers is empty")
	}
	pub := fallbackfeed.NewPublisher(fallbackfeed.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.ClientID))
	defer func() { _ = pub.Close() }()
	if err := pub.Publish(ctx, fallbackfeed.Update{Prices: prices, Origin: "fallback_snapshot"}); err != nil {
		log.Fatalf("publish: %v", err)
	}
	log.Printf("published snapshot to %s", cfg.Kafka.Topic)
}

func readKeys(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names, nil
}
