package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"stockadvisor/internal/app"
	"stockadvisor/internal/config"
	"stockadvisor/internal/logging"
)

func main() {
	var (
		symbolsCSV string
		configPath string
		timeout    time.Duration
		indices    bool
		liveOnly   bool
		logLevel   string
	)
	flag.StringVar(&symbolsCSV, "symbols", getenv("SYMBOLS", "RELIANCE,TCS,INFY"), "comma-separated tickers (RELIANCE, INFY.BO, HDFC ...)")
	flag.StringVar(&configPath, "config", "", "path to config file (optional)")
	flag.DurationVar(&timeout, "timeout", 90*time.Second, "overall deadline")
	flag.BoolVar(&indices, "indices", false, "also print the index snapshot")
	flag.BoolVar(&liveOnly, "live-only", false, "never answer from the fallback table")
	flag.StringVar(&logLevel, "log-level", getenv("LOG_LEVEL", "warn"), "debug, info, warn or error")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("warning: .env: %v", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	cfg.Logging.Level = logLevel
	cfg.Logging.Encoding = "console"
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a, err := app.New(ctx, cfg, logger, app.Options{LiveOnly: liveOnly})
	if err != nil {
		log.Fatalf("build: %v", err)
	}
	defer func() { _ = a.Close() }()

	symbols := splitCSV(symbolsCSV)
	if len(symbols) == 0 {
		log.Fatal("no symbols given")
	}

	out := map[string]any{"prices": a.Engine.GetPrices(ctx, symbols)}
	if indices {
		out["indices"] = a.Indices.GetIndices(ctx)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "encode: %v\n", err)
		os.Exit(1)
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
