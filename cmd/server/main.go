package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/lastmilehq/deliverysync/internal/app"
	"github.com/lastmilehq/deliverysync/internal/config"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	configPath := flag.String("config", "configs/config.yaml",
		"path to the YAML config file (APP__ environment variables override file values)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", *configPath, err)
	}

	a, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("wire application: %w", err)
	}

	return a.Run()
}
