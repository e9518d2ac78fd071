package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"civicreport/internal/config"
	"civicreport/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to YAML config (optional)")
	out := flag.String("out", "", "Write the key here instead of the configured master key path")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	keyFile := cfg.MasterKeyPath
	if *out != "" {
		keyFile = *out
	}

	key, err := crypto.RandomBytes(32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating random key: %v\n", err)
		os.Exit(1)
	}
	if err := crypto.WriteMasterKey(keyFile, key); err != nil {
		if errors.Is(err, os.ErrExist) {
			fmt.Fprintf(os.Stderr, "Error: %s already exists. Refusing to overwrite.\n", keyFile)
		} else {
			fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", keyFile, err)
		}
		os.Exit(1)
	}
	fmt.Printf("Master key written to %s\n", keyFile)
}
