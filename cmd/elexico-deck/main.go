package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/elexicoai/elexico-core/internal/deck"
)

var version = "0.1.0-dev"

func main() {
	var deckPath string
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	validateCmd.StringVar(&deckPath, "file", "deck.yaml", "Path to deck file")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'validate' or 'version'")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "validate":
		validateCmd.Parse(os.Args[2:])
		if err := runValidate(deckPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println("deck valid")
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

func runValidate(path string) error {
	d, err := deck.Load(path)
	if err != nil {
		return err
	}
	return d.Validate()
}
