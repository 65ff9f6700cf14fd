package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/alexanderramin/programs/internal/cli"
	"github.com/alexanderramin/programs/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	a := &cli.App{Viper: config.New()}

	// Confirmations fall back to --yes when stdin is not a terminal.
	a.IsInteractive = func() bool {
		return isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
	}

	return cli.NewRootCmd(a).Execute()
}
