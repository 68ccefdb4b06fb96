package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/wppconsole/internal/console"
	"github.com/matheus3301/wppconsole/internal/profile"
	"go.uber.org/fx"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	configFlag := flag.String("config", "", "config file (default: the profile's config.toml)")
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		console.Module(console.Params{Profile: name, ConfigPath: *configFlag}),
		fx.NopLogger,
	)

	app.Run()
}
