package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tomasronis/Rhenti-sub003/internal/account"
	"github.com/tomasronis/Rhenti-sub003/internal/daemon"
	"go.uber.org/fx"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	configFlag := flag.String("config", "", "config file path (default ~/.rentsync/config.toml)")
	listenFlag := flag.String("listen", "", "local API bind address (overrides config)")
	flag.Parse()

	profile := account.Resolve(*profileFlag)
	if err := account.ValidateName(profile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			Profile:    profile,
			ConfigPath: *configFlag,
			ListenAddr: *listenFlag,
		}),
	)

	app.Run()
}
