package main

import (
	"context"
	"os"

	"github.com/custodia-labs/memweave/internal/adapters/driving/cli"
	"github.com/custodia-labs/memweave/internal/app"
)

var version = "dev"

func main() {
	cli.SetVersion(version)
	cli.SetBootstrap(func(ctx context.Context, configPath string) (cli.Runtime, error) {
		a, err := app.Open(ctx, app.Options{ConfigPath: configPath, Version: version})
		if err != nil {
			return nil, err
		}
		return a, nil
	})

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
