package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/elgarage/garage/cmd/server/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Dev     bool `help:"Enable development mode (debug logging, console output)." env:"GARAGE_DEV"`
		Version kong.VersionFlag
		Server  commands.WebsiteCmd `cmd:"" help:"Start the website"`
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("garage"),
		kong.Description("Accounts, sessions and administration for the garage website."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Dev: cli.Dev, Version: version})
	cmd.FatalIfErrorf(err)
}
