// Command agentcore runs the agent orchestration server and its clients.
//
// Usage:
//
//	agentcore serve
//	agentcore chat --mode sequential --agent concierge_001 --agent assistant_001
//	agentcore export --format json
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/owulveryck/agentcore/internal/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve   ServeCmd   `cmd:"" help:"Start the dispatch and health servers."`
	Chat    ChatCmd    `cmd:"" help:"Send stdin lines to a running server."`
	Export  ExportCmd  `cmd:"" help:"Print the metrics of a running server."`
	Version VersionCmd `cmd:"" help:"Show version information."`
}

type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		version = info.Main.Version
	}
	fmt.Printf("agentcore version %s\n", version)
	return nil
}

func main() {
	if err := config.LoadEnvFiles(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("agentcore"),
		kong.Description("Multi-agent orchestration with built-in observability"),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}
