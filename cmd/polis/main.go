// Copyright 2025 The Polis Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command polis runs the two-tier insurance assistant.
//
// Usage:
//
//	polis serve --config polis.yaml
//	polis serve --role technical
//	polis chat --customer CUST001
//	polis tools -c polis.yaml
//	polis validate polis.yaml
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	polis "github.com/polisware/polis"
	"github.com/polisware/polis/pkg/config"
	"github.com/polisware/polis/pkg/logger"
	"github.com/polisware/polis/pkg/toolproto"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the agent servers."`
	Chat     ChatCmd     `cmd:"" help:"Chat with a running Domain Agent."`
	Tools    ToolsCmd    `cmd:"" help:"Discover and list tools from the configured backends."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error). Overrides the config file."`
	LogFormat string `help:"Log format (text, json). Overrides the config file."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(polis.GetVersion().String())
	return nil
}

// loadConfig reads the config file when one was given and falls back to
// built-in defaults plus environment overrides otherwise. The returned
// cleanup releases the underlying provider.
func loadConfig(ctx context.Context, cli *CLI) (*config.Config, func(), error) {
	if cli.Config != "" {
		cfg, loader, err := config.LoadConfigFile(ctx, cli.Config)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load config: %w", err)
		}
		return cfg, func() { _ = loader.Close() }, nil
	}
	cfg, err := config.ZeroConfig()
	if err != nil {
		return nil, nil, err
	}
	return cfg, func() {}, nil
}

// setupLogging installs the process-wide logger. CLI flags win over the
// config file.
func setupLogging(cli *CLI, cfg *config.Config) {
	level := cfg.Logging.Level
	if cli.LogLevel != "" {
		level = cli.LogLevel
	}
	format := cfg.Logging.Format
	if cli.LogFormat != "" {
		format = cli.LogFormat
	}
	logger.Init(logger.ParseLevel(level), os.Stderr, format)
}

// buildConnectors opens one connector per configured tool server.
func buildConnectors(servers []*config.ToolServerConfig) ([]toolproto.Connector, error) {
	connectors := make([]toolproto.Connector, 0, len(servers))
	for _, sc := range servers {
		var (
			conn toolproto.Connector
			err  error
		)
		switch sc.Kind {
		case config.ToolServerMCP:
			conn, err = toolproto.NewMCPConnector(sc)
		default:
			conn, err = toolproto.NewTPConnector(sc)
		}
		if err != nil {
			closeConnectors(connectors)
			return nil, fmt.Errorf("tool server %s: %w", sc.ID, err)
		}
		connectors = append(connectors, conn)
	}
	return connectors, nil
}

func closeConnectors(connectors []toolproto.Connector) {
	for _, conn := range connectors {
		_ = conn.Close()
	}
}

func main() {
	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("polis"),
		kong.Description("Polis - a two-tier insurance assistant (Domain Agent + Technical Agent)."),
		kong.UsageOnError(),
	)

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
