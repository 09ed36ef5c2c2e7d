package main

import (
	"context"
	"fmt"

	"github.com/polisware/polis/pkg/registry"
)

// ToolsCmd prints the tool catalog the Technical Agent would serve.
type ToolsCmd struct{}

func (c *ToolsCmd) Run(cli *CLI) error {
	ctx := context.Background()

	cfg, closeCfg, err := loadConfig(ctx, cli)
	if err != nil {
		return err
	}
	defer closeCfg()
	setupLogging(cli, cfg)

	connectors, err := buildConnectors(cfg.ToolServers)
	if err != nil {
		return err
	}
	defer closeConnectors(connectors)

	reg := registry.New(cfg.Registry, connectors...)
	refreshErr := reg.Refresh(ctx)

	tools := reg.AllTools()
	if len(tools) == 0 {
		if refreshErr != nil {
			return fmt.Errorf("discovery failed: %w", refreshErr)
		}
		fmt.Println("No tools discovered.")
		return nil
	}

	fmt.Printf("%d tools from %d configured servers:\n\n", len(tools), len(cfg.ToolServers))
	for _, d := range tools {
		desc := d.Description
		if desc == "" {
			desc = "(no description)"
		}
		fmt.Printf("  %-32s %-16s %s\n", d.Name, d.ServerID, desc)
	}
	if refreshErr != nil {
		fmt.Printf("\nWarning: some servers did not answer: %v\n", refreshErr)
	}
	return nil
}
