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

package main

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/polisware/polis/pkg/config"
)

// ValidateCmd checks a configuration file without starting anything.
type ValidateCmd struct {
	Path  string `arg:"" name:"config" help:"Configuration file path." type:"path"`
	Print bool   `short:"p" help:"Print the effective configuration with defaults and env overrides applied."`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	ctx := context.Background()

	cfg, loader, err := config.LoadConfigFile(ctx, c.Path)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	defer loader.Close()

	fmt.Printf("Configuration OK: %s\n", c.Path)
	fmt.Printf("  domain agent:    port %d\n", cfg.DomainAgent.Port)
	fmt.Printf("  technical agent: port %d, concurrency %d\n", cfg.TechnicalAgent.Port, cfg.TechnicalAgent.Concurrency)
	fmt.Printf("  llm:             %s (%s)\n", cfg.LLM.Provider, cfg.LLM.PrimaryModel)
	fmt.Printf("  tool servers:    %d\n", len(cfg.ToolServers))

	if c.Print {
		redacted := *cfg
		if redacted.LLM.APIKey != "" {
			redacted.LLM.APIKey = "(redacted)"
		}
		data, err := yaml.Marshal(&redacted)
		if err != nil {
			return err
		}
		fmt.Printf("\n%s", data)
	}
	return nil
}
