// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/termite/cmd/termite/config"
)

// runConfig prints the effective configuration and which backend it selects.
func runConfig(cmd *cobra.Command, f *cliFlags) error {
	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return err
	}
	return writeConfig(cmd.OutOrStdout(), cfg)
}

func writeConfig(w io.Writer, cfg config.TermiteConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}

	fmt.Fprintln(w, "# secrets")
	fmt.Fprintf(w, "#   %s: %s\n", config.EnvOpenAIKey, presence(cfg.Backend.OpenAIKey))
	fmt.Fprintf(w, "#   %s: %s\n", config.EnvAnthropicKey, presence(cfg.Backend.AnthropicKey))

	selected := "none"
	if settings, err := cfg.LLMSettings(); err == nil {
		if p, err := settings.Resolve(); err == nil {
			selected = string(p)
		}
	}
	fmt.Fprintf(w, "# selected backend: %s\n", selected)
	return nil
}

func presence(secret string) string {
	if secret == "" {
		return "unset"
	}
	return "set"
}
