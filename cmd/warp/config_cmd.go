// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"fmt"
	"os"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/teradata-labs/warp/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration and secrets",
	Long: heredoc.Doc(`
		Secrets (API keys) are stored in the OS keyring, never in
		warp.yaml. Names match the provider adapters:

		  anthropic_api_key, gemini_api_key, xai_api_key, ollama_endpoint
	`),
}

var setSecretCmd = &cobra.Command{
	Use:   "set-secret <name> [value]",
	Short: "Store a secret in the OS keyring",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		value := ""
		if len(args) == 2 {
			value = args[1]
		} else {
			fmt.Fprintf(os.Stderr, "Enter value for %s: ", args[0])
			data, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return err
			}
			value = string(data)
		}
		if value == "" {
			return fmt.Errorf("secret value is empty")
		}
		if err := config.SetSecret(args[0], value); err != nil {
			return err
		}
		fmt.Println("stored", args[0])
		return nil
	},
}

var getSecretCmd = &cobra.Command{
	Use:   "get-secret <name>",
	Short: "Read a secret from the OS keyring",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := config.GetSecret(args[0])
		if err != nil {
			return err
		}
		fmt.Println(value)
		return nil
	},
}

var deleteSecretCmd = &cobra.Command{
	Use:   "delete-secret <name>",
	Short: "Remove a secret from the OS keyring",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.DeleteSecret(args[0]); err != nil {
			return err
		}
		fmt.Println("deleted", args[0])
		return nil
	},
}

var showConfigCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Printf("data_dir:   %s\n", cfg.DataDir)
		fmt.Printf("log_level:  %s\n", cfg.LogLevel)
		fmt.Printf("gateway:    %s\n", cfg.Gateway.Addr)
		fmt.Printf("autonomy:   %s\n", cfg.Scheduler.Autonomy)
		fmt.Printf("workers:    %d\n", cfg.Scheduler.Workers)
		fmt.Printf("providers:  %d configured\n", len(cfg.Providers))
		for _, p := range cfg.Providers {
			fmt.Printf("  - %s (%s, %s)\n", p.Name, p.Adapter, p.Model)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(setSecretCmd, getSecretCmd, deleteSecretCmd, showConfigCmd)
	rootCmd.AddCommand(configCmd)
}
