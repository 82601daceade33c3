/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/valpere/mtserve/internal/config"
)

var version = "0.1.0"

var (
	cfgFile string

	v   *viper.Viper
	cfg *config.Config
)

// configFlags maps flag names to the config keys they override.
var configFlags = map[string]string{
	"log-level":  "log.level",
	"log-format": "log.format",
	"db":         "database.path",
	"addr":       "server.addr",
	"device":     "runtime.device",
	"runtime":    "runtime.url",
	"offline":    "hub.offline",
	"cache":      "models.cache",
}

var rootCmd = &cobra.Command{
	Use:   "mtserve",
	Short: "Machine translation service backed by pretrained models",
	Long: `mtserve translates text with pretrained sequence-to-sequence models.

The source language is detected automatically, a model is picked for the
language pair and run on the best available device of the inference runtime.

Configuration is read from ./mtserve.yaml or $HOME/.config/mtserve/mtserve.yaml
and can be overridden with MTSERVE_* environment variables.

Use "mtserve serve" to start the HTTP API.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v = config.New(cfgFile)

		var bindErr error
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			if key, ok := configFlags[f.Name]; ok && bindErr == nil {
				bindErr = v.BindPFlag(key, f)
			}
		})
		if bindErr != nil {
			return fmt.Errorf("failed to bind flags: %w", bindErr)
		}

		loaded, err := config.Load(v)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ./mtserve.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "json", "Log format: json or console")
	rootCmd.PersistentFlags().String("db", "./data/mtserve.db", "Artifact manifest database path")
}
