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
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/valpere/mtserve/internal"
)

var (
	inputFile  string
	outputFile string
	inputText  string
	targetLang string
	verbose    bool
)

var translateCmd = &cobra.Command{
	Use:   "translate",
	Short: "Translate text once without starting the server",
	Long: `Translate text through the same pipeline the HTTP API uses:
language detection, model lookup, model load and inference.

Text comes from --text, --input or standard input.

Examples:
  mtserve translate --target fr --text "Hello world"
  mtserve translate -t de -i article.txt -o article.de.txt`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if inputFile != "" && inputText != "" {
			return fmt.Errorf("--text and --input are mutually exclusive")
		}
		if inputFile != "" && inputFile == outputFile {
			return fmt.Errorf("input file and output file cannot be the same")
		}

		text, err := readInput(cmd.InOrStdin())
		if err != nil {
			return err
		}

		logger, err := newLogger(cfg.Log)
		if err != nil {
			return err
		}
		defer logger.Sync()

		a, err := buildApp(cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.orch.Translate(context.Background(), internal.TranslationRequest{
			ID:         uuid.New().String(),
			Text:       text,
			TargetLang: targetLang,
			ReceivedAt: time.Now(),
		})
		if err != nil {
			return err
		}

		return writeResult(cmd.OutOrStdout(), cmd.ErrOrStderr(), result, outputFile, verbose)
	},
}

// writeResult prints the translation to stdout, or to outputFile with a
// confirmation on stdout. Verbose details always go to stderr.
func writeResult(stdout, stderr io.Writer, result *internal.TranslationResult, outputFile string, verbose bool) error {
	if verbose {
		detected := "fallback"
		if result.Detected {
			detected = "detected"
		}
		fmt.Fprintf(stderr, "Source language: %s (%s)\n", result.SourceLang, detected)
		fmt.Fprintf(stderr, "Model:           %s\n", result.ModelID)
		fmt.Fprintf(stderr, "Device:          %s\n", result.Device)
		fmt.Fprintf(stderr, "Latency:         %s\n", result.Latency.Round(time.Millisecond))
	}

	if outputFile == "" {
		fmt.Fprintln(stdout, result.TranslatedText)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(result.TranslatedText), 0644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	fmt.Fprintf(stdout, "Successfully translated %s to %s\n", result.SourceLang, result.TargetLang)
	return nil
}

func readInput(stdin io.Reader) (string, error) {
	switch {
	case inputText != "":
		return inputText, nil
	case inputFile != "":
		data, err := os.ReadFile(inputFile)
		if err != nil {
			return "", fmt.Errorf("failed to read input file: %w", err)
		}
		return string(data), nil
	default:
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read standard input: %w", err)
		}
		return strings.TrimRight(string(data), "\n"), nil
	}
}

func init() {
	rootCmd.AddCommand(translateCmd)

	translateCmd.Flags().StringVarP(&targetLang, "target", "t", "", "Target language code (required)")
	translateCmd.Flags().StringVar(&inputText, "text", "", "Text to translate")
	translateCmd.Flags().StringVarP(&inputFile, "input", "i", "", "Input file to translate")
	translateCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default standard output)")
	translateCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print detected language, model and device to stderr")

	translateCmd.Flags().String("device", "auto", "Device preference: auto, cpu, cuda, mps")
	translateCmd.Flags().String("runtime", "http://localhost:8500", "Inference runtime URL")
	translateCmd.Flags().Bool("offline", false, "Only use model artifacts already in the local cache")

	translateCmd.MarkFlagRequired("target")
}
