/**
 * pdfextract - one-shot PDF text extraction
 *
 * Runs the same extraction policy as the worker against local files and
 * prints the result. Defaults come from the environment (and .env), flags
 * override them.
 *
 * Usage:
 *   pdfextract [flags] file.pdf [file.pdf ...]
 */

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/adverant/nexus/pdfextract-worker/internal/config"
	"github.com/adverant/nexus/pdfextract-worker/internal/errors"
	"github.com/adverant/nexus/pdfextract-worker/internal/logging"
	"github.com/adverant/nexus/pdfextract-worker/internal/processor"
)

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:      "pdfextract",
		Usage:     "Extract per-page text from PDF files",
		ArgsUsage: "file.pdf [file.pdf ...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "mode",
				Aliases: []string{"m"},
				Usage:   "OCR mode: cloud or local-fallback",
			},
			&cli.IntFlag{
				Name:  "threshold",
				Usage: "minimum characters before local OCR is skipped",
			},
			&cli.BoolFlag{
				Name:  "no-ocr",
				Usage: "never run local OCR",
			},
			&cli.BoolFlag{
				Name:  "images",
				Usage: "append OCR text of embedded images to each page",
			},
			&cli.StringFlag{
				Name:    "api-key",
				Usage:   "cloud OCR API key",
				EnvVars: []string{"OCR_API_KEY", "MISTRAL_API_KEY"},
			},
			&cli.StringFlag{
				Name:  "language",
				Usage: "tesseract language, e.g. eng or eng+deu",
			},
			&cli.IntFlag{
				Name:  "dpi",
				Usage: "render resolution for local OCR",
			},
			&cli.BoolFlag{
				Name:  "text",
				Usage: "print plain text instead of JSON",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "warn",
				Usage: "debug, info, warn or error",
			},
		},
		Action: run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "pdfextract:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("at least one PDF file is required", 2)
	}

	logging.SetOutput(os.Stderr)
	logging.SetLevel(c.String("log-level"))

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	policy, err := processor.NewPolicyFromConfig(cfg)
	if err != nil {
		return err
	}

	failed := 0
	for _, path := range c.Args().Slice() {
		if err := checkInput(path); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed++
			continue
		}

		result := policy.Process(c.Context, path)
		if result.Failed() {
			failed++
		}

		if err := printResult(c.App.Writer, result, c.Bool("text")); err != nil {
			return err
		}
	}

	if failed > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d files could not be extracted", failed, c.NArg()), 1)
	}
	return nil
}

// checkInput rejects files that are not PDFs. There is no job here, so the
// error carries no job ID.
func checkInput(path string) error {
	return processor.ValidatePDF("", path)
}

// loadConfig reads the environment and applies any flags that were set
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.FromEnv()

	if c.IsSet("mode") {
		cfg.OCRMode = strings.ToLower(c.String("mode"))
	}
	if c.IsSet("threshold") {
		cfg.OCRMinTextThreshold = c.Int("threshold")
	}
	if c.Bool("no-ocr") {
		cfg.UseOCRFallback = false
	}
	if c.Bool("images") {
		cfg.ExtractImages = true
	}
	if c.IsSet("api-key") {
		cfg.OCRAPIKey = c.String("api-key")
	}
	if c.IsSet("language") {
		cfg.OCRLanguage = c.String("language")
	}
	if c.IsSet("dpi") {
		cfg.OCRRenderDPI = c.Int("dpi")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.NewConfigurationError("invalid options", err)
	}
	return cfg, nil
}

func printResult(w io.Writer, result *processor.ExtractionResult, plain bool) error {
	if plain {
		for _, warning := range result.Warnings {
			fmt.Fprintf(os.Stderr, "%s: warning: %s\n", result.Source, warning)
		}
		if result.Failed() {
			fmt.Fprintf(os.Stderr, "%s: %s\n", result.Source, result.Error)
			return nil
		}
		_, err := fmt.Fprintln(w, result.Text())
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
