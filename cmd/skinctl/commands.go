package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codr1/skinforge/internal/llm"
	"github.com/codr1/skinforge/internal/models"
	"github.com/codr1/skinforge/internal/palette"
	"github.com/codr1/skinforge/internal/patch"
	"github.com/codr1/skinforge/internal/schema"
)

// errRejected means the document or patch failed schema validation.
var errRejected = errors.New("theme document failed validation")

func exitCode(err error) int {
	if errors.Is(err, errRejected) {
		return 2
	}
	return 1
}

var (
	paletteMode string

	patchPalettePath string
	patchImage       string
	patchMode        string
	patchAllow       []string
	patchFont        bool
	patchWhitelist   bool
	patchTargets     []string
	patchApply       bool
	patchOut         string

	validateVersion string
)

func init() {
	rootCmd.AddCommand(paletteCmd)
	rootCmd.AddCommand(patchCmd)
	rootCmd.AddCommand(validateCmd)

	paletteCmd.Flags().StringVar(&paletteMode, "mode", "kmeans", "extraction mode: kmeans or vision")

	patchCmd.Flags().StringVar(&patchPalettePath, "palette", "", "palette JSON file")
	patchCmd.Flags().StringVar(&patchImage, "image", "", "image file or URL to extract the palette from")
	patchCmd.Flags().StringVar(&patchMode, "mode", "kmeans", "extraction mode for --image: kmeans or vision")
	patchCmd.Flags().StringSliceVar(&patchAllow, "allow", nil, "pointer prefixes the tree walk may edit (default: all)")
	patchCmd.Flags().BoolVar(&patchFont, "font", false, "also replace fontFamily with the palette font")
	patchCmd.Flags().BoolVar(&patchWhitelist, "whitelist", false, "use the fixed whitelist generator instead of the tree walk")
	patchCmd.Flags().StringSliceVar(&patchTargets, "targets", nil, "whitelist prefixes to touch (default: all)")
	patchCmd.Flags().BoolVar(&patchApply, "apply", false, "apply the patch and validate the result")
	patchCmd.Flags().StringVarP(&patchOut, "out", "o", "", "write the patched document here (implies --apply)")

	validateCmd.Flags().StringVar(&validateVersion, "schema-version", schema.DefaultVersion, "bundled schema version")
}

var paletteCmd = &cobra.Command{
	Use:   "palette <image-file|url>",
	Short: "Extract a palette from an image",
	Long:  "Extract a role-assigned palette from a PNG, JPEG or WebP image. Failures fall back to the default palette and say why.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		result, err := extractPalette(ctx, args[0], paletteMode)
		if err != nil {
			return err
		}
		return writePalette(cmd.OutOrStdout(), result)
	},
}

var patchCmd = &cobra.Command{
	Use:   "patch <theme.json|->",
	Short: "Generate a recoloring patch for a theme document",
	Long:  "Generate replace operations that recolor a theme document with a palette file or an image, and optionally apply and validate them.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if (patchPalettePath == "") == (patchImage == "") {
			return fmt.Errorf("exactly one of --palette and --image is required")
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		doc, err := readDocument(cmd.InOrStdin(), args[0])
		if err != nil {
			return err
		}

		var result palette.Result
		if patchPalettePath != "" {
			p, err := readPalette(patchPalettePath)
			if err != nil {
				return err
			}
			result = palette.Extracted(p)
		} else {
			result, err = extractPalette(ctx, patchImage, patchMode)
			if err != nil {
				return err
			}
			if result.Degraded() {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: default palette used: %s\n", result.Reason)
			}
		}

		var ops []models.Operation
		if patchWhitelist {
			ops = patch.BuildVisionOps(result.Palette, doc, patchTargets, patch.DefaultRules())
		} else {
			ops = patch.GeneratePatch(result.Palette, doc, patchAllow, patchFont)
		}

		if !patchApply && patchOut == "" {
			return writeOps(cmd.OutOrStdout(), ops)
		}
		return applyOps(cmd.OutOrStdout(), doc, ops)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate <theme.json|->",
	Short: "Validate a theme document against a bundled schema",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := readDocument(cmd.InOrStdin(), args[0])
		if err != nil {
			return err
		}
		compiled, err := bundledSchema(validateVersion)
		if err != nil {
			return err
		}
		errs := compiled.Validate(doc)
		if err := writeFieldErrors(cmd.OutOrStdout(), errs); err != nil {
			return err
		}
		if len(errs) > 0 {
			return fmt.Errorf("%w: %d errors", errRejected, len(errs))
		}
		return nil
	},
}

func applyOps(out io.Writer, doc models.Document, ops []models.Operation) error {
	compiled, err := bundledSchema(schema.DefaultVersion)
	if err != nil {
		return err
	}
	applied := patch.ApplyAndValidate(doc, ops, compiled)
	if !applied.OK {
		if err := writeFieldErrors(out, applied.Errors); err != nil {
			return err
		}
		return fmt.Errorf("%w: %d errors", errRejected, len(applied.Errors))
	}

	if patchOut == "" {
		return writeJSON(out, applied.Document)
	}
	raw, err := json.MarshalIndent(applied.Document, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := os.WriteFile(patchOut, append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", patchOut, err)
	}
	fmt.Fprintf(out, "Applied %d operations to %s\n", len(ops), patchOut)
	return nil
}

func extractPalette(ctx context.Context, source, mode string) (palette.Result, error) {
	var useVision bool
	switch mode {
	case "", "kmeans":
	case "vision":
		useVision = true
	default:
		return palette.Result{}, fmt.Errorf("--mode must be kmeans or vision")
	}

	extractor := palette.NewExtractor(palette.DefaultConfig(), nil, visionModel())
	if isURL(source) {
		if useVision {
			return extractor.ExtractWithVision(ctx, source), nil
		}
		return extractor.Extract(ctx, source), nil
	}

	data, err := os.ReadFile(source)
	if err != nil {
		return palette.Result{}, fmt.Errorf("read image: %w", err)
	}
	if useVision {
		return extractor.ExtractBytesWithVision(ctx, data), nil
	}
	return extractor.ExtractBytes(ctx, data), nil
}

// visionModel returns nil unless LLM_API_KEY is set.
func visionModel() palette.VisionModel {
	apiKey := os.Getenv("LLM_API_KEY")
	if apiKey == "" {
		return nil
	}
	model := os.Getenv("LLM_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
	}
	client, err := llm.NewClient(llm.Config{
		APIKey:      apiKey,
		BaseURL:     os.Getenv("LLM_BASE_URL"),
		Model:       model,
		VisionModel: os.Getenv("LLM_VISION_MODEL"),
	})
	if err != nil {
		return nil
	}
	return client
}

func isURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

func readDocument(stdin io.Reader, path string) (models.Document, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read theme document: %w", err)
	}
	var doc models.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode theme document: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("theme document must be a JSON object")
	}
	return doc, nil
}

func readPalette(path string) (models.Palette, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return models.Palette{}, fmt.Errorf("read palette: %w", err)
	}
	var p models.Palette
	if err := json.Unmarshal(raw, &p); err != nil {
		return models.Palette{}, fmt.Errorf("decode palette: %w", err)
	}
	if err := p.Validate(); err != nil {
		return models.Palette{}, fmt.Errorf("palette: %w", err)
	}
	return p.Normalized(), nil
}

func bundledSchema(version string) (*schema.Schema, error) {
	bundled, err := schema.Bundled()
	if err != nil {
		return nil, err
	}
	src, ok := bundled[version]
	if !ok {
		return nil, fmt.Errorf("no bundled schema for version %q", version)
	}
	return schema.Compile(version, src)
}
