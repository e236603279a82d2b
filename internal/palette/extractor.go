package palette

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/webp"

	"github.com/codr1/skinforge/internal/llm"
	"github.com/codr1/skinforge/internal/models"
)

type Format string

const (
	FormatUnknown Format = ""
	FormatPNG     Format = "png"
	FormatJPEG    Format = "jpeg"
	FormatWebP    Format = "webp"
)

var (
	errUnsupportedScheme = errors.New("image url must be http or https")
	errImageTooLarge     = errors.New("image exceeds size limit")
	errNoOpaquePixels    = errors.New("image has no opaque pixels")
)

// VisionModel describes an image as a JSON palette.
type VisionModel interface {
	PaletteFromImage(ctx context.Context, imageRef string) (string, error)
}

type Config struct {
	FetchTimeout      time.Duration
	MaxImageBytes     int64
	MaxImagePixels    int
	SampleCap         int
	Clusters          int
	Iterations        int
	AccentMinDistance float64
}

func DefaultConfig() Config {
	return Config{
		FetchTimeout:      10 * time.Second,
		MaxImageBytes:     15 << 20,
		MaxImagePixels:    25_000_000,
		SampleCap:         1000,
		Clusters:          5,
		Iterations:        8,
		AccentMinDistance: 60,
	}
}

type Extractor struct {
	cfg    Config
	client *http.Client
	vision VisionModel
}

// NewExtractor builds an extractor. vision may be nil, in which case vision
// extraction always falls back.
func NewExtractor(cfg Config, client *http.Client, vision VisionModel) *Extractor {
	defaults := DefaultConfig()
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaults.FetchTimeout
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = defaults.MaxImageBytes
	}
	if cfg.MaxImagePixels <= 0 {
		cfg.MaxImagePixels = defaults.MaxImagePixels
	}
	if cfg.SampleCap <= 0 {
		cfg.SampleCap = defaults.SampleCap
	}
	if cfg.Clusters <= 0 {
		cfg.Clusters = defaults.Clusters
	}
	if cfg.Iterations <= 0 {
		cfg.Iterations = defaults.Iterations
	}
	if cfg.AccentMinDistance <= 0 {
		cfg.AccentMinDistance = defaults.AccentMinDistance
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.FetchTimeout}
	}
	return &Extractor{cfg: cfg, client: client, vision: vision}
}

// Extract fetches imageURL and clusters its pixels into a palette.
func (e *Extractor) Extract(ctx context.Context, imageURL string) Result {
	data, err := e.fetch(ctx, imageURL)
	if err != nil {
		return e.fallback(ctx, "fetch image", err)
	}
	return e.ExtractBytes(ctx, data)
}

// ExtractBytes clusters the pixels of an in-memory PNG, JPEG or WebP image.
func (e *Extractor) ExtractBytes(ctx context.Context, data []byte) Result {
	samples, err := e.sample(data)
	if err != nil {
		return e.fallback(ctx, "decode image", err)
	}
	centroids := kmeans(samples, e.cfg.Clusters, e.cfg.Iterations)
	p := assignRoles(centroids, e.cfg.AccentMinDistance)
	log.Ctx(ctx).Debug().
		Int("samples", len(samples)).
		Int("clusters", len(centroids)).
		Str("bg", p.Background).
		Str("fg", p.Foreground).
		Str("primary", p.Primary).
		Msg("Palette extracted")
	return Extracted(p)
}

// ExtractWithVision asks the vision model for a palette. Any missing or
// malformed role discards the whole answer.
func (e *Extractor) ExtractWithVision(ctx context.Context, imageURL string) Result {
	if _, err := checkImageURL(imageURL); err != nil {
		return e.fallback(ctx, "vision palette", err)
	}
	return e.describe(ctx, imageURL)
}

// ExtractBytesWithVision sends the image inline as a data URL.
func (e *Extractor) ExtractBytesWithVision(ctx context.Context, data []byte) Result {
	format := ClassifyFormat(data)
	if format == FormatUnknown {
		return e.fallback(ctx, "vision palette", fmt.Errorf("unrecognized image format"))
	}
	ref := "data:image/" + string(format) + ";base64," + base64.StdEncoding.EncodeToString(data)
	return e.describe(ctx, ref)
}

func (e *Extractor) describe(ctx context.Context, imageRef string) Result {
	if e.vision == nil {
		return e.fallback(ctx, "vision palette", fmt.Errorf("vision model not configured"))
	}
	text, err := e.vision.PaletteFromImage(ctx, imageRef)
	if err != nil {
		return e.fallback(ctx, "vision palette", err)
	}
	p, err := ParseVisionPalette(text)
	if err != nil {
		return e.fallback(ctx, "vision palette", err)
	}
	return Extracted(p)
}

// ParseVisionPalette validates a model answer holding all six roles.
func ParseVisionPalette(text string) (models.Palette, error) {
	raw, err := llm.ExtractJSONObject(text)
	if err != nil {
		return models.Palette{}, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return models.Palette{}, fmt.Errorf("parse vision palette: %w", err)
	}

	role := func(name string) string {
		value, _ := fields[name].(string)
		return value
	}
	p := models.Palette{
		Background: role("bg"),
		Foreground: role("fg"),
		Primary:    role("primary"),
		Accent1:    role("accent1"),
		Accent2:    role("accent2"),
		Neutral:    role("neutral"),
		Font:       role("font"),
	}
	if err := p.Validate(); err != nil {
		return models.Palette{}, fmt.Errorf("vision palette rejected: %w", err)
	}
	return p.Normalized(), nil
}

func (e *Extractor) fallback(ctx context.Context, stage string, err error) Result {
	reason := fmt.Sprintf("%s: %v", stage, err)
	log.Ctx(ctx).Warn().Err(err).Str("stage", stage).Msg("Palette extraction fell back to default palette")
	return Fallback(reason)
}

func checkImageURL(raw string) (*url.URL, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid image url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, errUnsupportedScheme
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("image url has no host")
	}
	return parsed, nil
}

func (e *Extractor) fetch(ctx context.Context, imageURL string) ([]byte, error) {
	parsed, err := checkImageURL(imageURL)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "image/png, image/jpeg, image/webp")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("get image: unexpected status %d", resp.StatusCode)
	}
	if resp.ContentLength > e.cfg.MaxImageBytes {
		return nil, errImageTooLarge
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, e.cfg.MaxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if int64(len(data)) > e.cfg.MaxImageBytes {
		return nil, errImageTooLarge
	}
	return data, nil
}

// ClassifyFormat sniffs the container format from magic bytes.
func ClassifyFormat(data []byte) Format {
	switch {
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return FormatPNG
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return FormatJPEG
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return FormatWebP
	default:
		return FormatUnknown
	}
}

func (e *Extractor) sample(data []byte) ([]rgb, error) {
	format := ClassifyFormat(data)

	var decodeConfig func(io.Reader) (image.Config, error)
	var decode func(io.Reader) (image.Image, error)
	switch format {
	case FormatPNG:
		decodeConfig, decode = png.DecodeConfig, png.Decode
	case FormatJPEG:
		decodeConfig, decode = jpeg.DecodeConfig, jpeg.Decode
	case FormatWebP:
		decodeConfig, decode = webp.DecodeConfig, webp.Decode
	default:
		return nil, fmt.Errorf("unrecognized image format")
	}

	imgCfg, err := decodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("read %s header: %w", format, err)
	}
	if imgCfg.Width <= 0 || imgCfg.Height <= 0 {
		return nil, fmt.Errorf("image has no pixels")
	}
	if imgCfg.Width*imgCfg.Height > e.cfg.MaxImagePixels {
		return nil, errImageTooLarge
	}

	img, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", format, err)
	}

	samples := samplePixels(img, e.cfg.SampleCap)
	if len(samples) == 0 {
		return nil, errNoOpaquePixels
	}
	return samples, nil
}

// samplePixels walks a regular grid so that at most limit pixels are read.
func samplePixels(img image.Image, limit int) []rgb {
	bounds := img.Bounds()
	total := bounds.Dx() * bounds.Dy()
	if total <= 0 || limit <= 0 {
		return nil
	}
	step := 1
	for (bounds.Dx()/step)*(bounds.Dy()/step) > limit {
		step++
	}

	samples := make([]rgb, 0, limit)
	for y := bounds.Min.Y + step/2; y < bounds.Max.Y; y += step {
		for x := bounds.Min.X + step/2; x < bounds.Max.X; x += step {
			if len(samples) >= limit {
				return samples
			}
			c, ok := colorful.MakeColor(img.At(x, y))
			if !ok {
				continue
			}
			samples = append(samples, rgbFromColor(c))
		}
	}
	return samples
}
