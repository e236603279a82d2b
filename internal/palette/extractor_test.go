package palette

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/codr1/skinforge/internal/models"
)

type band struct {
	until int
	c     color.Color
}

// bandedImage paints horizontal bands; each band runs to the given row.
func bandedImage(width, height int, bands ...band) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		c := bands[len(bands)-1].c
		for _, b := range bands {
			if y < b.until {
				c = b.c
				break
			}
		}
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func walletImage() *image.RGBA {
	return bandedImage(100, 100,
		band{until: 70, c: color.RGBA{0x0E, 0x10, 0x16, 0xFF}},
		band{until: 90, c: color.RGBA{0x7C, 0x3A, 0xED, 0xFF}},
		band{until: 100, c: color.RGBA{0xFF, 0xFF, 0xFF, 0xFF}},
	)
}

func assertContrast(t *testing.T, p models.Palette) {
	t.Helper()
	ratio, err := models.ContrastRatio(p.Foreground, p.Background)
	if err != nil {
		t.Fatalf("contrast: %v", err)
	}
	if ratio < models.MinTextContrastRatio && p.Foreground != models.BlackHex && p.Foreground != models.WhiteHex {
		t.Fatalf("foreground %s on %s has contrast %.2f", p.Foreground, p.Background, ratio)
	}
}

func TestClassifyFormat(t *testing.T) {
	var jpg bytes.Buffer
	if err := jpeg.Encode(&jpg, walletImage(), nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}

	tests := []struct {
		name string
		data []byte
		want Format
	}{
		{name: "png", data: encodePNG(t, walletImage()), want: FormatPNG},
		{name: "jpeg", data: jpg.Bytes(), want: FormatJPEG},
		{name: "webp", data: []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), want: FormatWebP},
		{name: "gif", data: []byte("GIF89a"), want: FormatUnknown},
		{name: "empty", data: nil, want: FormatUnknown},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := ClassifyFormat(test.data); got != test.want {
				t.Fatalf("ClassifyFormat() = %q, want %q", got, test.want)
			}
		})
	}
}

func TestExtractBytesAssignsRoles(t *testing.T) {
	extractor := NewExtractor(DefaultConfig(), nil, nil)

	result := extractor.ExtractBytes(context.Background(), encodePNG(t, walletImage()))
	if result.Degraded() {
		t.Fatalf("unexpected fallback: %s", result.Reason)
	}
	p := result.Palette
	if p.Background != "#0E1016" {
		t.Fatalf("background = %s, want #0E1016", p.Background)
	}
	if p.Foreground != "#FFFFFF" {
		t.Fatalf("foreground = %s, want #FFFFFF", p.Foreground)
	}
	if p.Primary != "#7C3AED" {
		t.Fatalf("primary = %s, want #7C3AED", p.Primary)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("extracted palette invalid: %v", err)
	}
	assertContrast(t, p)
}

func TestExtractBytesJPEG(t *testing.T) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, walletImage(), &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}

	result := NewExtractor(DefaultConfig(), nil, nil).ExtractBytes(context.Background(), buf.Bytes())
	if result.Degraded() {
		t.Fatalf("unexpected fallback: %s", result.Reason)
	}
	assertContrast(t, result.Palette)
}

func TestExtractBytesForcesReadableForeground(t *testing.T) {
	gray := bandedImage(40, 40, band{until: 40, c: color.RGBA{0x77, 0x77, 0x77, 0xFF}})

	result := NewExtractor(DefaultConfig(), nil, nil).ExtractBytes(context.Background(), encodePNG(t, gray))
	if result.Degraded() {
		t.Fatalf("unexpected fallback: %s", result.Reason)
	}
	if result.Palette.Foreground != models.BlackHex && result.Palette.Foreground != models.WhiteHex {
		t.Fatalf("foreground = %s, want forced black or white", result.Palette.Foreground)
	}
	assertContrast(t, result.Palette)
}

func TestExtractBytesFallbacks(t *testing.T) {
	transparent := image.NewRGBA(image.Rect(0, 0, 10, 10))

	tests := []struct {
		name string
		data []byte
	}{
		{name: "garbage", data: []byte("not an image at all")},
		{name: "truncated_png", data: encodePNG(t, walletImage())[:40]},
		{name: "transparent", data: encodePNG(t, transparent)},
	}
	extractor := NewExtractor(DefaultConfig(), nil, nil)
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := extractor.ExtractBytes(context.Background(), test.data)
			if !result.Degraded() {
				t.Fatalf("expected fallback")
			}
			if result.Palette != models.DefaultPalette() {
				t.Fatalf("fallback palette = %+v, want default", result.Palette)
			}
			if result.Reason == "" {
				t.Fatalf("fallback without reason")
			}
		})
	}
}

func TestExtractFetchesOverHTTP(t *testing.T) {
	pngBytes := encodePNG(t, walletImage())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/wallet.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write(pngBytes)
		case "/broken.png":
			w.Write([]byte("<html>nope</html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	extractor := NewExtractor(DefaultConfig(), srv.Client(), nil)

	if result := extractor.Extract(context.Background(), srv.URL+"/wallet.png"); result.Degraded() {
		t.Fatalf("unexpected fallback: %s", result.Reason)
	}

	for _, path := range []string{"/missing.png", "/broken.png"} {
		if result := extractor.Extract(context.Background(), srv.URL+path); !result.Degraded() {
			t.Fatalf("%s: expected fallback", path)
		}
	}

	if result := extractor.Extract(context.Background(), "ftp://example.com/a.png"); !result.Degraded() {
		t.Fatalf("expected fallback for ftp url")
	}

	small := DefaultConfig()
	small.MaxImageBytes = 16
	if result := NewExtractor(small, srv.Client(), nil).Extract(context.Background(), srv.URL+"/wallet.png"); !result.Degraded() {
		t.Fatalf("expected fallback for oversized image")
	}
}

func TestSamplePixelsIsBounded(t *testing.T) {
	img := walletImage()
	samples := samplePixels(img, 1000)
	if len(samples) == 0 || len(samples) > 1000 {
		t.Fatalf("sample count = %d, want 1..1000", len(samples))
	}

	tiny := bandedImage(3, 3, band{until: 3, c: color.White})
	if got := len(samplePixels(tiny, 1000)); got != 9 {
		t.Fatalf("tiny image sample count = %d, want 9", got)
	}
}

func TestKMeansKeepsSeedsForEmptyClusters(t *testing.T) {
	samples := []rgb{{0, 0, 0}, {0, 0, 0}, {255, 255, 255}}
	centroids := kmeans(samples, 5, 4)
	if len(centroids) != 3 {
		t.Fatalf("centroids = %d, want k capped at sample count", len(centroids))
	}
	if kmeans(nil, 5, 4) != nil {
		t.Fatalf("expected nil centroids for no samples")
	}
}

type fakeVision struct {
	text string
	err  error
	refs []string
}

func (f *fakeVision) PaletteFromImage(ctx context.Context, imageRef string) (string, error) {
	f.refs = append(f.refs, imageRef)
	return f.text, f.err
}

func TestExtractWithVision(t *testing.T) {
	tests := []struct {
		name     string
		vision   *fakeVision
		degraded bool
		wantBg   string
	}{
		{
			name:   "fenced_json",
			vision: &fakeVision{text: "Here you go:\n```json\n{\"bg\":\"#0e1016\",\"fg\":\"#fff\",\"primary\":\"#7C3AED\",\"accent1\":\"#22D3EE\",\"accent2\":\"#F472B6\",\"neutral\":\"#1F2430\"}\n```"},
			wantBg: "#0E1016",
		},
		{
			name:     "missing_slot",
			vision:   &fakeVision{text: `{"bg":"#0E1016","fg":"#FFFFFF","primary":"#7C3AED","accent1":"#22D3EE","accent2":"#F472B6"}`},
			degraded: true,
		},
		{
			name:     "malformed_slot",
			vision:   &fakeVision{text: `{"bg":"navy","fg":"#FFFFFF","primary":"#7C3AED","accent1":"#22D3EE","accent2":"#F472B6","neutral":"#1F2430"}`},
			degraded: true,
		},
		{
			name:     "not_json",
			vision:   &fakeVision{text: "I cannot see the image."},
			degraded: true,
		},
		{
			name:     "model_error",
			vision:   &fakeVision{err: errors.New("timeout")},
			degraded: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			extractor := NewExtractor(DefaultConfig(), nil, test.vision)
			result := extractor.ExtractWithVision(context.Background(), "https://cdn.example.com/skin.png")
			if result.Degraded() != test.degraded {
				t.Fatalf("degraded = %t, want %t (reason %q)", result.Degraded(), test.degraded, result.Reason)
			}
			if test.degraded {
				if result.Palette != models.DefaultPalette() {
					t.Fatalf("expected default palette on fallback")
				}
				return
			}
			if result.Palette.Background != test.wantBg {
				t.Fatalf("background = %s, want %s", result.Palette.Background, test.wantBg)
			}
			if result.Palette.Foreground != "#FFFFFF" {
				t.Fatalf("foreground = %s, want normalized #FFFFFF", result.Palette.Foreground)
			}
		})
	}
}

func TestExtractBytesWithVisionSendsDataURL(t *testing.T) {
	vision := &fakeVision{text: `{"bg":"#0E1016","fg":"#FFFFFF","primary":"#7C3AED","accent1":"#22D3EE","accent2":"#F472B6","neutral":"#1F2430"}`}
	extractor := NewExtractor(DefaultConfig(), nil, vision)

	result := extractor.ExtractBytesWithVision(context.Background(), encodePNG(t, walletImage()))
	if result.Degraded() {
		t.Fatalf("unexpected fallback: %s", result.Reason)
	}
	if len(vision.refs) != 1 || !strings.HasPrefix(vision.refs[0], "data:image/png;base64,") {
		t.Fatalf("vision refs = %v", vision.refs)
	}

	if result := NewExtractor(DefaultConfig(), nil, nil).ExtractWithVision(context.Background(), "https://x.test/a.png"); !result.Degraded() {
		t.Fatalf("expected fallback without vision model")
	}
}
