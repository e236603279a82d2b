package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/codr1/skinforge/internal/db"
	"github.com/codr1/skinforge/internal/models"
	"github.com/codr1/skinforge/internal/palette"
	"github.com/codr1/skinforge/internal/patch"
	"github.com/codr1/skinforge/internal/schema"
)

const lockTheme = `{
	"lockLayer": {"backgroundColor": "#111111", "unlockButton": {"backgroundColor": "#222222", "textColor": "#ffffff"}},
	"homeLayer": {"backgroundColor": "#333333", "header": {"textColor": "#eeeeee"}}
}`

type memoryStore struct {
	mu     sync.Mutex
	docs   map[string]models.StoredTheme
	log    []db.PatchAudit
	saves  int
	getErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{docs: map[string]models.StoredTheme{}}
}

func (m *memoryStore) put(t *testing.T, userID, raw string) {
	t.Helper()
	var doc models.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	m.docs[userID] = models.StoredTheme{UserID: userID, Data: doc, Version: 1, SchemaVersion: schema.DefaultVersion}
}

func (m *memoryStore) GetDocument(ctx context.Context, userID string) (models.StoredTheme, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return models.StoredTheme{}, m.getErr
	}
	stored, ok := m.docs[userID]
	if !ok {
		return models.StoredTheme{}, db.ErrDocumentNotFound
	}
	clone, _ := stored.Data.Clone()
	stored.Data = clone
	return stored, nil
}

func (m *memoryStore) CreateDocument(ctx context.Context, userID string, data models.Document, schemaVersion string) (models.StoredTheme, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[userID]; ok {
		return models.StoredTheme{}, db.ErrDocumentExists
	}
	stored := models.StoredTheme{UserID: userID, Data: data, Version: 1, SchemaVersion: schemaVersion}
	m.docs[userID] = stored
	return stored, nil
}

func (m *memoryStore) SaveDocument(ctx context.Context, userID string, data models.Document, readVersion int64, schemaVersion string, audit db.PatchAudit) (models.StoredTheme, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.docs[userID]
	if !ok {
		return models.StoredTheme{}, db.ErrDocumentNotFound
	}
	if stored.Version != readVersion {
		return models.StoredTheme{}, db.ErrVersionConflict
	}
	stored.Data = data
	stored.Version++
	stored.SchemaVersion = schemaVersion
	m.docs[userID] = stored
	m.log = append(m.log, audit)
	m.saves++
	return stored, nil
}

func (m *memoryStore) ListPatchLog(ctx context.Context, userID string, limit int) ([]db.PatchLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []db.PatchLogEntry
	for i := len(m.log) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, db.PatchLogEntry{Source: m.log[i].Source, Patch: m.log[i].Patch})
	}
	return out, nil
}

type fakeExtractor struct {
	result palette.Result
	urls   []string
	vision bool
}

func (f *fakeExtractor) Extract(ctx context.Context, imageURL string) palette.Result {
	f.urls = append(f.urls, imageURL)
	return f.result
}

func (f *fakeExtractor) ExtractBytes(ctx context.Context, data []byte) palette.Result {
	return f.result
}

func (f *fakeExtractor) ExtractWithVision(ctx context.Context, imageURL string) palette.Result {
	f.vision = true
	f.urls = append(f.urls, imageURL)
	return f.result
}

func (f *fakeExtractor) ExtractBytesWithVision(ctx context.Context, data []byte) palette.Result {
	f.vision = true
	return f.result
}

type fakePrompts struct {
	result patch.GenerateResult
}

func (f *fakePrompts) Generate(ctx context.Context, prompt string, doc models.Document, targetPath string) patch.GenerateResult {
	return f.result
}

func newTestService(t *testing.T, store *memoryStore, extractor *fakeExtractor, prompts *fakePrompts) *Service {
	t.Helper()
	return newConfiguredService(t, Config{QueryTimeout: time.Second}, store, extractor, prompts)
}

func newConfiguredService(t *testing.T, cfg Config, store *memoryStore, extractor *fakeExtractor, prompts *fakePrompts) *Service {
	t.Helper()
	bundled, err := schema.Bundled()
	if err != nil {
		t.Fatalf("Bundled() error = %v", err)
	}
	cache := schema.NewCache(func(ctx context.Context, version string) ([]byte, error) {
		src, ok := bundled[version]
		if !ok {
			return nil, db.ErrSchemaNotFound
		}
		return src, nil
	})
	if extractor == nil {
		extractor = &fakeExtractor{result: palette.Extracted(models.DefaultPalette())}
	}
	if prompts == nil {
		prompts = &fakePrompts{}
	}
	return NewService(cfg, store, cache, extractor, prompts)
}

func defaultPalette() *models.Palette {
	p := models.DefaultPalette()
	return &p
}

func TestPatchFromPaletteCommits(t *testing.T) {
	store := newMemoryStore()
	store.put(t, "user-1", lockTheme)
	svc := newTestService(t, store, nil, nil)

	outcome, err := svc.PatchFromPalette(context.Background(), "user-1", PaletteRequest{
		Palette:       defaultPalette(),
		AllowPrefixes: []string{"/lockLayer"},
	})
	if err != nil {
		t.Fatalf("PatchFromPalette() error = %v", err)
	}
	if !outcome.Valid || outcome.Stage != StageCommitted {
		t.Fatalf("outcome = %+v", outcome)
	}
	if len(outcome.Patch) != 2 || outcome.Version != 2 {
		t.Fatalf("patch = %+v, version = %d", outcome.Patch, outcome.Version)
	}
	if outcome.PaletteSource != palette.SourceExtracted {
		t.Fatalf("palette source = %q", outcome.PaletteSource)
	}
	if value, _ := outcome.Theme.Lookup("/lockLayer/unlockButton/backgroundColor"); value != "#7C3AED" {
		t.Fatalf("button = %v", value)
	}
	if value, _ := outcome.Theme.Lookup("/homeLayer/backgroundColor"); value != "#333333" {
		t.Fatalf("allow-list escaped: %v", value)
	}
	if len(store.log) != 1 || store.log[0].Source != SourcePalette {
		t.Fatalf("audit = %+v", store.log)
	}

	again, err := svc.PatchFromPalette(context.Background(), "user-1", PaletteRequest{
		Palette:       defaultPalette(),
		AllowPrefixes: []string{"/lockLayer"},
	})
	if err != nil {
		t.Fatalf("second PatchFromPalette() error = %v", err)
	}
	if again.Stage != StageNoop || again.Message != MessageNoChanges || len(again.Patch) != 0 {
		t.Fatalf("second outcome = %+v, want noop", again)
	}
	if store.saves != 1 {
		t.Fatalf("saves = %d, want 1", store.saves)
	}
}

func TestPatchFromPaletteImageFallback(t *testing.T) {
	store := newMemoryStore()
	store.put(t, "user-1", lockTheme)
	extractor := &fakeExtractor{result: palette.Fallback("fetch image: status 404")}
	svc := newTestService(t, store, extractor, nil)

	outcome, err := svc.PatchFromPalette(context.Background(), "user-1", PaletteRequest{ImageURL: "https://cdn.test/x.png"})
	if err != nil {
		t.Fatalf("PatchFromPalette() error = %v", err)
	}
	if outcome.PaletteSource != palette.SourceFallback || outcome.Message == "" {
		t.Fatalf("outcome = %+v, want fallback with message", outcome)
	}
	if len(extractor.urls) != 1 || extractor.vision {
		t.Fatalf("extractor calls = %v vision=%t", extractor.urls, extractor.vision)
	}
}

func TestPatchFromPaletteValidation(t *testing.T) {
	store := newMemoryStore()
	store.put(t, "user-1", lockTheme)
	svc := newTestService(t, store, nil, nil)
	bad := models.Palette{Background: "navy"}

	tests := []struct {
		name   string
		userID string
		req    PaletteRequest
	}{
		{name: "both", userID: "user-1", req: PaletteRequest{Palette: defaultPalette(), ImageURL: "https://x.test/a.png"}},
		{name: "neither", userID: "user-1", req: PaletteRequest{}},
		{name: "bad_palette", userID: "user-1", req: PaletteRequest{Palette: &bad}},
		{name: "bad_mode", userID: "user-1", req: PaletteRequest{ImageURL: "https://x.test/a.png", Mode: "magic"}},
		{name: "bad_user", userID: "../etc", req: PaletteRequest{Palette: defaultPalette()}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := svc.PatchFromPalette(context.Background(), test.userID, test.req)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("err = %v, want ErrInvalidRequest", err)
			}
		})
	}

	if _, err := svc.PatchFromPalette(context.Background(), "user-9", PaletteRequest{Palette: defaultPalette()}); !errors.Is(err, db.ErrDocumentNotFound) {
		t.Fatalf("err = %v, want ErrDocumentNotFound", err)
	}
}

func TestStaleVersionIsRejected(t *testing.T) {
	store := newMemoryStore()
	store.put(t, "user-1", lockTheme)
	svc := newTestService(t, store, nil, nil)

	_, err := svc.PatchFromPalette(context.Background(), "user-1", PaletteRequest{Palette: defaultPalette(), Version: 7})
	if !errors.Is(err, db.ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}
	if store.saves != 0 {
		t.Fatalf("store written despite conflict")
	}
}

func TestPatchFromVision(t *testing.T) {
	store := newMemoryStore()
	store.put(t, "user-1", lockTheme)
	extractor := &fakeExtractor{result: palette.Extracted(models.DefaultPalette())}
	svc := newTestService(t, store, extractor, nil)

	outcome, err := svc.PatchFromVision(context.Background(), "user-1", VisionRequest{ImageURL: "https://cdn.test/skin.png"})
	if err != nil {
		t.Fatalf("PatchFromVision() error = %v", err)
	}
	if !extractor.vision {
		t.Fatalf("vision extraction not used")
	}
	if outcome.Stage != StageCommitted || len(outcome.Patch) == 0 {
		t.Fatalf("outcome = %+v", outcome)
	}

	none, err := svc.PatchFromVision(context.Background(), "user-1", VisionRequest{Palette: defaultPalette(), Targets: []string{"/swapLayer"}})
	if err != nil {
		t.Fatalf("PatchFromVision() error = %v", err)
	}
	if none.Stage != StageNoop || none.Message != MessageNoChangesPossible {
		t.Fatalf("outcome = %+v, want no changes possible", none)
	}
}

func TestPatchFromPromptMalformedModelOutput(t *testing.T) {
	store := newMemoryStore()
	store.put(t, "user-1", lockTheme)
	prompts := &fakePrompts{result: patch.GenerateResult{Ops: []models.Operation{}, Reason: "model response was not a valid patch"}}
	svc := newTestService(t, store, nil, prompts)

	outcome, err := svc.PatchFromPrompt(context.Background(), "user-1", PromptRequest{Prompt: "make it pop"})
	if err != nil {
		t.Fatalf("PatchFromPrompt() error = %v", err)
	}
	if outcome.Stage != StageNoop || len(outcome.Patch) != 0 {
		t.Fatalf("outcome = %+v", outcome)
	}
	if outcome.Message != MessageNoChanges+": model response was not a valid patch" {
		t.Fatalf("message = %q", outcome.Message)
	}
	if store.saves != 0 {
		t.Fatalf("store touched on malformed output")
	}

	if _, err := svc.PatchFromPrompt(context.Background(), "user-1", PromptRequest{Prompt: "  "}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
}

func TestPatchFromPromptRejectedBySchema(t *testing.T) {
	store := newMemoryStore()
	store.put(t, "user-1", lockTheme)
	prompts := &fakePrompts{result: patch.GenerateResult{Ops: []models.Operation{
		models.Replace("/lockLayer/backgroundColor", "not-a-color"),
	}}}
	svc := newTestService(t, store, nil, prompts)

	outcome, err := svc.PatchFromPrompt(context.Background(), "user-1", PromptRequest{Prompt: "x", TargetPath: "/lockLayer/backgroundColor"})
	if err != nil {
		t.Fatalf("PatchFromPrompt() error = %v", err)
	}
	if !outcome.Rejected() || outcome.Valid || len(outcome.Errors) == 0 {
		t.Fatalf("outcome = %+v, want rejected", outcome)
	}
	if outcome.Errors[0].Path != "/lockLayer/backgroundColor" {
		t.Fatalf("errors = %+v", outcome.Errors)
	}
	stored, _ := store.GetDocument(context.Background(), "user-1")
	if value, _ := stored.Data.Lookup("/lockLayer/backgroundColor"); value != "#111111" || stored.Version != 1 {
		t.Fatalf("store modified after rejection: %v v%d", value, stored.Version)
	}
}

func TestApplyPatch(t *testing.T) {
	store := newMemoryStore()
	store.put(t, "user-1", lockTheme)
	svc := newTestService(t, store, nil, nil)

	outcome, err := svc.ApplyPatch(context.Background(), "user-1", []models.Operation{models.Replace("/homeLayer/backgroundColor", "#000000")}, 1)
	if err != nil {
		t.Fatalf("ApplyPatch() error = %v", err)
	}
	if outcome.Stage != StageCommitted || outcome.Version != 2 {
		t.Fatalf("outcome = %+v", outcome)
	}

	missing, err := svc.ApplyPatch(context.Background(), "user-1", []models.Operation{models.Replace("/nope/backgroundColor", "#000000")}, 0)
	if err != nil {
		t.Fatalf("ApplyPatch() error = %v", err)
	}
	if !missing.Rejected() {
		t.Fatalf("outcome = %+v, want rejected", missing)
	}

	if _, err := svc.ApplyPatch(context.Background(), "user-1", []models.Operation{models.Replace("/homeLayer/backgroundColor", "#FFFFFF")}, 1); !errors.Is(err, db.ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}
	if _, err := svc.ApplyPatch(context.Background(), "user-1", nil, 2); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
}

func TestPutDocument(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(t, store, nil, nil)

	var doc models.Document
	if err := json.Unmarshal([]byte(lockTheme), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}

	created, err := svc.PutDocument(context.Background(), "user-1", doc, 0)
	if err != nil {
		t.Fatalf("PutDocument() error = %v", err)
	}
	if created.Stage != StageCommitted || created.Version != 1 {
		t.Fatalf("created = %+v", created)
	}

	if _, err := svc.PutDocument(context.Background(), "user-1", doc, 0); !errors.Is(err, db.ErrDocumentExists) {
		t.Fatalf("err = %v, want ErrDocumentExists", err)
	}

	replaced, err := svc.PutDocument(context.Background(), "user-1", doc, 1)
	if err != nil || replaced.Version != 2 {
		t.Fatalf("replace = %+v, %v", replaced, err)
	}

	invalidDoc := models.Document{"lockLayer": map[string]any{"backgroundColor": "blue"}}
	rejected, err := svc.PutDocument(context.Background(), "user-2", invalidDoc, 0)
	if err != nil {
		t.Fatalf("PutDocument() error = %v", err)
	}
	if !rejected.Rejected() || len(rejected.Errors) < 2 {
		t.Fatalf("rejected = %+v, want color and required-layer errors", rejected)
	}
	if _, ok := store.docs["user-2"]; ok {
		t.Fatalf("invalid document stored")
	}
}

func TestExtractPalette(t *testing.T) {
	extractor := &fakeExtractor{result: palette.Extracted(models.DefaultPalette())}
	svc := newTestService(t, newMemoryStore(), extractor, nil)

	if _, err := svc.ExtractPalette(context.Background(), "", ModeKMeans); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
	result, err := svc.ExtractPalette(context.Background(), "https://cdn.test/a.png", ModeVision)
	if err != nil || result.Degraded() || !extractor.vision {
		t.Fatalf("result = %+v, err = %v", result, err)
	}
	if _, err := svc.ExtractPaletteBytes(context.Background(), nil, ModeKMeans); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
}

func TestHistory(t *testing.T) {
	store := newMemoryStore()
	store.put(t, "user-1", lockTheme)
	svc := newTestService(t, store, nil, nil)

	if _, err := svc.ApplyPatch(context.Background(), "user-1", []models.Operation{models.Replace("/homeLayer/backgroundColor", "#000000")}, 0); err != nil {
		t.Fatalf("ApplyPatch() error = %v", err)
	}
	entries, err := svc.History(context.Background(), "user-1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Source != SourceManual {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestConcurrentPatchesOneWins(t *testing.T) {
	store := newMemoryStore()
	store.put(t, "user-1", lockTheme)
	svc := newTestService(t, store, nil, nil)

	var wg sync.WaitGroup
	results := make([]error, 2)
	colors := []string{"#000000", "#FFFFFF"}
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.ApplyPatch(context.Background(), "user-1", []models.Operation{models.Replace("/homeLayer/backgroundColor", colors[i])}, 1)
		}(i)
	}
	wg.Wait()

	conflicts := 0
	for _, err := range results {
		if errors.Is(err, db.ErrVersionConflict) {
			conflicts++
		} else if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if conflicts != 1 || store.saves != 1 {
		t.Fatalf("conflicts = %d, saves = %d; want exactly one winner", conflicts, store.saves)
	}
}

func TestConfiguredAllowListBoundsGeneration(t *testing.T) {
	cfg := Config{QueryTimeout: time.Second, AllowPrefixes: []string{"/lockLayer"}}
	prompts := &fakePrompts{result: patch.GenerateResult{Ops: []models.Operation{
		models.Replace("/homeLayer/backgroundColor", "#7C3AED"),
		models.Replace("/lockLayer/backgroundColor", "#7C3AED"),
	}}}

	tests := []struct {
		name     string
		run      func(svc *Service) (Outcome, error)
		wantNoop bool
	}{
		{
			name: "palette_default_prefixes",
			run: func(svc *Service) (Outcome, error) {
				return svc.PatchFromPalette(context.Background(), "user-1", PaletteRequest{Palette: defaultPalette()})
			},
		},
		{
			name: "palette_request_cannot_widen",
			run: func(svc *Service) (Outcome, error) {
				return svc.PatchFromPalette(context.Background(), "user-1", PaletteRequest{Palette: defaultPalette(), AllowPrefixes: []string{"/homeLayer"}})
			},
			wantNoop: true,
		},
		{
			name: "vision_all_targets",
			run: func(svc *Service) (Outcome, error) {
				return svc.PatchFromVision(context.Background(), "user-1", VisionRequest{Palette: defaultPalette()})
			},
		},
		{
			name: "vision_targets_outside",
			run: func(svc *Service) (Outcome, error) {
				return svc.PatchFromVision(context.Background(), "user-1", VisionRequest{Palette: defaultPalette(), Targets: []string{"/homeLayer"}})
			},
			wantNoop: true,
		},
		{
			name: "prompt",
			run: func(svc *Service) (Outcome, error) {
				return svc.PatchFromPrompt(context.Background(), "user-1", PromptRequest{Prompt: "make it purple"})
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			store := newMemoryStore()
			store.put(t, "user-1", lockTheme)
			svc := newConfiguredService(t, cfg, store, nil, prompts)

			outcome, err := test.run(svc)
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if test.wantNoop {
				if outcome.Stage != StageNoop || store.saves != 0 {
					t.Fatalf("outcome = %+v, saves = %d, want noop", outcome, store.saves)
				}
				return
			}
			if outcome.Stage != StageCommitted || len(outcome.Patch) == 0 {
				t.Fatalf("outcome = %+v, want committed", outcome)
			}
			for _, op := range outcome.Patch {
				if !models.HasPointerPrefix(op.Path, "/lockLayer") {
					t.Fatalf("op outside configured allow-list: %+v", op)
				}
			}
			if got, _ := outcome.Theme.Lookup("/homeLayer/backgroundColor"); got != "#333333" {
				t.Fatalf("homeLayer background changed to %v", got)
			}
		})
	}
}

func TestCommitLogsStagesInOrder(t *testing.T) {
	store := newMemoryStore()
	store.put(t, "user-1", lockTheme)
	svc := newTestService(t, store, nil, nil)

	var buf bytes.Buffer
	ctx := zerolog.New(&buf).Level(zerolog.DebugLevel).WithContext(context.Background())
	if _, err := svc.PatchFromPalette(ctx, "user-1", PaletteRequest{Palette: defaultPalette()}); err != nil {
		t.Fatalf("PatchFromPalette() error = %v", err)
	}

	var stages []string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry struct {
			Stage string `json:"stage"`
		}
		if err := json.Unmarshal([]byte(line), &entry); err == nil && entry.Stage != "" {
			stages = append(stages, entry.Stage)
		}
	}
	want := []string{
		string(StageReceived),
		string(StagePaletteExtracted),
		string(StageOpsGenerated),
		string(StageCopyApplied),
		string(StageSchemaValidated),
		string(StageCommitted),
	}
	if strings.Join(stages, ",") != strings.Join(want, ",") {
		t.Fatalf("stages = %v, want %v", stages, want)
	}
}
