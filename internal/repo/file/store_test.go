package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/akovalev/groupwarden/internal/domain/enums"
	"github.com/akovalev/groupwarden/internal/domain/model"
	"github.com/akovalev/groupwarden/internal/pkg/identity"
)

func TestDocumentStoreSaveThenLoadRoundTrip(t *testing.T) {
	store, err := NewDocumentStore(t.TempDir())
	if err != nil {
		t.Fatalf("new document store: %v", err)
	}

	in := map[string]int{"a": 1, "b": 2}
	if err := store.Save("sample", in); err != nil {
		t.Fatalf("save document: %v", err)
	}

	out := make(map[string]int)
	if err := store.Load("sample", &out); err != nil {
		t.Fatalf("load document: %v", err)
	}
	if out["a"] != 1 || out["b"] != 2 {
		t.Fatalf("unexpected loaded document: %v", out)
	}
}

func TestDocumentStoreLoadMissingLeavesTargetUntouched(t *testing.T) {
	store, err := NewDocumentStore(t.TempDir())
	if err != nil {
		t.Fatalf("new document store: %v", err)
	}

	out := map[string]int{"keep": 7}
	if err := store.Load("absent", &out); err != nil {
		t.Fatalf("load missing document: %v", err)
	}
	if out["keep"] != 7 {
		t.Fatalf("missing document must not touch target, got %v", out)
	}
}

func TestDocumentStoreSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDocumentStore(dir)
	if err != nil {
		t.Fatalf("new document store: %v", err)
	}

	if err := store.Save("doc", map[string]string{"k": "v"}); err != nil {
		t.Fatalf("save document: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read store dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly the final document, got %d entries", len(entries))
	}
	if entries[0].Name() != "doc.json" {
		t.Fatalf("unexpected file in store dir: %s", entries[0].Name())
	}
}

func TestPolicyRepoFeatureDocumentRoundTrip(t *testing.T) {
	store, err := NewDocumentStore(t.TempDir())
	if err != nil {
		t.Fatalf("new document store: %v", err)
	}
	repo := NewPolicyRepo(store)

	chat := identity.NormalizeGroup("12036@g.net")
	doc := map[identity.GroupID]model.PolicyConfig{
		chat: {Enabled: true, Action: enums.ActionWarn, EscalateTo: enums.ActionKick, Threshold: 2},
	}
	if err := repo.SaveFeature(enums.FeatureImage, doc); err != nil {
		t.Fatalf("save feature doc: %v", err)
	}

	loaded, err := repo.LoadFeature(enums.FeatureImage)
	if err != nil {
		t.Fatalf("load feature doc: %v", err)
	}
	got, ok := loaded[chat]
	if !ok {
		t.Fatalf("expected config for %s", chat)
	}
	if !got.Enabled || got.Action != enums.ActionWarn || got.Threshold != 2 {
		t.Fatalf("unexpected loaded config: %+v", got)
	}

	other, err := repo.LoadFeature(enums.FeatureSticker)
	if err != nil {
		t.Fatalf("load untouched feature doc: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("expected empty doc for untouched feature, got %v", other)
	}
}

func TestLedgerRepoIncrementResetSurvivesReload(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDocumentStore(dir)
	if err != nil {
		t.Fatalf("new document store: %v", err)
	}
	repo := NewLedgerRepo(store)

	ctx := context.Background()
	chat := identity.NormalizeGroup("777@g.net")
	user := identity.NormalizeUser("42@s.net")

	for want := 1; want <= 3; want++ {
		got, err := repo.Increment(ctx, chat, user, enums.FeatureImage)
		if err != nil {
			t.Fatalf("increment #%d: %v", want, err)
		}
		if got != want {
			t.Fatalf("increment #%d: got %d", want, got)
		}
	}

	reopened := NewLedgerRepo(mustStore(t, dir))
	got, err := reopened.Increment(ctx, chat, user, enums.FeatureImage)
	if err != nil {
		t.Fatalf("increment after reload: %v", err)
	}
	if got != 4 {
		t.Fatalf("expected counter to survive reload, got %d", got)
	}

	if err := reopened.Reset(ctx, chat, user, enums.FeatureImage); err != nil {
		t.Fatalf("reset: %v", err)
	}
	got, err = reopened.Increment(ctx, chat, user, enums.FeatureImage)
	if err != nil {
		t.Fatalf("increment after reset: %v", err)
	}
	if got != 1 {
		t.Fatalf("expected counter restart after reset, got %d", got)
	}
}

func TestLedgerRepoResetAllClearsOnlyThatFeature(t *testing.T) {
	repo := NewLedgerRepo(mustStore(t, t.TempDir()))

	ctx := context.Background()
	chat := identity.NormalizeGroup("777@g.net")
	userA := identity.NormalizeUser("1@s.net")
	userB := identity.NormalizeUser("2@s.net")

	if _, err := repo.Increment(ctx, chat, userA, enums.FeatureImage); err != nil {
		t.Fatalf("seed image counter: %v", err)
	}
	if _, err := repo.Increment(ctx, chat, userB, enums.FeatureImage); err != nil {
		t.Fatalf("seed image counter: %v", err)
	}
	if _, err := repo.Increment(ctx, chat, userA, enums.FeatureSticker); err != nil {
		t.Fatalf("seed sticker counter: %v", err)
	}

	if err := repo.ResetAll(ctx, chat, enums.FeatureImage); err != nil {
		t.Fatalf("reset all: %v", err)
	}

	got, err := repo.Increment(ctx, chat, userA, enums.FeatureImage)
	if err != nil {
		t.Fatalf("increment after reset all: %v", err)
	}
	if got != 1 {
		t.Fatalf("image counter should restart at 1, got %d", got)
	}

	got, err = repo.Increment(ctx, chat, userA, enums.FeatureSticker)
	if err != nil {
		t.Fatalf("increment sticker: %v", err)
	}
	if got != 2 {
		t.Fatalf("sticker counter should be untouched, got %d", got)
	}
}

func mustStore(t *testing.T, dir string) *DocumentStore {
	t.Helper()

	store, err := NewDocumentStore(filepath.Clean(dir))
	if err != nil {
		t.Fatalf("new document store: %v", err)
	}
	return store
}
