package policy

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/akovalev/groupwarden/internal/domain/enums"
	"github.com/akovalev/groupwarden/internal/domain/model"
	"github.com/akovalev/groupwarden/internal/pkg/identity"
)

type memRepo struct {
	docs  map[enums.Feature]map[identity.GroupID]model.PolicyConfig
	saves int
}

func newMemRepo() *memRepo {
	return &memRepo{docs: make(map[enums.Feature]map[identity.GroupID]model.PolicyConfig)}
}

func (r *memRepo) LoadFeature(feature enums.Feature) (map[identity.GroupID]model.PolicyConfig, error) {
	doc := make(map[identity.GroupID]model.PolicyConfig, len(r.docs[feature]))
	for chat, cfg := range r.docs[feature] {
		doc[chat] = cfg
	}
	return doc, nil
}

func (r *memRepo) SaveFeature(feature enums.Feature, doc map[identity.GroupID]model.PolicyConfig) error {
	r.saves++
	r.docs[feature] = doc
	return nil
}

func TestGetReturnsFeatureDefaultWhenAbsent(t *testing.T) {
	svc, err := NewService(newMemRepo())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	got := svc.Get(identity.NormalizeGroup("g@g.net"), enums.FeatureImage)
	want := model.DefaultPolicy(enums.FeatureImage)
	if got != want {
		t.Fatalf("unexpected default config: %+v want %+v", got, want)
	}
	if got.Enabled {
		t.Fatalf("default config must be disabled")
	}
}

func TestUpdateCreatesLazilyAndPersists(t *testing.T) {
	repo := newMemRepo()
	svc, err := NewService(repo)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	chat := identity.NormalizeGroup("g@g.net")
	enabled := true
	threshold := 2

	cfg, err := svc.Update(context.Background(), chat, enums.FeatureImage, model.PolicyPatch{
		Enabled:   &enabled,
		Threshold: &threshold,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !cfg.Enabled || cfg.Threshold != 2 {
		t.Fatalf("unexpected updated config: %+v", cfg)
	}
	if cfg.Action != enums.ActionWarn {
		t.Fatalf("untouched fields must come from defaults, got action %s", cfg.Action)
	}
	if repo.saves != 1 {
		t.Fatalf("expected one persist, got %d", repo.saves)
	}

	if got := svc.Get(chat, enums.FeatureImage); got != cfg {
		t.Fatalf("get after update mismatch: %+v vs %+v", got, cfg)
	}
}

func TestUpdateRejectsInvalidInputLeavingConfigUntouched(t *testing.T) {
	repo := newMemRepo()
	svc, err := NewService(repo)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	chat := identity.NormalizeGroup("g@g.net")
	enabled := true
	if _, err := svc.Update(context.Background(), chat, enums.FeatureImage, model.PolicyPatch{Enabled: &enabled}); err != nil {
		t.Fatalf("seed update: %v", err)
	}
	before := svc.Get(chat, enums.FeatureImage)
	savesBefore := repo.saves

	badThreshold := 11
	if _, err := svc.Update(context.Background(), chat, enums.FeatureImage, model.PolicyPatch{Threshold: &badThreshold}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for threshold, got %v", err)
	}

	badAction := enums.ActionPromote
	if _, err := svc.Update(context.Background(), chat, enums.FeatureImage, model.PolicyPatch{Action: &badAction}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for action, got %v", err)
	}

	longMsg := strings.Repeat("x", 501)
	if _, err := svc.Update(context.Background(), chat, enums.FeatureImage, model.PolicyPatch{CustomMessage: &longMsg}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for message cap, got %v", err)
	}

	if got := svc.Get(chat, enums.FeatureImage); got != before {
		t.Fatalf("rejected update must leave config untouched: %+v vs %+v", got, before)
	}
	if repo.saves != savesBefore {
		t.Fatalf("rejected update must not persist, saves %d -> %d", savesBefore, repo.saves)
	}
}

func TestStatusMentionAllowsLongerMessage(t *testing.T) {
	svc, err := NewService(newMemRepo())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	chat := identity.NormalizeGroup("g@g.net")
	msg := strings.Repeat("y", 900)
	if _, err := svc.Update(context.Background(), chat, enums.FeatureStatusMention, model.PolicyPatch{CustomMessage: &msg}); err != nil {
		t.Fatalf("status mention should allow 900 chars: %v", err)
	}
	if _, err := svc.Update(context.Background(), chat, enums.FeatureImage, model.PolicyPatch{CustomMessage: &msg}); !errors.Is(err, ErrValidation) {
		t.Fatalf("image cap is 500, expected ErrValidation, got %v", err)
	}
}

func TestRemoveGroupDropsEveryFeature(t *testing.T) {
	repo := newMemRepo()
	svc, err := NewService(repo)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	chat := identity.NormalizeGroup("g@g.net")
	enabled := true
	for _, feature := range []enums.Feature{enums.FeatureImage, enums.FeatureCall} {
		if _, err := svc.Update(context.Background(), chat, feature, model.PolicyPatch{Enabled: &enabled}); err != nil {
			t.Fatalf("seed %s: %v", feature, err)
		}
	}
	if len(svc.Groups()) != 1 {
		t.Fatalf("expected one known group, got %v", svc.Groups())
	}

	if err := svc.RemoveGroup(context.Background(), chat); err != nil {
		t.Fatalf("remove group: %v", err)
	}
	if len(svc.Groups()) != 0 {
		t.Fatalf("expected no known groups after prune, got %v", svc.Groups())
	}
	if got := svc.Get(chat, enums.FeatureImage); got.Enabled {
		t.Fatalf("pruned group must fall back to defaults, got %+v", got)
	}
}
