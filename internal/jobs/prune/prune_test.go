package prune

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/akovalev/groupwarden/internal/domain/enums"
	"github.com/akovalev/groupwarden/internal/domain/model"
	"github.com/akovalev/groupwarden/internal/pkg/identity"
)

type fakePolicies struct {
	groups  []identity.GroupID
	removed []identity.GroupID
}

func (f *fakePolicies) Groups() []identity.GroupID { return f.groups }

func (f *fakePolicies) RemoveGroup(ctx context.Context, chat identity.GroupID) error {
	f.removed = append(f.removed, chat)
	return nil
}

type fakeCounters struct {
	removed []identity.GroupID
	resets  int
}

func (f *fakeCounters) ResetAll(ctx context.Context, chat identity.GroupID, feature enums.Feature) error {
	f.resets++
	return nil
}

func (f *fakeCounters) RemoveGroup(ctx context.Context, chat identity.GroupID) error {
	f.removed = append(f.removed, chat)
	return nil
}

type fakeFetcher struct {
	errs map[identity.GroupID]error
}

func (f *fakeFetcher) FetchGroupState(ctx context.Context, chat identity.GroupID) (model.GroupState, error) {
	if err := f.errs[chat]; err != nil {
		return model.GroupState{}, err
	}
	return model.GroupState{Subject: "g"}, nil
}

func TestRunPrunesDepartedGroupsOnly(t *testing.T) {
	policies := &fakePolicies{groups: []identity.GroupID{"g1", "g2", "g3"}}
	counters := &fakeCounters{}
	fetcher := &fakeFetcher{errs: map[identity.GroupID]error{
		"g2": errors.New("Bad Request: chat not found"),
		"g3": errors.New("connection reset by peer"),
	}}

	job := New(policies, counters, fetcher, 0, nil)
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(policies.removed) != 1 || policies.removed[0] != "g2" {
		t.Fatalf("policies removed = %v, want [g2]", policies.removed)
	}
	if len(counters.removed) != 1 || counters.removed[0] != "g2" {
		t.Fatalf("counters removed = %v, want [g2]", counters.removed)
	}
	if counters.resets != 0 {
		t.Fatalf("resets = %d, want 0 with reset disabled", counters.resets)
	}
}

func TestRunPeriodicWarningReset(t *testing.T) {
	policies := &fakePolicies{groups: []identity.GroupID{"g1"}}
	counters := &fakeCounters{}
	fetcher := &fakeFetcher{}

	job := New(policies, counters, fetcher, time.Hour, nil)
	current := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return current }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if counters.resets != len(enums.Features()) {
		t.Fatalf("resets = %d, want one per feature", counters.resets)
	}

	// Within the interval nothing resets again.
	current = current.Add(30 * time.Minute)
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if counters.resets != len(enums.Features()) {
		t.Fatalf("resets = %d after half interval, want unchanged", counters.resets)
	}

	current = current.Add(31 * time.Minute)
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("third run: %v", err)
	}
	if counters.resets != 2*len(enums.Features()) {
		t.Fatalf("resets = %d after full interval, want doubled", counters.resets)
	}
}
