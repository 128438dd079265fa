package authcache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/akovalev/groupwarden/internal/domain/model"
	"github.com/akovalev/groupwarden/internal/pkg/identity"
)

type fakeFetcher struct {
	state   model.GroupState
	err     error
	fetches int
}

func (f *fakeFetcher) FetchGroupState(ctx context.Context, chat identity.GroupID) (model.GroupState, error) {
	f.fetches++
	if f.err != nil {
		return model.GroupState{}, f.err
	}
	return f.state, nil
}

func groupWith(participants ...model.Participant) model.GroupState {
	return model.GroupState{Subject: "test group", Participants: participants}
}

func TestResolveClassifiesRoles(t *testing.T) {
	fetcher := &fakeFetcher{state: groupWith(
		model.Participant{ID: "100@s.net", Role: model.RoleSuperAdmin},
		model.Participant{ID: "200@s.net", Role: model.RoleAdmin},
		model.Participant{ID: "300@s.net", Role: model.RoleMember},
		model.Participant{ID: "900:3@s.net", Role: model.RoleAdmin},
	)}
	svc := NewService(fetcher, "900@s.net", 10, time.Minute, nil)

	chat := identity.NormalizeGroup("g1@g.net")

	owner := svc.Resolve(context.Background(), chat, identity.NormalizeUser("100@s.net"))
	if !owner.IsSenderAdmin || !owner.IsSuperAdmin || !owner.IsBotAdmin {
		t.Fatalf("unexpected superadmin status: %+v", owner)
	}

	admin := svc.Resolve(context.Background(), chat, identity.NormalizeUser("200@s.net"))
	if !admin.IsSenderAdmin || admin.IsSuperAdmin {
		t.Fatalf("unexpected admin status: %+v", admin)
	}

	member := svc.Resolve(context.Background(), chat, identity.NormalizeUser("300@s.net"))
	if member.IsSenderAdmin || member.IsSuperAdmin {
		t.Fatalf("unexpected member status: %+v", member)
	}

	missing := svc.Resolve(context.Background(), chat, identity.NormalizeUser("404@s.net"))
	if missing.IsSenderAdmin {
		t.Fatalf("missing participant must not be admin: %+v", missing)
	}
}

func TestResolveCachesWithinTTL(t *testing.T) {
	fetcher := &fakeFetcher{state: groupWith(
		model.Participant{ID: "200@s.net", Role: model.RoleAdmin},
	)}
	svc := NewService(fetcher, "900@s.net", 10, time.Minute, nil)

	chat := identity.NormalizeGroup("g1@g.net")
	user := identity.NormalizeUser("200@s.net")

	first := svc.Resolve(context.Background(), chat, user)
	for i := 0; i < 5; i++ {
		got := svc.Resolve(context.Background(), chat, user)
		if got != first {
			t.Fatalf("cache hit #%d returned different status: %+v vs %+v", i+1, got, first)
		}
	}

	if fetcher.fetches != 1 {
		t.Fatalf("expected exactly one fetch within TTL, got %d", fetcher.fetches)
	}
}

func TestResolveRefetchesAfterTTLExpiry(t *testing.T) {
	fetcher := &fakeFetcher{state: groupWith(
		model.Participant{ID: "200@s.net", Role: model.RoleAdmin},
	)}
	svc := NewService(fetcher, "900@s.net", 10, 30*time.Millisecond, nil)

	chat := identity.NormalizeGroup("g1@g.net")
	user := identity.NormalizeUser("200@s.net")

	svc.Resolve(context.Background(), chat, user)
	time.Sleep(50 * time.Millisecond)
	svc.Resolve(context.Background(), chat, user)

	if fetcher.fetches != 2 {
		t.Fatalf("expected one fresh fetch after expiry, got %d total", fetcher.fetches)
	}
}

func TestResolveDeniesOnFetchError(t *testing.T) {
	fetcher := &fakeFetcher{err: fmt.Errorf("socket closed")}
	svc := NewService(fetcher, "900@s.net", 10, time.Minute, nil)

	got := svc.Resolve(context.Background(), identity.NormalizeGroup("g1@g.net"), identity.NormalizeUser("200@s.net"))
	if got.IsSenderAdmin || got.IsBotAdmin || got.IsSuperAdmin {
		t.Fatalf("fetch error must deny everything, got %+v", got)
	}

	// Errors are not cached: the next resolve retries the fetch.
	svc.Resolve(context.Background(), identity.NormalizeGroup("g1@g.net"), identity.NormalizeUser("200@s.net"))
	if fetcher.fetches != 2 {
		t.Fatalf("expected retry after error, got %d fetches", fetcher.fetches)
	}
}

func TestResolveBotDefaultsToAdminWhenUnresolvable(t *testing.T) {
	fetcher := &fakeFetcher{state: groupWith(
		model.Participant{ID: "200@s.net", Role: model.RoleMember},
	)}
	svc := NewService(fetcher, "900@s.net", 10, time.Minute, nil)

	got := svc.Resolve(context.Background(), identity.NormalizeGroup("g1@g.net"), identity.NormalizeUser("200@s.net"))
	if !got.IsBotAdmin {
		t.Fatalf("bot absent from participants must fail open as admin, got %+v", got)
	}
	if got.IsSenderAdmin {
		t.Fatalf("member must not be admin: %+v", got)
	}
}

func TestInvalidateForcesRefetchForGroupOnly(t *testing.T) {
	fetcher := &fakeFetcher{state: groupWith(
		model.Participant{ID: "200@s.net", Role: model.RoleAdmin},
	)}
	svc := NewService(fetcher, "900@s.net", 10, time.Minute, nil)

	chatA := identity.NormalizeGroup("a@g.net")
	chatB := identity.NormalizeGroup("b@g.net")
	user := identity.NormalizeUser("200@s.net")

	svc.Resolve(context.Background(), chatA, user)
	svc.Resolve(context.Background(), chatB, user)
	if fetcher.fetches != 2 {
		t.Fatalf("expected two initial fetches, got %d", fetcher.fetches)
	}

	svc.Invalidate(chatA)

	svc.Resolve(context.Background(), chatA, user)
	svc.Resolve(context.Background(), chatB, user)
	if fetcher.fetches != 3 {
		t.Fatalf("invalidate must only drop the one group, got %d fetches", fetcher.fetches)
	}
}
