package file

import (
	"context"
	"fmt"
	"sync"

	"github.com/akovalev/groupwarden/internal/domain/enums"
	"github.com/akovalev/groupwarden/internal/pkg/identity"
)

const countersDoc = "violation_counters"

type counterDoc map[identity.GroupID]map[identity.UserID]map[enums.Feature]int

// LedgerRepo is the file-backed violation counter store: one JSON document for
// all counters, mirrored in memory and replaced atomically on every write.
type LedgerRepo struct {
	store *DocumentStore

	mu     sync.Mutex
	counts counterDoc
	loaded bool
}

func NewLedgerRepo(store *DocumentStore) *LedgerRepo {
	return &LedgerRepo{store: store}
}

func (r *LedgerRepo) Increment(ctx context.Context, chat identity.GroupID, user identity.UserID, feature enums.Feature) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureLoaded(); err != nil {
		return 0, err
	}

	users, ok := r.counts[chat]
	if !ok {
		users = make(map[identity.UserID]map[enums.Feature]int)
		r.counts[chat] = users
	}
	features, ok := users[user]
	if !ok {
		features = make(map[enums.Feature]int)
		users[user] = features
	}

	features[feature]++
	count := features[feature]

	if err := r.persist(); err != nil {
		features[feature]--
		return 0, err
	}

	return count, nil
}

func (r *LedgerRepo) Reset(ctx context.Context, chat identity.GroupID, user identity.UserID, feature enums.Feature) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureLoaded(); err != nil {
		return err
	}

	features, ok := r.counts[chat][user]
	if !ok || features[feature] == 0 {
		return nil
	}

	delete(features, feature)
	if len(features) == 0 {
		delete(r.counts[chat], user)
	}
	if len(r.counts[chat]) == 0 {
		delete(r.counts, chat)
	}

	return r.persist()
}

func (r *LedgerRepo) ResetAll(ctx context.Context, chat identity.GroupID, feature enums.Feature) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureLoaded(); err != nil {
		return err
	}

	users, ok := r.counts[chat]
	if !ok {
		return nil
	}

	changed := false
	for user, features := range users {
		if _, ok := features[feature]; !ok {
			continue
		}
		delete(features, feature)
		changed = true
		if len(features) == 0 {
			delete(users, user)
		}
	}
	if len(users) == 0 {
		delete(r.counts, chat)
	}

	if !changed {
		return nil
	}
	return r.persist()
}

func (r *LedgerRepo) RemoveGroup(ctx context.Context, chat identity.GroupID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureLoaded(); err != nil {
		return err
	}

	if _, ok := r.counts[chat]; !ok {
		return nil
	}
	delete(r.counts, chat)

	return r.persist()
}

func (r *LedgerRepo) ensureLoaded() error {
	if r.loaded {
		return nil
	}
	if r.store == nil {
		return fmt.Errorf("document store is nil")
	}

	doc := make(counterDoc)
	if err := r.store.Load(countersDoc, &doc); err != nil {
		return err
	}

	r.counts = doc
	r.loaded = true
	return nil
}

func (r *LedgerRepo) persist() error {
	return r.store.Save(countersDoc, r.counts)
}
