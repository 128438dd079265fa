package file

import (
	"fmt"

	"github.com/akovalev/groupwarden/internal/domain/enums"
	"github.com/akovalev/groupwarden/internal/domain/model"
	"github.com/akovalev/groupwarden/internal/pkg/identity"
)

// PolicyRepo persists one document per guarded feature, mapping group id to
// that feature's config.
type PolicyRepo struct {
	store *DocumentStore
}

func NewPolicyRepo(store *DocumentStore) *PolicyRepo {
	return &PolicyRepo{store: store}
}

func (r *PolicyRepo) LoadFeature(feature enums.Feature) (map[identity.GroupID]model.PolicyConfig, error) {
	if r.store == nil {
		return nil, fmt.Errorf("document store is nil")
	}

	doc := make(map[identity.GroupID]model.PolicyConfig)
	if err := r.store.Load(docName(feature), &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *PolicyRepo) SaveFeature(feature enums.Feature, doc map[identity.GroupID]model.PolicyConfig) error {
	if r.store == nil {
		return fmt.Errorf("document store is nil")
	}
	return r.store.Save(docName(feature), doc)
}

func docName(feature enums.Feature) string {
	return "policy_" + string(feature)
}
