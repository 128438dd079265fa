package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/akovalev/groupwarden/internal/domain/enums"
	"github.com/akovalev/groupwarden/internal/domain/model"
	"github.com/akovalev/groupwarden/internal/pkg/identity"
)

var (
	ErrValidation     = errors.New("validation error")
	ErrUnknownFeature = errors.New("unknown feature")
)

type Repo interface {
	LoadFeature(feature enums.Feature) (map[identity.GroupID]model.PolicyConfig, error)
	SaveFeature(feature enums.Feature, doc map[identity.GroupID]model.PolicyConfig) error
}

// Service is the single source of truth for per-group feature configuration.
// Reads are served from an in-memory mirror; every write validates, updates
// the mirror, then persists the full feature document through the repo.
type Service struct {
	repo Repo

	mu     sync.RWMutex
	mirror map[enums.Feature]map[identity.GroupID]model.PolicyConfig
}

func NewService(repo Repo) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("policy repo is nil")
	}

	mirror := make(map[enums.Feature]map[identity.GroupID]model.PolicyConfig, len(enums.Features()))
	for _, feature := range enums.Features() {
		doc, err := repo.LoadFeature(feature)
		if err != nil {
			return nil, fmt.Errorf("load %s policy document: %w", feature, err)
		}
		mirror[feature] = doc
	}

	return &Service{repo: repo, mirror: mirror}, nil
}

// Get returns the stored config, or the feature default when the group never
// configured it.
func (s *Service) Get(chat identity.GroupID, feature enums.Feature) model.PolicyConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if cfg, ok := s.mirror[feature][chat]; ok {
		return cfg
	}
	return model.DefaultPolicy(feature)
}

func (s *Service) Update(ctx context.Context, chat identity.GroupID, feature enums.Feature, patch model.PolicyPatch) (model.PolicyConfig, error) {
	rule, ok := model.RuleFor(feature)
	if !ok {
		return model.PolicyConfig{}, ErrUnknownFeature
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, stored := s.mirror[feature][chat]
	if !stored {
		cfg = model.DefaultPolicy(feature)
	}

	if patch.Enabled != nil {
		cfg.Enabled = *patch.Enabled
	}
	if patch.Action != nil {
		cfg.Action = *patch.Action
	}
	if patch.EscalateTo != nil {
		cfg.EscalateTo = *patch.EscalateTo
	}
	if patch.Threshold != nil {
		cfg.Threshold = *patch.Threshold
	}
	if patch.CustomMessage != nil {
		cfg.CustomMessage = *patch.CustomMessage
	}

	if err := validateConfig(rule, cfg); err != nil {
		return model.PolicyConfig{}, err
	}

	if s.mirror[feature] == nil {
		s.mirror[feature] = make(map[identity.GroupID]model.PolicyConfig)
	}
	s.mirror[feature][chat] = cfg

	if err := s.persistLocked(feature); err != nil {
		return model.PolicyConfig{}, err
	}

	return cfg, nil
}

func (s *Service) Remove(ctx context.Context, chat identity.GroupID, feature enums.Feature) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mirror[feature][chat]; !ok {
		return nil
	}
	delete(s.mirror[feature], chat)

	return s.persistLocked(feature)
}

// RemoveGroup drops every feature config of a pruned group.
func (s *Service) RemoveGroup(ctx context.Context, chat identity.GroupID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, feature := range enums.Features() {
		if _, ok := s.mirror[feature][chat]; !ok {
			continue
		}
		delete(s.mirror[feature], chat)
		if err := s.persistLocked(feature); err != nil {
			return err
		}
	}
	return nil
}

// Groups returns every group id with at least one stored config.
func (s *Service) Groups() []identity.GroupID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[identity.GroupID]struct{})
	for _, doc := range s.mirror {
		for chat := range doc {
			seen[chat] = struct{}{}
		}
	}

	groups := make([]identity.GroupID, 0, len(seen))
	for chat := range seen {
		groups = append(groups, chat)
	}
	return groups
}

func (s *Service) persistLocked(feature enums.Feature) error {
	doc := make(map[identity.GroupID]model.PolicyConfig, len(s.mirror[feature]))
	for chat, cfg := range s.mirror[feature] {
		doc[chat] = cfg
	}
	if err := s.repo.SaveFeature(feature, doc); err != nil {
		return fmt.Errorf("persist %s policy document: %w", feature, err)
	}
	return nil
}

func validateConfig(rule model.FeatureRule, cfg model.PolicyConfig) error {
	if !rule.AllowsAction(cfg.Action) {
		return fmt.Errorf("%w: action %q not allowed for this feature", ErrValidation, cfg.Action)
	}
	if !rule.AllowsEscalate(cfg.EscalateTo) {
		return fmt.Errorf("%w: escalation action %q not allowed for this feature", ErrValidation, cfg.EscalateTo)
	}
	if cfg.Threshold < rule.MinThreshold || cfg.Threshold > rule.MaxThreshold {
		return fmt.Errorf("%w: threshold %d outside %d..%d", ErrValidation, cfg.Threshold, rule.MinThreshold, rule.MaxThreshold)
	}
	if len(cfg.CustomMessage) > rule.MessageCap {
		return fmt.Errorf("%w: message exceeds %d characters", ErrValidation, rule.MessageCap)
	}
	return nil
}
