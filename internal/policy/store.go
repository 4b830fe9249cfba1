// Package policy loads and serves the DSAR policy document.
package policy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"gdpr-guardian/internal/domain"
)

// document mirrors the policy YAML. Required keys are pointers so a missing
// key can be told apart from an explicit zero.
type document struct {
	Identity struct {
		MinConfidenceForAutoApproval *float64 `yaml:"min_confidence_for_auto_approval"`
		StrongSignals                []string `yaml:"strong_signals"`
	} `yaml:"identity"`
	RetentionPolicies struct {
		FinancialTransactionDays *int `yaml:"financial_transaction_days"`
		ActiveServiceDays        *int `yaml:"active_service_days"`
	} `yaml:"retention_policies"`
	Disclosure struct {
		RequireSections []string `yaml:"require_sections"`
	} `yaml:"disclosure"`
	SLA struct {
		AccessDays *int `yaml:"access_days"`
	} `yaml:"sla"`
	Redaction struct {
		RequiredTypes                  []string `yaml:"required_types"`
		AllowOverrideWithJustification bool     `yaml:"allow_override_with_justification"`
	} `yaml:"redaction"`
}

// DefaultAccessDays is the SLA applied when the policy does not set one.
const DefaultAccessDays = 30

// Parse decodes and validates a policy document.
func Parse(r io.Reader) (domain.PolicyConfig, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.PolicyConfig{}, errors.New("empty policy document")
		}
		return domain.PolicyConfig{}, fmt.Errorf("decode yaml: %w", err)
	}

	var missing []string
	if doc.Identity.MinConfidenceForAutoApproval == nil {
		missing = append(missing, "identity.min_confidence_for_auto_approval")
	}
	if doc.RetentionPolicies.FinancialTransactionDays == nil {
		missing = append(missing, "retention_policies.financial_transaction_days")
	}
	if doc.RetentionPolicies.ActiveServiceDays == nil {
		missing = append(missing, "retention_policies.active_service_days")
	}
	if len(missing) > 0 {
		return domain.PolicyConfig{}, fmt.Errorf("missing required keys: %v", missing)
	}

	cfg := domain.PolicyConfig{
		Identity: domain.IdentityPolicy{
			MinConfidenceForAutoApproval: *doc.Identity.MinConfidenceForAutoApproval,
			StrongSignals:                doc.Identity.StrongSignals,
		},
		Retention: domain.RetentionPolicies{
			FinancialTransactionDays: *doc.RetentionPolicies.FinancialTransactionDays,
			ActiveServiceDays:        *doc.RetentionPolicies.ActiveServiceDays,
		},
		Disclosure: domain.DisclosurePolicy{RequireSections: doc.Disclosure.RequireSections},
		SLA:        domain.SLAPolicy{AccessDays: DefaultAccessDays},
	}
	if doc.SLA.AccessDays != nil {
		cfg.SLA.AccessDays = *doc.SLA.AccessDays
	}
	cfg.Redaction.AllowOverrideWithJustification = doc.Redaction.AllowOverrideWithJustification
	for _, name := range doc.Redaction.RequiredTypes {
		kind, err := domain.ParsePIIKind(name)
		if err != nil {
			return domain.PolicyConfig{}, fmt.Errorf("redaction.required_types: %w", err)
		}
		if !slices.Contains(cfg.Redaction.RequiredTypes, kind) {
			cfg.Redaction.RequiredTypes = append(cfg.Redaction.RequiredTypes, kind)
		}
	}
	if err := cfg.Validate(); err != nil {
		return domain.PolicyConfig{}, err
	}
	return cfg, nil
}

// Store holds the process-wide policy snapshot. It is loaded once at startup
// and only replaced by an explicit Load; readers never observe a partial update.
type Store struct {
	mu     sync.RWMutex
	cfg    domain.PolicyConfig
	source string
	loaded bool
}

// NewStore creates an empty, unloaded store.
func NewStore() *Store {
	return &Store{}
}

// Load reads and validates the policy at path and replaces the current snapshot.
// Failures are returned as *domain.PolicyLoadError and leave the store unchanged.
func (s *Store) Load(path string) (domain.PolicyConfig, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator-controlled
	if err != nil {
		return domain.PolicyConfig{}, &domain.PolicyLoadError{Source: path, Err: err}
	}
	return s.LoadFrom(path, bytes.NewReader(data))
}

// LoadFrom is Load for an already-open source; name labels errors.
func (s *Store) LoadFrom(name string, r io.Reader) (domain.PolicyConfig, error) {
	cfg, err := Parse(r)
	if err != nil {
		return domain.PolicyConfig{}, &domain.PolicyLoadError{Source: name, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.source = name
	s.loaded = true
	return cfg, nil
}

// Get returns the loaded policy, or *domain.NotLoadedError before Load.
func (s *Store) Get() (domain.PolicyConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded {
		return domain.PolicyConfig{}, &domain.NotLoadedError{}
	}
	return clone(s.cfg), nil
}

// Source returns where the current snapshot was loaded from.
func (s *Store) Source() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.source
}

// clone copies slices so callers cannot mutate the shared snapshot.
func clone(cfg domain.PolicyConfig) domain.PolicyConfig {
	cfg.Identity.StrongSignals = append([]string(nil), cfg.Identity.StrongSignals...)
	cfg.Disclosure.RequireSections = append([]string(nil), cfg.Disclosure.RequireSections...)
	cfg.Redaction.RequiredTypes = append([]domain.PIIKind(nil), cfg.Redaction.RequiredTypes...)
	return cfg
}
