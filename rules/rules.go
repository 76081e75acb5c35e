// Package rules defines the static routing rulebook: which entity types are
// dispatched where, and which related entities must be reconsidered after a
// move. Rules are data, loaded once at startup; the graph-pattern fragments
// they carry are opaque to the engine and only ever composed into store
// queries.
package rules

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lblod/contact-data-dispatcher-service/errors"
)

// PublicRule dispatches entities of a type to the public graph
type PublicRule struct {
	// Type is the rdf:type URI an entity must have to qualify
	Type string `yaml:"type"`
	// AdditionalFilter is an optional graph pattern that must hold for the
	// entity (bound to ?subject) before it may go public
	AdditionalFilter string `yaml:"additional_filter,omitempty"`
	// RedispatchTriggers are relation patterns selecting dependents
	// (bound to ?ingestedSubject) to reconsider after this entity moves
	RedispatchTriggers []string `yaml:"redispatch_triggers,omitempty"`
}

// OrgRule dispatches entities of a type to the graphs of their owning organization
type OrgRule struct {
	Type string `yaml:"type"`
	// PathToOrganization is a graph pattern binding ?organization starting
	// from the entity bound to ?subject
	PathToOrganization string `yaml:"path_to_organization"`
	// RedispatchTriggers are carried for parity with public rules; the
	// engine's batched related-subject resolution covers org dependents,
	// so these are currently not consulted at dispatch time.
	RedispatchTriggers []string `yaml:"redispatch_triggers,omitempty"`
}

// Rulebook is the full routing configuration
type Rulebook struct {
	Public       []PublicRule `yaml:"public"`
	Organization []OrgRule    `yaml:"organization"`
}

// Load reads and validates a rulebook from a YAML file
func Load(path string) (*Rulebook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "Rulebook", "Load", "read rules file")
	}

	var rb Rulebook
	if err := yaml.Unmarshal(data, &rb); err != nil {
		return nil, errors.WrapFatal(err, "Rulebook", "Load", "parse rules file")
	}

	if err := rb.Validate(); err != nil {
		return nil, err
	}

	return &rb, nil
}

// Validate checks structural requirements on every rule. Pattern semantics
// are not validated here; a broken pattern surfaces as a store-side query
// failure at first use.
func (rb *Rulebook) Validate() error {
	if len(rb.Public) == 0 && len(rb.Organization) == 0 {
		return errors.WrapFatal(
			fmt.Errorf("%w: rulebook has no rules", errors.ErrInvalidConfig),
			"Rulebook", "Validate", "check rules")
	}

	for i, rule := range rb.Public {
		if rule.Type == "" {
			return validationError(fmt.Sprintf("public rule %d: type is required", i))
		}
		for j, trigger := range rule.RedispatchTriggers {
			if err := validateTrigger(fmt.Sprintf("public rule %d trigger %d", i, j), trigger); err != nil {
				return err
			}
		}
	}

	for i, rule := range rb.Organization {
		if rule.Type == "" {
			return validationError(fmt.Sprintf("organization rule %d: type is required", i))
		}
		if rule.PathToOrganization == "" {
			return validationError(fmt.Sprintf("organization rule %d: path_to_organization is required", i))
		}
		if !strings.Contains(rule.PathToOrganization, "?organization") {
			return validationError(fmt.Sprintf("organization rule %d: path must bind ?organization", i))
		}
		if !strings.Contains(rule.PathToOrganization, "?subject") {
			return validationError(fmt.Sprintf("organization rule %d: path must reference ?subject", i))
		}
		for j, trigger := range rule.RedispatchTriggers {
			if err := validateTrigger(fmt.Sprintf("organization rule %d trigger %d", i, j), trigger); err != nil {
				return err
			}
		}
	}

	return nil
}

// MatchPublic returns the public rules whose type appears in the given type set
func (rb *Rulebook) MatchPublic(types []string) []PublicRule {
	var matched []PublicRule
	for _, rule := range rb.Public {
		if containsString(types, rule.Type) {
			matched = append(matched, rule)
		}
	}
	return matched
}

// MatchOrganization returns the organization rules whose type appears in the given type set
func (rb *Rulebook) MatchOrganization(types []string) []OrgRule {
	var matched []OrgRule
	for _, rule := range rb.Organization {
		if containsString(types, rule.Type) {
			matched = append(matched, rule)
		}
	}
	return matched
}

func validateTrigger(scope, trigger string) error {
	if !strings.Contains(trigger, "?ingestedSubject") {
		return validationError(scope + ": trigger must bind ?ingestedSubject")
	}
	if !strings.Contains(trigger, "?subject") {
		return validationError(scope + ": trigger must reference ?subject")
	}
	return nil
}

func validationError(msg string) error {
	return errors.WrapFatal(
		fmt.Errorf("%w: %s", errors.ErrInvalidConfig, msg),
		"Rulebook", "Validate", "check rules")
}

func containsString(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
