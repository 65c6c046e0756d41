// Package rulebook loads transaction-type definitions and field mapping rules
// from a YAML document and compiles them once into typed, executable rule sets.
package rulebook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	port "github.com/tigerroll/swell/pkg/batch/core/application/port"
	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
	exception "github.com/tigerroll/swell/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/swell/pkg/batch/support/util/logger"
)

// rulebookDocument is the YAML shape of one rulebook revision.
type rulebookDocument struct {
	Version          string                              `yaml:"version"`
	TransactionTypes []model.TransactionTypeDefinition   `yaml:"transactionTypes"`
	FieldMappings    map[string][]model.FieldMappingRule `yaml:"fieldMappings"`
}

// compiledRuleSet is the immutable result of compiling one rulebook document.
type compiledRuleSet struct {
	version     string
	definitions map[string]model.TransactionTypeDefinition
	activeDefs  []model.TransactionTypeDefinition
	rules       map[string][]port.CompiledRule
}

// ActiveDefinitions returns the active transaction-type definitions ordered by
// processingOrder, ties broken by transaction type for a stable plan.
func (rs *compiledRuleSet) ActiveDefinitions() []model.TransactionTypeDefinition {
	defs := make([]model.TransactionTypeDefinition, len(rs.activeDefs))
	copy(defs, rs.activeDefs)
	return defs
}

// Definition returns the definition for the given transaction type, active or not.
func (rs *compiledRuleSet) Definition(transactionType string) (model.TransactionTypeDefinition, bool) {
	def, ok := rs.definitions[transactionType]
	return def, ok
}

// RulesFor returns the compiled field rules for the given transaction type.
func (rs *compiledRuleSet) RulesFor(transactionType string) ([]port.CompiledRule, bool) {
	rules, ok := rs.rules[transactionType]
	return rules, ok
}

// Version returns the revision identifier of the loaded rulebook.
func (rs *compiledRuleSet) Version() string {
	return rs.version
}

var _ port.RuleSet = (*compiledRuleSet)(nil)

// compileDocument parses and compiles one rulebook document into a RuleSet.
func compileDocument(data []byte) (port.RuleSet, error) {
	const op = "rulebook.compileDocument"

	var doc rulebookDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, exception.NewBatchError("rulebook", fmt.Sprintf("%s: failed to parse rulebook YAML", op), err, false, false)
	}

	definitions := make(map[string]model.TransactionTypeDefinition, len(doc.TransactionTypes))
	activeDefs := make([]model.TransactionTypeDefinition, 0, len(doc.TransactionTypes))
	for _, def := range doc.TransactionTypes {
		if def.TransactionType == "" {
			return nil, exception.NewBatchError("rulebook", fmt.Sprintf("%s: transaction-type definition without a transactionType", op), nil, false, false)
		}
		if _, dup := definitions[def.TransactionType]; dup {
			return nil, exception.NewBatchError("rulebook", fmt.Sprintf("%s: duplicate transaction-type definition '%s'", op, def.TransactionType), nil, false, false)
		}
		definitions[def.TransactionType] = def
		if def.Active {
			activeDefs = append(activeDefs, def)
		}
	}
	sort.Slice(activeDefs, func(i, j int) bool {
		if activeDefs[i].ProcessingOrder != activeDefs[j].ProcessingOrder {
			return activeDefs[i].ProcessingOrder < activeDefs[j].ProcessingOrder
		}
		return activeDefs[i].TransactionType < activeDefs[j].TransactionType
	})

	rules := make(map[string][]port.CompiledRule, len(doc.FieldMappings))
	for transactionType, mappings := range doc.FieldMappings {
		if _, known := definitions[transactionType]; !known {
			logger.Warnf("rulebook: field mappings reference unknown transaction type '%s'; they will never be applied.", transactionType)
		}
		compiled := make([]port.CompiledRule, 0, len(mappings))
		for _, mapping := range mappings {
			rule, err := compileRule(mapping)
			if err != nil {
				return nil, exception.NewBatchError("rulebook",
					fmt.Sprintf("%s: failed to compile rule '%s' for transaction type '%s'", op, mapping.FieldName, transactionType), err, false, false)
			}
			compiled = append(compiled, rule)
		}
		sort.Slice(compiled, func(i, j int) bool {
			return compiled[i].(*compiledRule).rule.TargetPosition < compiled[j].(*compiledRule).rule.TargetPosition
		})
		rules[transactionType] = compiled
	}

	version := doc.Version
	if version == "" {
		sum := sha256.Sum256(data)
		version = "sha256:" + hex.EncodeToString(sum[:])[:12]
	}

	logger.Debugf("rulebook: compiled revision '%s' (%d definitions, %d active, %d rule sets).",
		version, len(definitions), len(activeDefs), len(rules))
	return &compiledRuleSet{
		version:     version,
		definitions: definitions,
		activeDefs:  activeDefs,
		rules:       rules,
	}, nil
}

// YAMLRuleSource compiles a YAML rulebook on every Load. It is stateless;
// callers front it with a CachedRuleSource for TTL-bounded reuse.
type YAMLRuleSource struct {
	data []byte
	path string
}

// NewYAMLRuleSource creates a rule source over embedded rulebook bytes.
func NewYAMLRuleSource(data []byte) *YAMLRuleSource {
	return &YAMLRuleSource{data: data}
}

// NewYAMLRuleSourceFromFile creates a rule source that re-reads the file on
// every Load, so invalidation picks up edited rulebooks.
func NewYAMLRuleSourceFromFile(path string) *YAMLRuleSource {
	return &YAMLRuleSource{path: path}
}

// Load parses and compiles the rulebook document.
func (s *YAMLRuleSource) Load(ctx context.Context) (port.RuleSet, error) {
	const op = "YAMLRuleSource.Load"

	data := s.data
	if s.path != "" {
		b, err := os.ReadFile(s.path)
		if err != nil {
			return nil, exception.NewBatchError("rulebook", fmt.Sprintf("%s: failed to read rulebook file '%s'", op, s.path), err, false, true)
		}
		data = b
	}
	if len(data) == 0 {
		return nil, exception.NewBatchError("rulebook", fmt.Sprintf("%s: rulebook document is empty", op), nil, false, false)
	}
	return compileDocument(data)
}

// Invalidate is a no-op; the source holds no cached state.
func (s *YAMLRuleSource) Invalidate() {}

var _ port.RuleSource = (*YAMLRuleSource)(nil)
