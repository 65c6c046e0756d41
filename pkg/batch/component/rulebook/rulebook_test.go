package rulebook_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/swell/pkg/batch/component/rulebook"
	port "github.com/tigerroll/swell/pkg/batch/core/application/port"
	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
)

const testRulebook = `
version: "v1"
transactionTypes:
  - transactionType: WIRE
    processingOrder: 2
    threadCount: 4
    chunkSize: 100
    isolationLevel: READ_COMMITTED
    timeoutSeconds: 60
    complianceLevel: HIGH
    errorThresholdPct: 5.0
    active: true
  - transactionType: ACH
    processingOrder: 1
    threadCount: 2
    chunkSize: 50
    active: true
  - transactionType: CHECK
    processingOrder: 3
    active: false
fieldMappings:
  WIRE:
    - fieldName: accountNumber
      targetPosition: 2
      transformationType: PAD_LEFT
      length: 10
      encryptionLevel: CRITICAL
      piiClassification: ACCOUNT
      validationRequired: true
    - fieldName: valueDate
      targetPosition: 3
      transformationType: FORMAT_DATE
      properties:
        inputLayout: "2006-01-02"
        outputLayout: "20060102"
    - fieldName: currency
      targetPosition: 4
      transformationType: DEFAULT
      defaultValue: USD
    - fieldName: amount
      targetPosition: 1
      transformationType: PASS_THROUGH
    - fieldName: memo
      targetPosition: 5
      transformationType: PAD_RIGHT
      length: 8
      properties:
        padChar: "_"
`

func loadTestRuleSet(t *testing.T) port.RuleSet {
	t.Helper()
	source := rulebook.NewYAMLRuleSource([]byte(testRulebook))
	ruleSet, err := source.Load(context.Background())
	require.NoError(t, err)
	return ruleSet
}

func ruleByTarget(t *testing.T, ruleSet port.RuleSet, transactionType, targetField string) port.CompiledRule {
	t.Helper()
	rules, ok := ruleSet.RulesFor(transactionType)
	require.True(t, ok)
	for _, rule := range rules {
		if rule.TargetField() == targetField {
			return rule
		}
	}
	t.Fatalf("no rule with target field %q", targetField)
	return nil
}

func TestLoad_ActiveDefinitionsOrderedByProcessingOrder(t *testing.T) {
	ruleSet := loadTestRuleSet(t)

	defs := ruleSet.ActiveDefinitions()
	require.Len(t, defs, 2, "inactive CHECK must not be listed")
	assert.Equal(t, "ACH", defs[0].TransactionType)
	assert.Equal(t, "WIRE", defs[1].TransactionType)

	// Inactive definitions remain resolvable for skip diagnostics.
	check, ok := ruleSet.Definition("CHECK")
	require.True(t, ok)
	assert.False(t, check.Active)

	_, ok = ruleSet.Definition("UNKNOWN")
	assert.False(t, ok)

	assert.Equal(t, "v1", ruleSet.Version())
}

func TestLoad_RulesOrderedByTargetPosition(t *testing.T) {
	ruleSet := loadTestRuleSet(t)

	rules, ok := ruleSet.RulesFor("WIRE")
	require.True(t, ok)
	require.Len(t, rules, 5)

	targets := make([]string, 0, len(rules))
	for _, rule := range rules {
		targets = append(targets, rule.TargetField())
	}
	assert.Equal(t, []string{"amount", "accountNumber", "valueDate", "currency", "memo"}, targets)

	_, ok = ruleSet.RulesFor("ACH")
	assert.False(t, ok, "ACH has no field mappings")
}

func TestCompiledRule_Transformations(t *testing.T) {
	ruleSet := loadTestRuleSet(t)

	t.Run("pass through", func(t *testing.T) {
		out, err := ruleByTarget(t, ruleSet, "WIRE", "amount").Apply("1500.00")
		require.NoError(t, err)
		assert.Equal(t, "1500.00", out)
	})

	t.Run("pad left with default zero", func(t *testing.T) {
		rule := ruleByTarget(t, ruleSet, "WIRE", "accountNumber")
		out, err := rule.Apply("12345")
		require.NoError(t, err)
		assert.Equal(t, "0000012345", out)

		// Values already at or past the width pass through unchanged.
		out, err = rule.Apply("12345678901")
		require.NoError(t, err)
		assert.Equal(t, "12345678901", out)
	})

	t.Run("pad right with configured pad char", func(t *testing.T) {
		out, err := ruleByTarget(t, ruleSet, "WIRE", "memo").Apply("ok")
		require.NoError(t, err)
		assert.Equal(t, "ok______", out)
	})

	t.Run("format date", func(t *testing.T) {
		rule := ruleByTarget(t, ruleSet, "WIRE", "valueDate")
		out, err := rule.Apply("2025-01-15")
		require.NoError(t, err)
		assert.Equal(t, "20250115", out)

		_, err = rule.Apply("15/01/2025")
		require.Error(t, err)
	})

	t.Run("default fills empty values only", func(t *testing.T) {
		rule := ruleByTarget(t, ruleSet, "WIRE", "currency")
		out, err := rule.Apply("")
		require.NoError(t, err)
		assert.Equal(t, "USD", out)

		out, err = rule.Apply("EUR")
		require.NoError(t, err)
		assert.Equal(t, "EUR", out)
	})
}

func TestCompiledRule_Metadata(t *testing.T) {
	ruleSet := loadTestRuleSet(t)

	account := ruleByTarget(t, ruleSet, "WIRE", "accountNumber")
	assert.Equal(t, model.EncryptionCritical, account.EncryptionLevel())
	assert.Equal(t, "ACCOUNT", account.PIIClassification())
	assert.True(t, account.ValidationRequired())
	assert.Equal(t, "accountNumber", account.SourceField(), "sourceField defaults to fieldName")

	amount := ruleByTarget(t, ruleSet, "WIRE", "amount")
	assert.Equal(t, model.EncryptionNone, amount.EncryptionLevel())
	assert.False(t, amount.ValidationRequired())
}

func TestLoad_RejectsUnknownTransformationType(t *testing.T) {
	doc := `
transactionTypes:
  - transactionType: WIRE
    processingOrder: 1
    active: true
fieldMappings:
  WIRE:
    - fieldName: amount
      transformationType: UPPERCASE
`
	_, err := rulebook.NewYAMLRuleSource([]byte(doc)).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported transformation type")
}

func TestLoad_RejectsDuplicateDefinitions(t *testing.T) {
	doc := `
transactionTypes:
  - transactionType: WIRE
    processingOrder: 1
    active: true
  - transactionType: WIRE
    processingOrder: 2
    active: true
`
	_, err := rulebook.NewYAMLRuleSource([]byte(doc)).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate transaction-type definition")
}

func TestLoad_DerivesVersionWhenAbsent(t *testing.T) {
	doc := `
transactionTypes:
  - transactionType: WIRE
    processingOrder: 1
    active: true
`
	ruleSet, err := rulebook.NewYAMLRuleSource([]byte(doc)).Load(context.Background())
	require.NoError(t, err)
	assert.Contains(t, ruleSet.Version(), "sha256:")
}

// countingSource counts Load calls to observe cache behavior.
type countingSource struct {
	inner port.RuleSource
	loads atomic.Int64
}

func (s *countingSource) Load(ctx context.Context) (port.RuleSet, error) {
	s.loads.Add(1)
	return s.inner.Load(ctx)
}

func (s *countingSource) Invalidate() {}

func TestCachedRuleSource(t *testing.T) {
	ctx := context.Background()

	t.Run("serves from cache until invalidated", func(t *testing.T) {
		counting := &countingSource{inner: rulebook.NewYAMLRuleSource([]byte(testRulebook))}
		cached := rulebook.NewCachedRuleSource(counting, time.Hour)

		first, err := cached.Load(ctx)
		require.NoError(t, err)
		second, err := cached.Load(ctx)
		require.NoError(t, err)
		assert.Same(t, first, second)
		assert.Equal(t, int64(1), counting.loads.Load())

		cached.Invalidate()
		_, err = cached.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), counting.loads.Load())
	})

	t.Run("TTL backstop forces a reload", func(t *testing.T) {
		counting := &countingSource{inner: rulebook.NewYAMLRuleSource([]byte(testRulebook))}
		cached := rulebook.NewCachedRuleSource(counting, time.Millisecond)

		_, err := cached.Load(ctx)
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
		_, err = cached.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), counting.loads.Load())
	})

	t.Run("zero TTL disables the backstop", func(t *testing.T) {
		counting := &countingSource{inner: rulebook.NewYAMLRuleSource([]byte(testRulebook))}
		cached := rulebook.NewCachedRuleSource(counting, 0)

		_, err := cached.Load(ctx)
		require.NoError(t, err)
		_, err = cached.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), counting.loads.Load())
	})
}
