package identity_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tigerroll/swell/pkg/batch/core/identity"
	"github.com/tigerroll/swell/pkg/batch/core/domain/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRequest() identity.SubmissionRequest {
	return identity.SubmissionRequest{
		SourceSystem: "CORE_BANKING",
		JobName:      "SETTLEMENT",
		BusinessDate: "2025-08-19",
		Parameters:   model.NewSubmissionParameters(),
	}
}

func TestGenerateKey_ExplicitTransactionID(t *testing.T) {
	g := identity.NewKeyGenerator()

	req := newRequest()
	req.TransactionID = "txn-000123"

	key, fallback := g.GenerateKey(req)
	assert.False(t, fallback)
	assert.Equal(t, "CORE_BANKING:SETTLEMENT:20250819:TXN-000123", key)

	// Identical request yields the identical key
	key2, _ := g.GenerateKey(req)
	assert.Equal(t, key, key2)
}

func TestGenerateKey_ClientSuppliedKey(t *testing.T) {
	g := identity.NewKeyGenerator()

	req := newRequest()
	req.ClientKey = "bank_a:load txn:20250819:abc!123"

	key, fallback := g.GenerateKey(req)
	assert.False(t, fallback)
	// Uppercased, disallowed runes replaced, colons preserved
	assert.Equal(t, "BANK_A:LOAD_TXN:20250819:ABC_123", key)
	assert.True(t, g.IsValidKey(key))
}

func TestGenerateKey_FileContentHash(t *testing.T) {
	g := identity.NewKeyGenerator()
	dir := t.TempDir()

	fileA := filepath.Join(dir, "a.csv")
	require.NoError(t, os.WriteFile(fileA, []byte("id,amount\n1,100\n"), 0o644))
	fileB := filepath.Join(dir, "b.csv")
	require.NoError(t, os.WriteFile(fileB, []byte("id,amount\n1,100\n"), 0o644))
	fileC := filepath.Join(dir, "c.csv")
	require.NoError(t, os.WriteFile(fileC, []byte("id,amount\n2,999\n"), 0o644))

	reqA := newRequest()
	reqA.FileRef = fileA
	reqB := newRequest()
	reqB.FileRef = fileB
	reqC := newRequest()
	reqC.FileRef = fileC

	keyA, fallbackA := g.GenerateKey(reqA)
	keyB, _ := g.GenerateKey(reqB)
	keyC, _ := g.GenerateKey(reqC)

	assert.False(t, fallbackA)
	// Same content under a different path is the same unit of work
	assert.Equal(t, keyA, keyB)
	assert.NotEqual(t, keyA, keyC)
}

func TestGenerateKey_ParameterHash(t *testing.T) {
	g := identity.NewKeyGenerator()

	req1 := newRequest()
	req1.Parameters.Put("region", "EU")
	req1.Parameters.Put("batchSize", 500)

	req2 := newRequest()
	req2.Parameters.Put("batchSize", 500)
	req2.Parameters.Put("region", "EU")

	req3 := newRequest()
	req3.Parameters.Put("region", "US")

	key1, fallback := g.GenerateKey(req1)
	assert.False(t, fallback)
	key2, _ := g.GenerateKey(req2)
	key3, _ := g.GenerateKey(req3)

	assert.Equal(t, key1, key2)
	assert.NotEqual(t, key1, key3)
}

func TestGenerateKey_DiscriminatorPriority(t *testing.T) {
	g := identity.NewKeyGenerator()
	dir := t.TempDir()
	file := filepath.Join(dir, "in.csv")
	require.NoError(t, os.WriteFile(file, []byte("payload"), 0o644))

	// Explicit transaction id wins over file and parameters
	req := newRequest()
	req.TransactionID = "TXN9"
	req.FileRef = file
	req.Parameters.Put("k", "v")

	key, _ := g.GenerateKey(req)
	assert.True(t, strings.HasSuffix(key, ":TXN9"))

	// Unreadable file degrades to the parameter hash, not to the fallback
	req2 := newRequest()
	req2.FileRef = filepath.Join(dir, "missing.csv")
	req2.Parameters.Put("k", "v")

	key2, fallback := g.GenerateKey(req2)
	assert.False(t, fallback)

	req3 := newRequest()
	req3.Parameters.Put("k", "v")
	key3, _ := g.GenerateKey(req3)
	assert.Equal(t, key3, key2)
}

func TestGenerateKey_RandomFallbackIsFlagged(t *testing.T) {
	g := identity.NewKeyGenerator()

	req := newRequest()
	key1, fallback1 := g.GenerateKey(req)
	key2, fallback2 := g.GenerateKey(req)

	assert.True(t, fallback1)
	assert.True(t, fallback2)
	// Fallback keys carry no determinism
	assert.NotEqual(t, key1, key2)
	assert.True(t, g.IsValidKey(key1))
}

func TestGenerateKey_TruncatesOverLongKeys(t *testing.T) {
	g := identity.NewKeyGenerator()

	long := strings.Repeat("A", 200)
	req := newRequest()
	req.ClientKey = long + "X"

	key, _ := g.GenerateKey(req)
	assert.Len(t, key, identity.MaxKeyLength)
	assert.True(t, g.IsValidKey(key))

	// Two long keys sharing a prefix must not collide after truncation
	req2 := newRequest()
	req2.ClientKey = long + "Y"
	key2, _ := g.GenerateKey(req2)
	assert.Len(t, key2, identity.MaxKeyLength)
	assert.NotEqual(t, key, key2)
}

func TestIsValidKey(t *testing.T) {
	g := identity.NewKeyGenerator()

	assert.True(t, g.IsValidKey("CORE_BANKING:SETTLEMENT:20250819:ABC-123"))
	assert.False(t, g.IsValidKey(""))
	assert.False(t, g.IsValidKey("lowercase:key"))
	assert.False(t, g.IsValidKey("SPACES NOT ALLOWED"))
	assert.False(t, g.IsValidKey(strings.Repeat("A", identity.MaxKeyLength+1)))
}

func TestExtractComponents(t *testing.T) {
	g := identity.NewKeyGenerator()

	req := newRequest()
	req.TransactionID = "TXN42"
	key, _ := g.GenerateKey(req)

	comps, err := g.ExtractComponents(key)
	assert.NoError(t, err)
	assert.Equal(t, "CORE_BANKING", comps.SourceSystem)
	assert.Equal(t, "SETTLEMENT", comps.JobName)
	assert.Equal(t, "20250819", comps.DateComponent)
	assert.Equal(t, "TXN42", comps.ContentHash)

	// Keys without four segments are rejected
	_, err = g.ExtractComponents("ONLY:THREE:SEGMENTS")
	assert.Error(t, err)

	_, err = g.ExtractComponents("A:B::D")
	assert.Error(t, err)

	_, err = g.ExtractComponents("invalid key")
	assert.Error(t, err)
}

func TestGenerateCorrelationID(t *testing.T) {
	g := identity.NewKeyGenerator()

	id1 := g.GenerateCorrelationID()
	id2 := g.GenerateCorrelationID()

	assert.NotEqual(t, id1, id2)
	_, err := uuid.Parse(id1)
	assert.NoError(t, err)
}
