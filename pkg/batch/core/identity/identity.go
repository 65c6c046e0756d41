// Package identity derives the deterministic idempotency key and the random
// correlation id for each batch submission.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tigerroll/swell/pkg/batch/core/domain/model"
	"github.com/tigerroll/swell/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/swell/pkg/batch/support/util/logger"

	"github.com/google/uuid"
)

const moduleName = "identity"

// MaxKeyLength is the hard upper bound on a generated or client-supplied key.
const MaxKeyLength = 128

// discriminatorHashLength is the number of hex characters kept from a content hash.
const discriminatorHashLength = 16

// undatedComponent stands in for a missing business date so the key still has
// four segments.
const undatedComponent = "UNDATED"

// SubmissionRequest carries everything a caller provides when handing a unit
// of work to the engine.
type SubmissionRequest struct {
	SourceSystem  string
	JobName       string
	BusinessDate  string
	ClientKey     string
	TransactionID string
	FileRef       string
	Parameters    model.SubmissionParameters
}

// KeyComponents is the decomposition of a well-formed generated key.
type KeyComponents struct {
	SourceSystem  string
	JobName       string
	DateComponent string
	ContentHash   string
}

// KeyGenerator produces idempotency keys and correlation ids. It carries no
// state; all determinism comes from the request contents.
type KeyGenerator struct{}

// NewKeyGenerator creates a new KeyGenerator.
func NewKeyGenerator() *KeyGenerator {
	return &KeyGenerator{}
}

// GenerateKey derives the idempotency key for a submission. A sanitized
// client-supplied key is used verbatim; otherwise the key is composed as
// sourceSystem:jobName:dateComponent:contentHash, choosing the content
// discriminator by priority: explicit transaction id, file-content hash,
// canonical parameter hash, then a random fallback. The second return value
// reports whether the random fallback was used, which waives deduplication
// for this submission. GenerateKey never fails; it degrades instead.
func (g *KeyGenerator) GenerateKey(req SubmissionRequest) (string, bool) {
	if req.ClientKey != "" {
		return enforceLength(sanitizeKey(req.ClientKey)), false
	}

	source := sanitizeComponent(req.SourceSystem)
	job := sanitizeComponent(req.JobName)
	date := sanitizeComponent(normalizeDate(req.BusinessDate))
	if date == "" {
		date = undatedComponent
	}

	discriminator, fallback := g.resolveDiscriminator(req)
	key := fmt.Sprintf("%s:%s:%s:%s", source, job, date, discriminator)
	return enforceLength(key), fallback
}

// GenerateCorrelationID returns a fresh random correlation id. Correlation ids
// are trace-only and never participate in deduplication.
func (g *KeyGenerator) GenerateCorrelationID() string {
	return uuid.New().String()
}

// IsValidKey checks charset and length constraints on a key.
func (g *KeyGenerator) IsValidKey(key string) bool {
	if key == "" || len(key) > MaxKeyLength {
		return false
	}
	for _, r := range key {
		if !isAllowedKeyRune(r) {
			return false
		}
	}
	return true
}

// ExtractComponents splits a generated key back into its four segments.
// Client-supplied keys with a different shape are rejected.
func (g *KeyGenerator) ExtractComponents(key string) (KeyComponents, error) {
	if !g.IsValidKey(key) {
		return KeyComponents{}, exception.NewBatchErrorf(moduleName, "key '%s' violates charset or length constraints", key)
	}
	parts := strings.SplitN(key, ":", 4)
	if len(parts) != 4 {
		return KeyComponents{}, exception.NewBatchErrorf(moduleName, "key '%s' does not have four segments", key)
	}
	for _, p := range parts {
		if p == "" {
			return KeyComponents{}, exception.NewBatchErrorf(moduleName, "key '%s' contains an empty segment", key)
		}
	}
	return KeyComponents{
		SourceSystem:  parts[0],
		JobName:       parts[1],
		DateComponent: parts[2],
		ContentHash:   parts[3],
	}, nil
}

// resolveDiscriminator walks the priority chain and reports whether it had to
// fall back to a random value.
func (g *KeyGenerator) resolveDiscriminator(req SubmissionRequest) (string, bool) {
	if req.TransactionID != "" {
		return sanitizeComponent(req.TransactionID), false
	}

	if req.FileRef != "" {
		if h, err := hashFileContent(req.FileRef); err == nil {
			return h, false
		} else {
			logger.Warnf("KeyGenerator: could not hash file '%s', trying next discriminator: %v", req.FileRef, err)
		}
	}

	if len(req.Parameters.Params) > 0 {
		if h, err := req.Parameters.Hash(); err == nil {
			return strings.ToUpper(h[:discriminatorHashLength]), false
		} else {
			logger.Warnf("KeyGenerator: could not hash submission parameters, trying next discriminator: %v", err)
		}
	}

	fallback := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))[:discriminatorHashLength]
	logger.Warnf("KeyGenerator: no content discriminator available for source=%s job=%s; using random fallback '%s'. Deduplication is waived for this submission.", req.SourceSystem, req.JobName, fallback)
	return fallback, true
}

// hashFileContent streams the file through SHA-256 and returns the shortened
// uppercase hex digest.
func hashFileContent(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	digest := hex.EncodeToString(hasher.Sum(nil))
	return strings.ToUpper(digest[:discriminatorHashLength]), nil
}

// normalizeDate strips common date separators so 2025-08-19, 2025/08/19 and
// 20250819 all normalize to the same component.
func normalizeDate(date string) string {
	replacer := strings.NewReplacer("-", "", "/", "", ".", "")
	return replacer.Replace(strings.TrimSpace(date))
}

func isAllowedKeyRune(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == ':' || r == '-'
}

// sanitizeKey uppercases a full key and replaces disallowed runes with '_'.
// Colons are preserved as segment separators.
func sanitizeKey(raw string) string {
	upper := strings.ToUpper(strings.TrimSpace(raw))
	var sb strings.Builder
	sb.Grow(len(upper))
	for _, r := range upper {
		if isAllowedKeyRune(r) {
			sb.WriteRune(r)
		} else {
			sb.WriteRune('_')
		}
	}
	return sb.String()
}

// sanitizeComponent sanitizes one key segment. Unlike sanitizeKey it also
// rewrites colons so a segment can never masquerade as a separator.
func sanitizeComponent(raw string) string {
	s := sanitizeKey(raw)
	return strings.ReplaceAll(s, ":", "_")
}

// enforceLength truncates an over-long key to MaxKeyLength, keeping a short
// hash suffix of the full key so distinct long keys stay distinct.
func enforceLength(key string) string {
	if len(key) <= MaxKeyLength {
		return key
	}
	hasher := sha256.New()
	hasher.Write([]byte(key))
	suffix := strings.ToUpper(hex.EncodeToString(hasher.Sum(nil))[:8])
	prefixLen := MaxKeyLength - len(suffix) - 1
	truncated := key[:prefixLen] + "-" + suffix
	logger.Debugf("KeyGenerator: truncated over-long key to %d chars with hash suffix %s", len(truncated), suffix)
	return truncated
}
