package mandate

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/upb/authority-gate/internal/canonical"
	"github.com/upb/authority-gate/models"
	"github.com/zeebo/blake3"
)

// Fingerprinter derives deterministic cache keys from requests.
// Only principal, action, resource and the configured context fields
// take part, so the same logical request always maps to the same key.
type Fingerprinter struct {
	fields []string
}

// NewFingerprinter creates a Fingerprinter that includes the named
// context fields. With no fields the key covers principal, action and
// resource only.
func NewFingerprinter(fields ...string) *Fingerprinter {
	sorted := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			sorted = append(sorted, f)
		}
	}
	sort.Strings(sorted)
	return &Fingerprinter{fields: sorted}
}

// fingerprintInput is the canonical input to the fingerprint hash
type fingerprintInput struct {
	Principal string                `cbor:"1,keyasint"`
	Action    string                `cbor:"2,keyasint"`
	Resource  string                `cbor:"3,keyasint"`
	Context   []models.ContextField `cbor:"4,keyasint,omitempty"`
}

// Fingerprint returns the hex-encoded blake3 digest of the request's
// identifying fields
func (f *Fingerprinter) Fingerprint(req *models.AuthorizationRequest) (string, error) {
	input := fingerprintInput{
		Principal: req.Principal(),
		Action:    req.Action(),
		Resource:  req.Resource(),
	}

	for _, key := range f.fields {
		value, ok := req.ContextValue(key)
		if !ok {
			continue
		}
		normalized, err := normalizeValue(value)
		if err != nil {
			return "", fmt.Errorf("mandate: fingerprint field %q: %w", key, err)
		}
		input.Context = append(input.Context, models.ContextField{Key: key, Value: normalized})
	}

	data, err := canonical.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("mandate: encoding fingerprint input: %w", err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// normalizeValue converts arbitrary Go values (structs, typed maps) to
// plain JSON data so equal logical values encode identically
func normalizeValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// HashArgs returns a hex digest of call arguments, used as state
// evidence in audit records. Structs contribute exported fields only.
func HashArgs(args []any) (string, error) {
	normalized := make([]any, len(args))
	for i, a := range args {
		v, err := normalizeValue(a)
		if err != nil {
			return "", fmt.Errorf("mandate: hashing argument %d: %w", i, err)
		}
		normalized[i] = v
	}
	data, err := canonical.Marshal(normalized)
	if err != nil {
		return "", fmt.Errorf("mandate: encoding arguments: %w", err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
