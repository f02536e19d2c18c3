package keyset

import (
	"crypto/rsa"
	"encoding/json"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// minRSAModulusBits rejects toy keys published by misconfigured issuers.
const minRSAModulusBits = 2048

type jwkDocument struct {
	Keys *[]json.RawMessage `json:"keys"`
}

// parseDocument decodes a published key set and returns its usable RSA
// signing keys by kid, plus the number of entries that were skipped.
// Entries with another key type, a non-signature use, no kid, or bad key
// material are skipped. A body that is not a key set document is an error.
func parseDocument(body []byte) (map[string]*rsa.PublicKey, int, error) {
	var doc jwkDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, 0, fmt.Errorf("keyset: invalid key set JSON: %w", err)
	}
	if doc.Keys == nil {
		return nil, 0, fmt.Errorf("keyset: document has no \"keys\" member")
	}

	keys := make(map[string]*rsa.PublicKey, len(*doc.Keys))
	skipped := 0
	for _, raw := range *doc.Keys {
		kid, pub, err := parseEntry(raw)
		if err != nil {
			skipped++
			continue
		}
		keys[kid] = pub
	}
	return keys, skipped, nil
}

// parseEntry decodes one key set entry. Entries are parsed one at a time
// so a single malformed key does not discard the rest of the set.
func parseEntry(raw []byte) (string, *rsa.PublicKey, error) {
	key, err := jwk.ParseKey(raw)
	if err != nil {
		return "", nil, fmt.Errorf("keyset: invalid key: %w", err)
	}
	if key.KeyID() == "" {
		return "", nil, fmt.Errorf("keyset: key has no kid")
	}
	if key.KeyType() != jwa.RSA {
		return "", nil, fmt.Errorf("keyset: unsupported key type %q", key.KeyType())
	}
	if use := key.KeyUsage(); use != "" && use != string(jwk.ForSignature) {
		return "", nil, fmt.Errorf("keyset: key use %q is not sig", use)
	}

	var material any
	if err := key.Raw(&material); err != nil {
		return "", nil, fmt.Errorf("keyset: failed to export key: %w", err)
	}
	pub, ok := material.(*rsa.PublicKey)
	if !ok {
		return "", nil, fmt.Errorf("keyset: key %q is not an RSA public key", key.KeyID())
	}
	if err := checkRSAPublicKey(pub); err != nil {
		return "", nil, err
	}
	return key.KeyID(), pub, nil
}

func checkRSAPublicKey(pub *rsa.PublicKey) error {
	if pub.N == nil || pub.N.BitLen() < minRSAModulusBits {
		bits := 0
		if pub.N != nil {
			bits = pub.N.BitLen()
		}
		return fmt.Errorf("keyset: RSA modulus is %d bits, need at least %d", bits, minRSAModulusBits)
	}
	if pub.E < 3 || pub.E&1 == 0 {
		return fmt.Errorf("keyset: RSA exponent is out of range")
	}
	return nil
}
