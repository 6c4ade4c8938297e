package punchout

import (
	"strings"

	"github.com/alexedwards/argon2id"

	"github.com/noah-isme/backend-punchout/internal/cxml"
)

// Credential is a buyer identity allowed to open sessions. SecretHash is an
// argon2id hash of the shared secret. OnBehalfOf lists the From identities
// this credential may open sessions for besides its own, e.g. the
// organisations a procurement network authenticates for.
type Credential struct {
	Domain     string
	Identity   string
	SecretHash string
	OnBehalfOf []cxml.Identity
}

// Credentials verifies setup credentials.
type Credentials struct {
	entries map[credentialKey]credentialEntry
	decoy   string
}

type credentialKey struct {
	domain   string
	identity string
}

type credentialEntry struct {
	hash   string
	buyers map[credentialKey]struct{}
}

// NewCredentials indexes creds by domain (case-insensitive) and identity.
func NewCredentials(creds []Credential) *Credentials {
	c := &Credentials{entries: make(map[credentialKey]credentialEntry, len(creds))}
	for _, cred := range creds {
		entry := credentialEntry{hash: cred.SecretHash, buyers: make(map[credentialKey]struct{}, len(cred.OnBehalfOf))}
		for _, buyer := range cred.OnBehalfOf {
			entry.buyers[keyFor(buyer.Domain, buyer.Identity)] = struct{}{}
		}
		c.entries[keyFor(cred.Domain, cred.Identity)] = entry
		if c.decoy == "" {
			c.decoy = cred.SecretHash
		}
	}
	return c
}

func keyFor(domain, identity string) credentialKey {
	return credentialKey{domain: strings.ToLower(strings.TrimSpace(domain)), identity: strings.TrimSpace(identity)}
}

// Verify reports whether secret matches the hash configured for the pair.
// Unknown pairs still pay for one hash comparison.
func (c *Credentials) Verify(domain, identity, secret string) bool {
	_, ok := c.lookup(domain, identity, secret)
	return ok
}

// Authenticate verifies the sender's secret and resolves the buyer the
// session belongs to. An empty From, or one equal to the sender, makes the
// sender the buyer; any other From must be listed in the credential's
// OnBehalfOf set.
func (c *Credentials) Authenticate(sender, from cxml.Identity, secret string) (cxml.Identity, bool) {
	entry, ok := c.lookup(sender.Domain, sender.Identity, secret)
	if !ok {
		return cxml.Identity{}, false
	}
	if strings.TrimSpace(from.Domain) == "" && strings.TrimSpace(from.Identity) == "" {
		return sender, true
	}
	fromKey := keyFor(from.Domain, from.Identity)
	if fromKey == keyFor(sender.Domain, sender.Identity) {
		return sender, true
	}
	if _, allowed := entry.buyers[fromKey]; allowed {
		return from, true
	}
	return cxml.Identity{}, false
}

func (c *Credentials) lookup(domain, identity, secret string) (credentialEntry, bool) {
	if c == nil {
		return credentialEntry{}, false
	}
	entry, ok := c.entries[keyFor(domain, identity)]
	if !ok {
		if c.decoy != "" {
			_, _ = argon2id.ComparePasswordAndHash(secret, c.decoy)
		}
		return credentialEntry{}, false
	}
	match, err := argon2id.ComparePasswordAndHash(secret, entry.hash)
	if err != nil || !match {
		return credentialEntry{}, false
	}
	return entry, true
}
