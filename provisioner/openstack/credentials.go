package openstack

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
)

// Credentials identify one OpenStack account.
// Identity is 'tenant:user' for Keystone v2 or 'tenant:user:domain' for Keystone v3.
type Credentials struct {
	Endpoint string
	Identity string
	Secret   string
	Region   string
}

// Fingerprint is a digest of all fields, used to key the session cache.
func (c Credentials) Fingerprint() string {
	sum := sha256.Sum256([]byte(strings.Join([]string{c.Endpoint, c.Identity, c.Secret, c.Region}, "\n")))
	return hex.EncodeToString(sum[:])
}

// LogValue keeps the secret out of the logs.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("endpoint", c.Endpoint),
		slog.String("identity", c.Identity),
		slog.String("region", c.Region),
	)
}

func (c Credentials) normalize() (Credentials, error) {
	normalized := Credentials{
		Endpoint: strings.TrimSpace(c.Endpoint),
		Identity: strings.TrimSpace(c.Identity),
		Secret:   strings.TrimSpace(c.Secret),
		Region:   strings.TrimSpace(c.Region),
	}

	switch {
	case normalized.Endpoint == "":
		return normalized, fmt.Errorf("%w: no endpoint specified", ErrInvalidCredentials)
	case normalized.Identity == "":
		return normalized, fmt.Errorf("%w: no identity specified", ErrInvalidCredentials)
	case normalized.Secret == "":
		return normalized, fmt.Errorf("%w: no credential specified", ErrInvalidCredentials)
	}

	if id := parseIdentity(normalized.Identity); id.tenant == "" || id.user == "" {
		return normalized, fmt.Errorf("%w: identity '%s' is not in the 'tenant:user[:domain]' form", ErrInvalidCredentials, normalized.Identity)
	}

	return normalized, nil
}

type identity struct {
	tenant string
	user   string
	domain string
}

func parseIdentity(raw string) identity {
	parts := strings.SplitN(raw, ":", 3)
	var id identity
	switch len(parts) {
	case 3:
		id.domain = parts[2]
		fallthrough
	case 2:
		id.tenant, id.user = parts[0], parts[1]
	}
	return id
}

// keystoneV3 tells whether the identity requires domain scoped authentication.
func (id identity) keystoneV3() bool {
	return id.domain != ""
}
