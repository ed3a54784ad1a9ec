package openstack

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCredentials() Credentials {
	return Credentials{
		Endpoint: "https://keystone.example.com/v3",
		Identity: "ci:robot:Default",
		Secret:   "hunter2",
		Region:   "RegionOne",
	}
}

func TestCredentialsFingerprint(t *testing.T) {
	creds := testCredentials()
	other := testCredentials()
	other.Secret = "hunter3"

	assert.Len(t, creds.Fingerprint(), 64)
	assert.Equal(t, creds.Fingerprint(), testCredentials().Fingerprint())
	assert.NotEqual(t, creds.Fingerprint(), other.Fingerprint())
}

func TestCredentialsNormalize(t *testing.T) {
	creds := testCredentials()
	creds.Endpoint = "  " + creds.Endpoint + "\n"

	normalized, err := creds.normalize()
	require.NoError(t, err)
	assert.Equal(t, testCredentials(), normalized)

	for name, mutate := range map[string]func(*Credentials){
		"no endpoint":      func(c *Credentials) { c.Endpoint = " " },
		"no identity":      func(c *Credentials) { c.Identity = "" },
		"no secret":        func(c *Credentials) { c.Secret = "" },
		"no user":          func(c *Credentials) { c.Identity = "ci" },
		"empty tenant":     func(c *Credentials) { c.Identity = ":robot" },
		"empty user in v3": func(c *Credentials) { c.Identity = "ci::Default" },
	} {
		t.Run(name, func(t *testing.T) {
			creds := testCredentials()
			mutate(&creds)
			_, err := creds.normalize()
			assert.ErrorIs(t, err, ErrInvalidCredentials)
		})
	}
}

func TestParseIdentity(t *testing.T) {
	assert.Equal(t, identity{tenant: "ci", user: "robot"}, parseIdentity("ci:robot"))
	assert.Equal(t, identity{tenant: "ci", user: "robot", domain: "Default"}, parseIdentity("ci:robot:Default"))
	assert.Equal(t, identity{tenant: "ci", user: "robot", domain: "a:b"}, parseIdentity("ci:robot:a:b"))
	assert.False(t, parseIdentity("ci:robot").keystoneV3())
	assert.True(t, parseIdentity("ci:robot:Default").keystoneV3())
}

func TestCredentialsLogValueHidesSecret(t *testing.T) {
	var buf bytes.Buffer
	slog.New(slog.NewTextHandler(&buf, nil)).Info("test", "credentials", testCredentials())

	assert.Contains(t, buf.String(), "credentials.identity=ci:robot:Default")
	assert.NotContains(t, buf.String(), "hunter2")
}
