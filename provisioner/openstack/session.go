package openstack

import (
	"fmt"
	"time"

	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack"
	tokens2 "github.com/gophercloud/gophercloud/openstack/identity/v2/tokens"
	tokens3 "github.com/gophercloud/gophercloud/openstack/identity/v3/tokens"
)

// Session is an authenticated OpenStack account.
// It never re-authenticates: once ExpiresAt is reached it must be replaced.
type Session interface {
	// Current returns a fresh provider client bound to the session token.
	Current() *gophercloud.ProviderClient
	ExpiresAt() time.Time
}

// SessionFactory authenticates credentials into a new Session.
type SessionFactory func(Credentials) (Session, error)

// NewSession performs a single authentication round trip.
// The Keystone version is chosen from the identity: a domain means v3.
func NewSession(creds Credentials) (Session, error) {
	id := parseIdentity(creds.Identity)

	provider, err := openstack.NewClient(creds.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for '%s': %w", creds.Endpoint, err)
	}

	// Region is applied per service client, identity endpoints are derived from the auth URL.
	if id.keystoneV3() {
		err = openstack.AuthenticateV3(provider, &gophercloud.AuthOptions{
			IdentityEndpoint: creds.Endpoint,
			Username:         id.user,
			Password:         creds.Secret,
			DomainName:       id.domain,
			Scope: &gophercloud.AuthScope{
				ProjectName: id.tenant,
				DomainName:  id.domain,
			},
		}, gophercloud.EndpointOpts{})
	} else {
		err = openstack.AuthenticateV2(provider, gophercloud.AuthOptions{
			IdentityEndpoint: creds.Endpoint,
			Username:         id.user,
			Password:         creds.Secret,
			TenantName:       id.tenant,
		}, gophercloud.EndpointOpts{})
	}
	if err != nil {
		if isUnauthorized(err) {
			return nil, fmt.Errorf("%w: %w", ErrAuthenticationFailure, err)
		}
		return nil, fmt.Errorf("failed to authenticate against '%s': %w", creds.Endpoint, err)
	}

	return sessionFromAuthResult(provider)
}

// SessionFromProvider wraps an already authenticated provider client.
// It panics when the client carries no token expiration, which is a programming error.
func SessionFromProvider(provider *gophercloud.ProviderClient) Session {
	session, err := sessionFromAuthResult(provider)
	if err != nil {
		panic(err)
	}
	return session
}

func sessionFromAuthResult(provider *gophercloud.ProviderClient) (Session, error) {
	switch result := provider.GetAuthResult().(type) {
	case tokens2.CreateResult:
		return newSessionV2(provider, result)
	case *tokens2.CreateResult:
		return newSessionV2(provider, *result)
	case tokens3.CreateResult:
		return newSessionV3(provider, result)
	case *tokens3.CreateResult:
		return newSessionV3(provider, *result)
	default:
		return nil, fmt.Errorf("unsupported authentication result %T, unable to determine token expiration", result)
	}
}

type sessionV2 struct {
	base      *gophercloud.ProviderClient
	result    tokens2.CreateResult
	catalog   *tokens2.ServiceCatalog
	expiresAt time.Time
}

func newSessionV2(base *gophercloud.ProviderClient, result tokens2.CreateResult) (*sessionV2, error) {
	token, err := result.ExtractToken()
	if err != nil {
		return nil, fmt.Errorf("failed to extract keystone v2 token: %w", err)
	}
	if token.ExpiresAt.IsZero() {
		return nil, fmt.Errorf("no expiration specified in keystone v2 token")
	}

	catalog, err := result.ExtractServiceCatalog()
	if err != nil {
		return nil, fmt.Errorf("failed to extract keystone v2 service catalog: %w", err)
	}

	return &sessionV2{base: base, result: result, catalog: catalog, expiresAt: token.ExpiresAt}, nil
}

func (s *sessionV2) Current() *gophercloud.ProviderClient {
	return derive(s.base, s.result, func(opts gophercloud.EndpointOpts) (string, error) {
		return openstack.V2EndpointURL(s.catalog, opts)
	})
}

func (s *sessionV2) ExpiresAt() time.Time {
	return s.expiresAt
}

type sessionV3 struct {
	base      *gophercloud.ProviderClient
	result    tokens3.CreateResult
	catalog   *tokens3.ServiceCatalog
	expiresAt time.Time
}

func newSessionV3(base *gophercloud.ProviderClient, result tokens3.CreateResult) (*sessionV3, error) {
	token, err := result.ExtractToken()
	if err != nil {
		return nil, fmt.Errorf("failed to extract keystone v3 token: %w", err)
	}
	if token.ExpiresAt.IsZero() {
		return nil, fmt.Errorf("no expiration specified in keystone v3 token")
	}

	catalog, err := result.ExtractServiceCatalog()
	if err != nil {
		return nil, fmt.Errorf("failed to extract keystone v3 service catalog: %w", err)
	}

	return &sessionV3{base: base, result: result, catalog: catalog, expiresAt: token.ExpiresAt}, nil
}

func (s *sessionV3) Current() *gophercloud.ProviderClient {
	return derive(s.base, s.result, func(opts gophercloud.EndpointOpts) (string, error) {
		return openstack.V3EndpointURL(s.catalog, opts)
	})
}

func (s *sessionV3) ExpiresAt() time.Time {
	return s.expiresAt
}

// derive builds a provider client sharing the session token but no mutable state.
// No ReauthFunc is installed: an expired token surfaces as an error.
func derive(base *gophercloud.ProviderClient, result gophercloud.AuthResult, locator gophercloud.EndpointLocator) *gophercloud.ProviderClient {
	client := &gophercloud.ProviderClient{
		IdentityBase:     base.IdentityBase,
		IdentityEndpoint: base.IdentityEndpoint,
		HTTPClient:       base.HTTPClient,
		UserAgent:        base.UserAgent,
		EndpointLocator:  locator,
	}
	client.UseTokenLock()

	// The token id was extracted successfully when the session was created.
	_ = client.SetTokenAndAuthResult(result)
	return client
}
