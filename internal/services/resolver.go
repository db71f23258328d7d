package services

import (
	"errors"
	"fmt"

	"github.com/wellis321/cv-app-sub000/internal/models"
)

// KeySource says where the credential for a resolution comes from.
type KeySource int

const (
	KeyNone   KeySource = iota // provider needs no credential
	KeyStored                  // reveal from the vault at dispatch time
	KeyInline                  // one-shot ephemeral key, never persisted
	KeyOrg                     // reveal from the vault under the org's owner ID
)

// Resolution is the single effective provider for a request. It carries no
// plaintext credential; reveal happens at dispatch time.
type Resolution struct {
	Provider  string
	BaseURL   string
	Model     string
	OwnerID   string // vault owner to reveal from (user or org)
	KeySource KeySource
	Delegated bool // in-browser provider: issue a ticket instead of dispatching
}

// ResolveInput is everything the resolver needs, gathered up front so
// resolution itself is a pure function of configs — cheap to re-compute
// per request, immune to stale caches.
type ResolveInput struct {
	UserID     string
	Privileged bool

	Settings   *models.AISettings // nil when the user never chose
	UserHasKey bool               // credential stored for Settings.Provider

	OrgID     string
	OrgPolicy *models.OrgAIPolicy // nil when not a member or no policy
	OrgHasKey bool

	InlineKey string // test-connection path only

	// Site default (from config)
	DefaultBaseURL string
	DefaultModel   string
}

// ErrMissingCredential is returned when an explicitly selected cloud
// provider has no stored credential and no inline key was supplied.
var ErrMissingCredential = errors.New("no API key stored for the selected provider; re-enter the key in AI settings")

// Resolve computes the single effective provider. First match wins:
//  1. explicit self-hosted selection without privilege → authorization error
//  2. explicit cloud selection with a stored credential → use it
//  3. explicit cloud selection with an inline key → one-shot ephemeral use
//  4. explicit in-browser selection → browser delegation, no gating
//  5. no explicit selection → org policy, if present and enabled
//  6. otherwise → site default
func Resolve(in ResolveInput) (*Resolution, error) {
	if in.Settings != nil && in.Settings.Provider != "" && in.Settings.Provider != models.ProviderDefault {
		return resolveExplicit(in)
	}

	if in.OrgPolicy != nil && in.OrgPolicy.Enabled {
		return resolveOrgPolicy(in)
	}

	return &Resolution{
		Provider:  models.ProviderDefault,
		BaseURL:   in.DefaultBaseURL,
		Model:     in.DefaultModel,
		KeySource: KeyNone, // site default key is process config, not vault state
	}, nil
}

func resolveExplicit(in ResolveInput) (*Resolution, error) {
	settings := in.Settings

	switch {
	case settings.Provider == models.ProviderOllama:
		// Defense in depth: the same gate applies at write time
		if !in.Privileged {
			return nil, ErrPrivilegedProvider
		}
		return &Resolution{
			Provider:  models.ProviderOllama,
			BaseURL:   settings.BaseURL,
			Model:     settings.Model,
			KeySource: KeyNone,
		}, nil

	case settings.Provider == models.ProviderBrowser:
		// No gating: the server performs no work on the model's behalf
		return &Resolution{
			Provider:  models.ProviderBrowser,
			Model:     settings.Model,
			Delegated: true,
		}, nil

	case models.CloudProviders[settings.Provider]:
		res := &Resolution{
			Provider: settings.Provider,
			BaseURL:  settings.BaseURL,
			Model:    settings.Model,
			OwnerID:  in.UserID,
		}
		switch {
		case in.UserHasKey:
			res.KeySource = KeyStored
		case in.InlineKey != "":
			if err := models.ValidateAPIKey(settings.Provider, in.InlineKey); err != nil {
				return nil, err
			}
			res.KeySource = KeyInline
		default:
			return nil, ErrMissingCredential
		}
		return res, nil

	default:
		return nil, fmt.Errorf("unknown provider: %s", settings.Provider)
	}
}

func resolveOrgPolicy(in ResolveInput) (*Resolution, error) {
	policy := in.OrgPolicy

	if policy.Provider == models.ProviderBrowser {
		return &Resolution{
			Provider:  models.ProviderBrowser,
			Model:     policy.Model,
			Delegated: true,
		}, nil
	}

	res := &Resolution{
		Provider: policy.Provider,
		BaseURL:  policy.BaseURL,
		Model:    policy.Model,
		OwnerID:  in.OrgID,
	}

	// Org selection of the self-hosted server was privilege-checked when
	// the org admin wrote the policy; members inherit it.
	if models.CloudProviders[policy.Provider] {
		if !in.OrgHasKey {
			// A misconfigured org policy must not strand members
			return &Resolution{
				Provider:  models.ProviderDefault,
				BaseURL:   in.DefaultBaseURL,
				Model:     in.DefaultModel,
				KeySource: KeyNone,
			}, nil
		}
		res.KeySource = KeyOrg
	}

	return res, nil
}
