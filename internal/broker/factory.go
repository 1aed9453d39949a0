package broker

import (
	"fmt"
	"strings"
)

// Kind identifies which broker variant to construct, matching the
// BROKER environment variable.
type Kind string

const (
	KindOAuth  Kind = "oauth"
	KindAPIKey Kind = "apikey"
	KindDryRun Kind = "dry-run"
)

// SupportedKinds lists every broker variant the factory can build.
var SupportedKinds = []string{string(KindOAuth), string(KindAPIKey), string(KindDryRun)}

// IsSupported reports whether name names a known broker variant.
func IsSupported(name string) bool {
	name = strings.ToLower(name)
	for _, k := range SupportedKinds {
		if name == k {
			return true
		}
	}
	return false
}

// NewOAuthFromConfig and NewAPIKeyFromConfig are thin wrappers kept
// here so callers only need to import this package's factory, mirroring
// the teacher's NewExchange(name) single entry point. The dry-run
// variant needs no external configuration beyond a synthetic price.
func NewDryRunFromConfig(defaultPriceCents int64) Broker {
	return NewDryRun(defaultPriceCents)
}

func NewAPIKeyFromConfig(cfg APIKeyConfig) Broker {
	return NewAPIKey(cfg)
}

func NewOAuthFromConfig(cfg OAuthConfig, initial Tokens) Broker {
	return NewOAuth(cfg, initial)
}

// unsupportedKindErr is returned when kind names an unrecognized variant.
func unsupportedKindErr(name string) error {
	return fmt.Errorf("unsupported broker: %s", name)
}

// NewBroker dispatches to the adapter constructor matching kind, the
// single entry point process wiring calls instead of importing the
// three concrete constructors directly.
func NewBroker(kind Kind, oauthCfg OAuthConfig, oauthInitial Tokens, apiKeyCfg APIKeyConfig, dryRunPriceCents int64) (Broker, error) {
	switch kind {
	case KindOAuth:
		return NewOAuthFromConfig(oauthCfg, oauthInitial), nil
	case KindAPIKey:
		return NewAPIKeyFromConfig(apiKeyCfg), nil
	case KindDryRun:
		return NewDryRunFromConfig(dryRunPriceCents), nil
	default:
		return nil, unsupportedKindErr(string(kind))
	}
}
