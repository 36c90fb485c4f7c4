package adapters

import (
	"strings"

	"github.com/smallbiznis/creditmeter/internal/payment/domain"
)

// Registry routes inbound webhooks to the verifier of their provider.
type Registry struct {
	verifiers map[string]domain.WebhookVerifier
}

func NewRegistry(verifiers ...domain.WebhookVerifier) *Registry {
	registry := &Registry{verifiers: map[string]domain.WebhookVerifier{}}
	for _, verifier := range verifiers {
		if verifier == nil {
			continue
		}
		provider := strings.ToLower(strings.TrimSpace(verifier.Provider()))
		if provider == "" {
			continue
		}
		registry.verifiers[provider] = verifier
	}
	return registry
}

func (r *Registry) ProviderExists(provider string) bool {
	_, err := r.Verifier(provider)
	return err == nil
}

func (r *Registry) Verifier(provider string) (domain.WebhookVerifier, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	verifier, ok := r.verifiers[provider]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return verifier, nil
}
