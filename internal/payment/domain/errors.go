package domain

import "errors"

var (
	ErrInvalidProvider       = errors.New("invalid_provider")
	ErrProviderNotFound      = errors.New("provider_not_found")
	ErrProviderNotConfigured = errors.New("provider_not_configured")
	ErrProviderUnavailable   = errors.New("provider_unavailable")
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrEventIgnored          = errors.New("event_ignored")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
	ErrUnknownCustomer       = errors.New("unknown_customer")
	ErrPriceNotConfigured    = errors.New("price_not_configured")
	ErrInvalidRequest        = errors.New("invalid_request")
)
