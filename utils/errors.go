package utils

import "fmt"

type IpAddressError struct{}
type AddressNotFoundError struct{}
type DatabaseUnavailableError struct{}
type CascadeExhaustedError struct {
	Attempts int
}

// UnknownProviderError names a provider that is not in the catalog.
type UnknownProviderError struct {
	Provider string
}

// ProviderUnavailableError is returned by keyed providers that have no key
// configured. It is permanent: the cascade never invokes them.
type ProviderUnavailableError struct {
	Provider string
}

// ProviderError wraps a failure of a single online provider.
type ProviderError struct {
	Provider string
	Err      error
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (e IpAddressError) Error() string {
	return "invalid IP address"
}

func (e UnknownProviderError) Error() string {
	return fmt.Sprintf("unknown provider %s", e.Provider)
}

func (e AddressNotFoundError) Error() string {
	return "address not found in local database"
}

func (e DatabaseUnavailableError) Error() string {
	return "local database unavailable"
}

func (e CascadeExhaustedError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("all online providers failed after %d attempts", e.Attempts)
	}
	return "all online providers failed"
}

func (e ProviderUnavailableError) Error() string {
	return fmt.Sprintf("provider %s is not configured", e.Provider)
}

func (e ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e ProviderError) Unwrap() error {
	return e.Err
}
