//go:build !protogen

package schedule

import "context"

// NewProvider without generated proto bindings always serves the static
// env-configured schedule, ignoring addr.
func NewProvider(_ context.Context, _ string) (Provider, error) {
	return NewStaticProviderFromEnv(), nil
}
