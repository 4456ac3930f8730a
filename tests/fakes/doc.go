// Package fakes provides test doubles for secretops provider interfaces.
//
// This package contains in-memory implementations of the narrow cloud SDK
// interfaces the providers depend on, so provider behavior can be tested
// without real service dependencies. Fakes are manually implemented (not
// generated) to provide precise control over test behavior.
//
// Usage:
//
//	fake := fakes.NewFakeKeyVaultClient()
//	p, _ := providers.NewAzureKeyVaultProvider("vault", 50, cfg, logger,
//	    providers.WithAzureKeyVaultClient(fake))
//	// Test provider methods...
package fakes
