// Package agent provides agent invoker implementations.
//
// The factory creates invokers based on provider configuration.
// Currently supports:
//   - Anthropic Claude
package agent
