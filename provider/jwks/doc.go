// Package jwks verifies identity assertions signed by an external provider
// that publishes its keys as a JWK set, and maps them to federated logins.
package jwks
