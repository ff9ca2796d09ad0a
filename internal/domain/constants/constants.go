// Package constants holds configuration values shared across layers.
package constants

// EnvDevelop is the environment assumed when none is configured
const EnvDevelop = "develop"

// Pub/Sub providers
const (
	PubSubProviderLocal  = "local"
	PubSubProviderGoogle = "google"
)

// Store drivers
const (
	StoreDriverMemory = "memory"
	StoreDriverRedis  = "redis"
)
