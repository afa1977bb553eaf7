// Package config loads agent configuration from a TOML file (FromFile) or
// environment variables (FromEnv), and defines the NetworkingConfig shape
// the network manager mirrors its CNI definitions into.
package config
