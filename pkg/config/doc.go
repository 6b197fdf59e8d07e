// Package config loads the logmail YAML configuration, expanding ${VAR}
// references from the environment and an optional .env file.
package config
