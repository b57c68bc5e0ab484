// Package config provides the tidekv-cli configuration.
//
//   - spec.go: CLIConfig struct (~/.tidekv/cli.yaml) and validation
//   - loader.go: layered loading through confloader, and Save
package config
