// Package confloader loads layered configuration.
//
// Priority, highest first:
//
//  1. Overrides (command-line flags)
//  2. Environment variables (TIDEKV_*)
//  3. YAML configuration file
//  4. Defaults
package confloader
