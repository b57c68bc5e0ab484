// Package output provides output formatting for tidekv-cli.
//
//   - formatter.go: Formatter interface and factory
//   - table.go: aligned column rendering
//   - json.go: indented JSON
//   - yaml.go: YAML documents
//
// Commands pick the formatter from the --output flag, so every result must
// also be serializable as JSON and YAML.
package output
