// Command tidekv-cli inspects and edits tidekv store files.
//
//	tidekv-cli --db app.db set greeting '"hello"'
//	tidekv-cli --db app.db get greeting
//	tidekv-cli --db app.db watch
//
// Settings come from ~/.tidekv/cli.yaml, TIDEKV_* environment variables and
// flags, in increasing priority.
package main
