// Package buildinfo exposes build metadata injected via ldflags:
//
//	go build -ldflags "-X github.com/yndnr/tidekv/internal/infra/buildinfo.Version=v1.0.0"
package buildinfo
