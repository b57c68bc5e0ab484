package command

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/tidekv/internal/cli/output"
	"github.com/yndnr/tidekv/internal/infra/shutdown"
	"github.com/yndnr/tidekv/pkg/tidekv"
)

// WatchCommand returns the watch command.
func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Print changes other processes make to the store until interrupted",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "interval",
				Aliases: []string{"i"},
				Usage:   "Minimum time between reloads (default from auto_sync)",
			},
		},
		Action: watchAction,
	}
}

func watchAction(c *cli.Context) error {
	interval := cliConfig(c).AutoSync
	if c.IsSet("interval") {
		interval = c.Duration("interval")
	}
	if interval <= 0 {
		return fmt.Errorf("watch: interval must be positive")
	}

	reloads := make(chan error, 1)
	hook := func(err error) {
		select {
		case reloads <- err:
		default:
		}
	}
	log := cliLogger(c)

	return withStore(c, func(db *tidekv.DB[any]) error {
		p := &changePrinter{w: c.App.Writer, db: db}
		p.last = p.snapshot()
		fmt.Fprintf(c.App.Writer, "watching %s (%d keys)\n", db.Path(), len(p.last))

		ctx, cancel := context.WithCancel(c.Context)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				select {
				case <-ctx.Done():
					return
				case err := <-reloads:
					if err != nil {
						log.Warn("reload failed", "path", db.Path(), "error", err)
						continue
					}
					p.update()
				}
			}
		}()

		h := shutdown.NewHandler(time.Second)
		h.OnShutdown(func(context.Context) error {
			cancel()
			<-done
			return nil
		})
		return h.Wait(ctx)
	}, tidekv.WithAutoSync[any](interval), tidekv.WithSyncHook[any](hook))
}

// changePrinter prints the difference between successive snapshots.
type changePrinter struct {
	w    io.Writer
	db   *tidekv.DB[any]
	last map[string]string
}

func (p *changePrinter) snapshot() map[string]string {
	m := make(map[string]string)
	for k, v := range p.db.All() {
		m[k] = output.Cell(v)
	}
	return m
}

func (p *changePrinter) update() {
	cur := p.snapshot()
	for _, line := range diffSnapshots(p.last, cur) {
		fmt.Fprintln(p.w, line)
	}
	p.last = cur
}

// diffSnapshots lists "set KEY VALUE" and "del KEY" lines in key order.
func diffSnapshots(prev, cur map[string]string) []string {
	keys := make([]string, 0, len(cur)+len(prev))
	for k, v := range cur {
		if old, ok := prev[k]; !ok || old != v {
			keys = append(keys, k)
		}
	}
	for k := range prev {
		if _, ok := cur[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	lines := make([]string, len(keys))
	for i, k := range keys {
		if v, ok := cur[k]; ok {
			lines[i] = fmt.Sprintf("set %s %s", k, v)
		} else {
			lines[i] = fmt.Sprintf("del %s", k)
		}
	}
	return lines
}
