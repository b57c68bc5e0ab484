package command

import (
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/urfave/cli/v2"

	"github.com/yndnr/tidekv/internal/cli/output"
	"github.com/yndnr/tidekv/pkg/tidekv"
)

type storeStats struct {
	Path      string             `json:"path" yaml:"path"`
	Keys      int                `json:"keys" yaml:"keys"`
	FileBytes int64              `json:"file_bytes" yaml:"file_bytes"`
	LogSize   int                `json:"log_size" yaml:"log_size"`
	Codec     string             `json:"codec" yaml:"codec"`
	Sealed    bool               `json:"sealed" yaml:"sealed"`
	Metrics   map[string]float64 `json:"metrics,omitempty" yaml:"metrics,omitempty"`
}

func (s storeStats) Table() *output.Table {
	t := &output.Table{Headers: []string{"FIELD", "VALUE"}}
	t.AddRow("path", s.Path)
	t.AddRow("keys", fmt.Sprint(s.Keys))
	t.AddRow("file_bytes", fmt.Sprint(s.FileBytes))
	t.AddRow("log_size", fmt.Sprint(s.LogSize))
	t.AddRow("codec", s.Codec)
	t.AddRow("sealed", fmt.Sprint(s.Sealed))

	names := make([]string, 0, len(s.Metrics))
	for name := range s.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t.AddRow(name, fmt.Sprint(s.Metrics[name]))
	}
	return t
}

func collectStats(c *cli.Context, db *tidekv.DB[any]) (storeStats, error) {
	size, err := db.Bytesize()
	if err != nil {
		return storeStats{}, err
	}
	cfg := cliConfig(c)
	return storeStats{
		Path:      db.Path(),
		Keys:      db.Len(),
		FileBytes: size,
		LogSize:   db.LogSize(),
		Codec:     cfg.Codec,
		Sealed:    cfg.SealKey != "",
	}, nil
}

// LoadCommand returns the load command.
func LoadCommand() *cli.Command {
	return &cli.Command{
		Name:    "load",
		Aliases: []string{"sync"},
		Usage:   "Replay the file and report what was loaded",
		Action: func(c *cli.Context) error {
			return withStore(c, func(db *tidekv.DB[any]) error {
				if err := db.Load(); err != nil {
					return err
				}
				stats, err := collectStats(c, db)
				if err != nil {
					return err
				}
				return printResult(c, stats)
			})
		},
	}
}

type compactResult struct {
	Swapped     bool  `json:"swapped" yaml:"swapped"`
	BytesBefore int64 `json:"bytes_before" yaml:"bytes_before"`
	BytesAfter  int64 `json:"bytes_after" yaml:"bytes_after"`
}

func (r compactResult) Table() *output.Table {
	msg := "already compact"
	if r.Swapped {
		msg = fmt.Sprintf("compacted %d -> %d bytes", r.BytesBefore, r.BytesAfter)
	}
	return &output.Table{Rows: [][]string{{msg}}}
}

// CompactCommand returns the compact command.
func CompactCommand() *cli.Command {
	return &cli.Command{
		Name:  "compact",
		Usage: "Rewrite the file to hold only live entries",
		Action: func(c *cli.Context) error {
			return withStore(c, func(db *tidekv.DB[any]) error {
				before, err := db.Bytesize()
				if err != nil {
					return err
				}
				swapped, err := db.Compact()
				if err != nil {
					return err
				}
				after, err := db.Bytesize()
				if err != nil {
					return err
				}
				return printResult(c, compactResult{Swapped: swapped, BytesBefore: before, BytesAfter: after})
			})
		},
	}
}

// ClearCommand returns the clear command.
func ClearCommand() *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "Remove every entry",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "force",
				Aliases: []string{"f"},
				Usage:   "Confirm removal",
			},
		},
		Action: func(c *cli.Context) error {
			if !c.Bool("force") {
				return fmt.Errorf("clear: refusing to remove every entry without --force")
			}
			return withStore(c, func(db *tidekv.DB[any]) error {
				n := db.Len()
				if err := db.Clear(); err != nil {
					return err
				}
				return printResult(c, countResult{Action: "cleared", Count: n})
			})
		},
	}
}

// StatCommand returns the stat command.
func StatCommand() *cli.Command {
	return &cli.Command{
		Name:  "stat",
		Usage: "Show store statistics",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "metrics",
				Usage: "Include the store's Prometheus metrics",
			},
		},
		Action: statAction,
	}
}

func statAction(c *cli.Context) error {
	var reg *prometheus.Registry
	var extra []tidekv.Option[any]
	if c.Bool("metrics") {
		reg = prometheus.NewRegistry()
		extra = append(extra, tidekv.WithMetrics[any](reg))
	}

	return withStore(c, func(db *tidekv.DB[any]) error {
		stats, err := collectStats(c, db)
		if err != nil {
			return err
		}
		if reg != nil {
			families, err := reg.Gather()
			if err != nil {
				return fmt.Errorf("gather metrics: %w", err)
			}
			stats.Metrics = flattenMetrics(families)
		}
		return printResult(c, stats)
	}, extra...)
}

// flattenMetrics turns gathered families into name{labels} -> value.
// Histograms report their sample count.
func flattenMetrics(families []*dto.MetricFamily) map[string]float64 {
	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			name := mf.GetName()
			if len(m.GetLabel()) > 0 {
				pairs := make([]string, 0, len(m.GetLabel()))
				for _, lp := range m.GetLabel() {
					pairs = append(pairs, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
				}
				name += "{" + strings.Join(pairs, ",") + "}"
			}

			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				out[name] = m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				out[name] = m.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				out[name+"_count"] = float64(m.GetHistogram().GetSampleCount())
			case dto.MetricType_UNTYPED:
				out[name] = m.GetUntyped().GetValue()
			}
		}
	}
	return out
}
