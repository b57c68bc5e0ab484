package command

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/yndnr/tidekv/internal/cli/config"
	"github.com/yndnr/tidekv/internal/cli/output"
	"github.com/yndnr/tidekv/pkg/tidekv"
)

// openStore opens the configured store file with the configured codecs.
func openStore(c *cli.Context, extra ...tidekv.Option[any]) (*tidekv.DB[any], error) {
	cfg := cliConfig(c)
	codec, err := valueCodec(cfg)
	if err != nil {
		return nil, err
	}

	opts := []tidekv.Option[any]{
		tidekv.WithValueCodec[any](codec),
		tidekv.WithLogger[any](cliLogger(c).Slog()),
	}
	if reg := cliRegistry(c); reg != nil {
		opts = append(opts, tidekv.WithRegistry[any](reg))
	}
	if cfg.KeyFold {
		opts = append(opts, tidekv.WithKeyCodec[any](tidekv.FoldKeys{}))
	}
	opts = append(opts, extra...)

	db, err := tidekv.Open(cfg.DB, opts...)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.DB, err)
	}
	return db, nil
}

// withStore runs fn against the configured store and closes it. A close
// error is reported when fn succeeded, since it may mean writes were lost.
func withStore(c *cli.Context, fn func(db *tidekv.DB[any]) error, extra ...tidekv.Option[any]) (err error) {
	db, err := openStore(c, extra...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(db)
}

func valueCodec(cfg *config.CLIConfig) (tidekv.ValueCodec[any], error) {
	var codec tidekv.ValueCodec[any]
	switch cfg.Codec {
	case "yaml":
		codec = tidekv.YAMLCodec[any]{}
	case "string":
		codec = anyCodec[string]{inner: tidekv.StringCodec{}}
	case "raw":
		codec = anyCodec[[]byte]{inner: tidekv.RawCodec{}}
	default:
		codec = tidekv.JSONCodec[any]{}
	}

	key, err := cfg.SealKeyBytes()
	if err != nil {
		return nil, err
	}
	if key == nil {
		return codec, nil
	}
	sealed, err := tidekv.NewSealedCodec(codec, key)
	if err != nil {
		return nil, err
	}
	return sealed, nil
}

// anyCodec lets a typed codec serve a DB[any].
type anyCodec[T any] struct {
	inner tidekv.ValueCodec[T]
}

func (a anyCodec[T]) Encode(v any) ([]byte, error) {
	t, ok := v.(T)
	if !ok {
		var want T
		return nil, fmt.Errorf("value of type %T cannot be stored as %T", v, want)
	}
	return a.inner.Encode(t)
}

func (a anyCodec[T]) Decode(data []byte) (any, error) {
	return a.inner.Decode(data)
}

// parseValue turns a command-line argument into a value for the codec.
// With the json codec, text that is not valid JSON is stored as a string.
func parseValue(codec, s string) (any, error) {
	switch codec {
	case "string":
		return s, nil
	case "raw":
		return []byte(s), nil
	case "yaml":
		var v any
		if err := yaml.Unmarshal([]byte(s), &v); err != nil {
			return nil, fmt.Errorf("parse yaml value: %w", err)
		}
		return v, nil
	default:
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return s, nil
		}
		return v, nil
	}
}

// printResult writes data in the configured output format.
func printResult(c *cli.Context, data any) error {
	f := output.NewFormatter(output.Format(cliConfig(c).Output))
	if tf, ok := f.(*output.TableFormatter); ok {
		tf.NoHeaders = c.Bool("no-headers")
	}
	return f.Format(c.App.Writer, data)
}

type entry struct {
	Key   string `json:"key" yaml:"key"`
	Value any    `json:"value" yaml:"value"`
}

type entryList []entry

func (l entryList) Table() *output.Table {
	t := &output.Table{Headers: []string{"KEY", "VALUE"}}
	for _, e := range l {
		t.AddRow(e.Key, output.Cell(e.Value))
	}
	return t
}

type keyList []string

func (l keyList) Table() *output.Table {
	t := &output.Table{Headers: []string{"KEY"}}
	for _, k := range l {
		t.AddRow(k)
	}
	return t
}

// countResult reports how many keys a command touched.
type countResult struct {
	Action string `json:"-" yaml:"-"`
	Count  int    `json:"count" yaml:"count"`
}

func (r countResult) Table() *output.Table {
	return &output.Table{Rows: [][]string{{fmt.Sprintf("%s %d key(s)", r.Action, r.Count)}}}
}
