package command

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/tidekv/pkg/tidekv"
)

// GetCommand returns the get command.
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Print the values of keys",
		ArgsUsage: "KEY [KEY...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "default",
				Usage: "Store and print this value for missing keys",
			},
		},
		Action: getAction,
	}
}

func getAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("get: at least one key is required")
	}

	var extra []tidekv.Option[any]
	if c.IsSet("default") {
		v, err := parseValue(cliConfig(c).Codec, c.String("default"))
		if err != nil {
			return err
		}
		extra = append(extra, tidekv.WithDefault[any](v))
	}

	return withStore(c, func(db *tidekv.DB[any]) error {
		out := make(entryList, 0, c.NArg())
		for _, key := range c.Args().Slice() {
			v, err := db.Get(key)
			if errors.Is(err, tidekv.ErrNotFound) {
				return fmt.Errorf("key %q not found", key)
			}
			if err != nil {
				return err
			}
			out = append(out, entry{Key: key, Value: v})
		}
		return printResult(c, out)
	}, extra...)
}

// SetCommand returns the set command.
func SetCommand() *cli.Command {
	return &cli.Command{
		Name:      "set",
		Usage:     "Store values; a value of - is read from stdin",
		ArgsUsage: "KEY VALUE [KEY VALUE...]",
		Action:    setAction,
	}
}

func setAction(c *cli.Context) error {
	args := c.Args().Slice()
	if len(args) == 0 || len(args)%2 != 0 {
		return fmt.Errorf("set: expected KEY VALUE pairs, got %d argument(s)", len(args))
	}

	codec := cliConfig(c).Codec
	values := make(map[string]any, len(args)/2)
	stdinUsed := false
	for i := 0; i < len(args); i += 2 {
		raw := args[i+1]
		if raw == "-" {
			if stdinUsed {
				return fmt.Errorf("set: only one value can be read from stdin")
			}
			stdinUsed = true
			data, err := io.ReadAll(c.App.Reader)
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			raw = strings.TrimSuffix(string(data), "\n")
		}
		v, err := parseValue(codec, raw)
		if err != nil {
			return err
		}
		values[args[i]] = v
	}

	return withStore(c, func(db *tidekv.DB[any]) error {
		if err := db.Update(values); err != nil {
			return err
		}
		if err := db.Flush(); err != nil {
			return err
		}
		return printResult(c, countResult{Action: "stored", Count: len(values)})
	})
}

// DeleteCommand returns the del command.
func DeleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "del",
		Aliases:   []string{"delete", "rm"},
		Usage:     "Delete keys",
		ArgsUsage: "KEY [KEY...]",
		Action:    deleteAction,
	}
}

func deleteAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("del: at least one key is required")
	}
	return withStore(c, func(db *tidekv.DB[any]) error {
		n := 0
		for _, key := range c.Args().Slice() {
			if !db.Has(key) {
				continue
			}
			if err := db.Delete(key); err != nil {
				return err
			}
			n++
		}
		if err := db.Flush(); err != nil {
			return err
		}
		return printResult(c, countResult{Action: "deleted", Count: n})
	})
}

// ListCommand returns the list command.
func ListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls", "keys"},
		Usage:   "List entries in key order",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "prefix",
				Aliases: []string{"p"},
				Usage:   "Only keys starting with this prefix",
			},
			&cli.BoolFlag{
				Name:    "keys-only",
				Aliases: []string{"k"},
				Usage:   "Print keys without values",
			},
		},
		Action: listAction,
	}
}

func listAction(c *cli.Context) error {
	prefix := c.String("prefix")
	return withStore(c, func(db *tidekv.DB[any]) error {
		if c.Bool("keys-only") {
			keys := keyList{}
			for _, k := range db.Keys() {
				if strings.HasPrefix(k, prefix) {
					keys = append(keys, k)
				}
			}
			return printResult(c, keys)
		}

		out := entryList{}
		for k, v := range db.All() {
			if strings.HasPrefix(k, prefix) {
				out = append(out, entry{Key: k, Value: v})
			}
		}
		return printResult(c, out)
	})
}

// IncrCommand returns the incr command.
func IncrCommand() *cli.Command {
	return &cli.Command{
		Name:      "incr",
		Usage:     "Atomically add to an integer value, across processes",
		ArgsUsage: "KEY",
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:  "by",
				Usage: "Amount to add",
				Value: 1,
			},
		},
		Action: incrAction,
	}
}

func incrAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("incr: exactly one key is required")
	}
	key := c.Args().First()
	codec := cliConfig(c).Codec

	return withStore(c, func(db *tidekv.DB[any]) error {
		var n int64
		err := db.Lock(func(tx *tidekv.Tx[any]) error {
			cur, err := tx.Get(key)
			switch {
			case errors.Is(err, tidekv.ErrNotFound):
				cur = nil
			case err != nil:
				return err
			}
			base, err := toInt64(cur)
			if err != nil {
				return fmt.Errorf("incr %q: %w", key, err)
			}
			n = base + c.Int64("by")
			v, err := parseValue(codec, strconv.FormatInt(n, 10))
			if err != nil {
				return err
			}
			return tx.Set(key, v)
		})
		if err != nil {
			return err
		}
		return printResult(c, entryList{{Key: key, Value: n}})
	})
}

// toInt64 reads an integer out of whatever the codec decoded.
func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case int:
		return int64(x), nil
	case int64:
		return x, nil
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows int64", x)
		}
		return int64(x), nil
	case float64:
		if x != math.Trunc(x) || x > math.MaxInt64 || x < math.MinInt64 {
			return 0, fmt.Errorf("value %v is not an integer", x)
		}
		return int64(x), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(x), 10, 64)
	case []byte:
		return strconv.ParseInt(strings.TrimSpace(string(x)), 10, 64)
	default:
		return 0, fmt.Errorf("value of type %T is not an integer", v)
	}
}
