package command

import (
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v3"
	"github.com/urfave/cli/v2"

	"github.com/yndnr/tidekv/pkg/tidekv"
)

// ImportCommand returns the import command.
func ImportCommand() *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Copy every key of a Badger database into the store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "badger",
				Usage:    "Badger database directory, opened read-only",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "prefix",
				Aliases: []string{"p"},
				Usage:   "Only keys starting with this prefix",
			},
			&cli.IntFlag{
				Name:  "batch",
				Usage: "Keys written per update",
				Value: 1000,
			},
		},
		Action: importAction,
	}
}

func importAction(c *cli.Context) error {
	batch := c.Int("batch")
	if batch <= 0 {
		return fmt.Errorf("import: batch must be positive")
	}
	log := cliLogger(c).Slog()

	opts := badger.DefaultOptions(c.String("badger")).
		WithReadOnly(true).
		WithLogger(&badgerLogger{logger: log})
	src, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("badger: open %s: %w", c.String("badger"), err)
	}
	defer src.Close()

	codec := cliConfig(c).Codec
	return withStore(c, func(db *tidekv.DB[any]) error {
		total := 0
		pending := make(map[string]any, batch)
		flush := func() error {
			if len(pending) == 0 {
				return nil
			}
			if err := db.Update(pending); err != nil {
				return err
			}
			total += len(pending)
			pending = make(map[string]any, batch)
			return nil
		}

		err := src.View(func(txn *badger.Txn) error {
			it := txn.NewIterator(badger.IteratorOptions{
				PrefetchValues: true,
				PrefetchSize:   100,
				Prefix:         []byte(c.String("prefix")),
			})
			defer it.Close()

			for it.Rewind(); it.Valid(); it.Next() {
				item := it.Item()
				if item.IsDeletedOrExpired() {
					continue
				}
				value, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				v, err := parseValue(codec, string(value))
				if err != nil {
					return fmt.Errorf("key %q: %w", item.Key(), err)
				}
				pending[string(item.KeyCopy(nil))] = v
				if len(pending) >= batch {
					if err := flush(); err != nil {
						return err
					}
				}
			}
			return nil
		})
		if err == nil {
			err = flush()
		}
		if err != nil {
			return fmt.Errorf("import: %w", err)
		}
		if err := db.Flush(); err != nil {
			return err
		}
		log.Info("import finished", "source", c.String("badger"), "keys", total)
		return printResult(c, countResult{Action: "imported", Count: total})
	})
}

// badgerLogger routes Badger's printf-style logging to slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
