package command

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/tidekv/internal/cli/config"
)

// ConfigCommand returns the config subcommand group.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Configuration commands",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Print the effective configuration",
				Action: configShow,
			},
			{
				Name:      "init",
				Usage:     "Write the effective configuration to a file",
				ArgsUsage: "[PATH]",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "force",
						Aliases: []string{"f"},
						Usage:   "Overwrite an existing file",
					},
				},
				Action: configInit,
			},
		},
	}
}

func configShow(c *cli.Context) error {
	return printResult(c, cliConfig(c).Redacted())
}

func configInit(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		path = config.DefaultConfigPath()
	}
	if _, err := os.Stat(path); err == nil && !c.Bool("force") {
		return fmt.Errorf("config init: %s exists; use --force to overwrite", path)
	}
	if err := config.Save(cliConfig(c), path); err != nil {
		return fmt.Errorf("config init: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "wrote %s\n", path)
	return nil
}
