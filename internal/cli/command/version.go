package command

import (
	"github.com/urfave/cli/v2"

	"github.com/yndnr/tidekv/internal/cli/output"
	"github.com/yndnr/tidekv/internal/infra/buildinfo"
)

type versionInfo buildinfo.Info

func (v versionInfo) Table() *output.Table {
	t := &output.Table{Headers: []string{"FIELD", "VALUE"}}
	t.AddRow("version", v.Version)
	t.AddRow("commit", v.Commit)
	t.AddRow("built", v.BuildTime)
	t.AddRow("go", v.GoVersion)
	t.AddRow("platform", v.Platform)
	return t
}

// VersionCommand returns the version command.
func VersionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print build information",
		Action: func(c *cli.Context) error {
			return printResult(c, versionInfo(buildinfo.Get()))
		},
	}
}
