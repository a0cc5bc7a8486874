package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jrepp/prism-supervisor/cmd/supervise/internal/ui"
	"github.com/jrepp/prism-supervisor/pkg/manifest"
	"github.com/jrepp/prism-supervisor/pkg/supervisor"
)

var validateCmd = &cobra.Command{
	Use:   "validate [manifest]",
	Short: "Check a manifest and print the tree it declares",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().StringP("file", "f", "supervise.yaml", "manifest file")
}

func runValidate(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	if len(args) == 1 {
		path = args[0]
	}
	out := ui.New(cmd.OutOrStdout(), cmd.ErrOrStderr())

	m, err := manifest.Load(path)
	if err != nil {
		out.Error(err.Error())
		return err
	}
	flags, err := m.Flags()
	if err != nil {
		out.Error(err.Error())
		return err
	}
	specs, err := m.ChildSpecs(builtins)
	if err == nil {
		err = supervisor.Validate(flags, specs)
	}
	if err != nil {
		out.Error(err.Error())
		return err
	}

	out.Header("Supervisor " + m.Supervisor.Name)
	out.KeyValue("manifest", m.ManifestPath())
	out.KeyValue("strategy", flags.Strategy().String())
	out.KeyValue("restarts", fmt.Sprintf("at most %d per %s", flags.Intensity(), flags.Period()))
	out.Println("")

	table := out.NewTable("ID", "ROLE", "RESTART", "SHUTDOWN", "RUNS")
	for i, spec := range specs {
		table.AddRow(
			spec.ID(),
			spec.Role().String(),
			spec.Lifetime().String(),
			spec.Shutdown().String(),
			describeRun(m.Children[i]))
	}
	table.Render()
	out.Println("")

	warnings, infos := notes(flags, specs)
	for _, w := range warnings {
		out.Warning(w)
	}
	for _, i := range infos {
		out.Info(i)
	}
	out.Success("manifest is valid")
	return nil
}

// notes reports legal configurations that are easy to get wrong
func notes(flags supervisor.Flags, specs []supervisor.ChildSpec) (warnings, infos []string) {
	if len(specs) == 0 {
		warnings = append(warnings, "no children declared: run exits as soon as it starts")
	}
	if flags.Intensity() == 0 {
		warnings = append(warnings, "intensity is 0: the first restart ends the tree")
	}

	grouped := flags.Strategy() == supervisor.OneForAll || flags.Strategy() == supervisor.RestForOne
	for _, spec := range specs {
		if grouped && spec.Lifetime() == supervisor.Temporary {
			infos = append(infos, fmt.Sprintf("child %q is temporary: a group restart stops it without relaunching it", spec.ID()))
		}
	}
	if flags.Strategy() == supervisor.SimpleOneForOne {
		infos = append(infos, "simple_one_for_one: the tree ends once every pool child has stopped")
	}
	return warnings, infos
}

func describeRun(c manifest.ChildConfig) string {
	if c.Builtin != "" {
		return "builtin:" + c.Builtin
	}
	return strings.Join(c.Command, " ")
}
