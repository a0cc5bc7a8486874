package main

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jrepp/prism-supervisor/cmd/supervise/internal/ui"
	"github.com/jrepp/prism-supervisor/pkg/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent lifecycle events from a history database",
	Example: `  supervise history --db history.db
  supervise history --db history.db --limit 100`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().String("db", "supervise.db", "history database written by run --history-db")
	historyCmd.Flags().Int("limit", 20, "number of events to show")

	_ = viper.BindPFlag("history.db", historyCmd.Flags().Lookup("db"))
}

func runHistory(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	out := ui.New(cmd.OutOrStdout(), cmd.ErrOrStderr())

	path := viper.GetString("history.db")
	if _, err := os.Stat(path); err != nil {
		out.Error(err.Error())
		return err
	}

	journal, err := history.Open(cmd.Context(), path)
	if err != nil {
		out.Error(err.Error())
		return err
	}
	defer journal.Close()

	entries, err := journal.Recent(cmd.Context(), limit)
	if err != nil {
		out.Error(err.Error())
		return err
	}
	if len(entries) == 0 {
		out.Info("no events recorded")
		return nil
	}

	table := out.NewTable("TIME", "SUPERVISOR", "EVENT", "CHILD", "PID", "DETAIL")
	for _, e := range entries {
		pid := ""
		if e.PID != 0 {
			pid = strconv.Itoa(e.PID)
		}
		table.AddRow(
			e.Time.Format("2006-01-02 15:04:05.000"),
			e.Supervisor,
			ui.Status(e.Type),
			e.ChildID,
			pid,
			detail(e))
	}
	table.Render()
	return nil
}

func detail(e history.Entry) string {
	switch {
	case e.Error != "":
		return e.Error
	case e.Status != nil:
		return e.Status.String()
	case e.State != "":
		return e.State
	default:
		return e.InstanceID
	}
}
