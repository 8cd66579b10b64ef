package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/rhusiev/everyonetagger/pkg/stores"
	"github.com/spf13/cobra"
)

const timeLayout = "2006-01-02 15:04:05"

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	failedStyle = cellStyle.Foreground(lipgloss.Color("9"))
)

func newHistoryCommand(a *app) *cobra.Command {
	var (
		unit  string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded builds and launches",
		Long: `List builds and launches recorded in the ledger, newest first.

Without --unit every unit in the state directory is listed.`,
		Example: `  # Last 20 builds and launches of every unit
  launcher history

  # Last 5 for one unit, as JSON
  launcher history --unit tagger --limit 5 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			ledger, err := a.openLedger(ctx)
			if err != nil {
				return err
			}
			defer ledger.Close()

			var filter *string
			if unit != "" {
				filter = &unit
			}
			builds, err := ledger.ListBuilds(ctx, filter, limit, 0)
			if err != nil {
				return err
			}
			launches, err := ledger.ListLaunches(ctx, filter, limit, 0)
			if err != nil {
				return err
			}

			if a.jsonOutput {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Builds   []*stores.Build  `json:"builds"`
					Launches []*stores.Launch `json:"launches"`
				}{builds, launches})
			}

			renderBuilds(a.stdout, builds)
			fmt.Fprintln(a.stdout)
			renderLaunches(a.stdout, launches)
			return nil
		},
	}

	cmd.Flags().StringVar(&unit, "unit", "", "only show this unit")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows per table")

	return cmd
}

func newTable(failedRows map[int]bool, headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderRow(false).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case failedRows[row]:
				return failedStyle
			default:
				return cellStyle
			}
		})
}

func renderBuilds(w io.Writer, builds []*stores.Build) {
	if len(builds) == 0 {
		fmt.Fprintln(w, "No builds recorded.")
		return
	}

	failed := make(map[int]bool)
	rows := make([][]string, 0, len(builds))
	for i, b := range builds {
		duration := "-"
		if b.FinishedAt != nil {
			duration = b.FinishedAt.Sub(b.StartedAt).Round(time.Millisecond).String()
		}
		detail := deref(b.StageDigest)
		if len(detail) > 12 {
			detail = detail[:12]
		}
		if b.ErrorCode != nil {
			detail = *b.ErrorCode
			failed[i] = true
		}
		rows = append(rows, []string{
			b.ID, b.Unit, string(b.Status), b.StartedAt.Local().Format(timeLayout), duration, detail,
		})
	}

	fmt.Fprintln(w, newTable(failed, "BUILD", "UNIT", "STATUS", "STARTED", "DURATION", "DIGEST/ERROR").Rows(rows...))
}

func renderLaunches(w io.Writer, launches []*stores.Launch) {
	if len(launches) == 0 {
		fmt.Fprintln(w, "No launches recorded.")
		return
	}

	failed := make(map[int]bool)
	rows := make([][]string, 0, len(launches))
	for i, l := range launches {
		exit := "running"
		if l.ExitCode != nil {
			exit = strconv.Itoa(*l.ExitCode)
			failed[i] = *l.ExitCode != 0
		}
		if l.Error != nil {
			exit = *l.Error
			failed[i] = true
		}
		rows = append(rows, []string{
			l.ID, l.Unit, l.BuildID, strconv.Itoa(l.PID), l.StartedAt.Local().Format(timeLayout), exit,
		})
	}

	fmt.Fprintln(w, newTable(failed, "LAUNCH", "UNIT", "BUILD", "PID", "STARTED", "EXIT").Rows(rows...))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
