package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/matchd/internal/server"
)

var auditFrom uint64

func init() {
	auditCmd.Flags().Uint64Var(&auditFrom, "from", 0, "Replay from this sequence number (0 = full log)")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Replay the audit log",
	Long: `Replay the matchd audit log in sequence order.

Every scoring, ranking, and fairness decision the server made is recorded
as an audit entry. Use --json to see the full entries including the
recorded scores and explanations.

Examples:
  # Replay the whole log
  matchctl audit

  # Replay from sequence 100
  matchctl audit --from 100

  # Full entries as JSON
  matchctl audit --from 100 --json`,
	RunE: runAudit,
}

func runAudit(cmd *cobra.Command, args []string) error {
	path := "/api/v1/audit/entries"
	if auditFrom > 0 {
		path = fmt.Sprintf("%s?from=%d", path, auditFrom)
	}

	var resp server.AuditEntriesResponse
	if err := getJSON(path, &resp, 30*time.Second); err != nil {
		return err
	}

	if jsonOutput {
		return outputJSON(resp.Entries)
	}

	if len(resp.Entries) == 0 {
		fmt.Println("No audit entries")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tACTION\tENTITY\tTIMESTAMP")
	for _, e := range resp.Entries {
		entity := e.EntityID
		if entity == "" {
			entity = e.ReportID
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
			e.Sequence,
			e.Action,
			truncate(entity, 32),
			e.Timestamp.Format("2006-01-02 15:04:05"),
		)
	}
	w.Flush()

	return nil
}
