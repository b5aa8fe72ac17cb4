//go:build unix

package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func NewInspectCmd(args *RootArgs) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect NAME",
		Short: "Show the state of a named lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			st, err := args.opener().Inspect(argv[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch {
			case st.Held && st.Owner != nil:
				fmt.Fprintf(out, "held by pid %d since %s\n", st.Owner.PID, st.Owner.Since.Format(time.RFC3339))
			case st.Held:
				fmt.Fprintln(out, "held")
			case st.Abandoned:
				fmt.Fprintf(out, "abandoned by pid %d\n", st.Owner.PID)
			default:
				fmt.Fprintln(out, "free")
			}
			return nil
		},
	}
}
