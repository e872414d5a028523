package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ieee0824/hsmmtrain/acoustic"
	"github.com/ieee0824/hsmmtrain/store"
)

func newShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [set]",
		Short: "List stored model sets or describe one",
		Long: `Without an argument, list the model sets in the store. With a set name,
print one line per model of that set.

Examples:
  hsmmtrain --store models show
  hsmmtrain --store models show hmms`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if len(args) == 0 {
				infos, err := st.List(ctx)
				if err != nil {
					return err
				}
				if len(infos) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No model sets found.")
					return nil
				}
				tw := newTabWriter(cmd.OutOrStdout())
				fmt.Fprintln(tw, "NAME\tHMMS\tSAVED\tRUN")
				for _, in := range infos {
					fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", in.Name, in.HMMs, in.Saved.Format("2006-01-02 15:04:05"), in.RunID)
				}
				return tw.Flush()
			}

			set, err := store.LoadSet(ctx, st, args[0])
			if err != nil {
				return err
			}
			tw := newTabWriter(cmd.OutOrStdout())
			fmt.Fprintf(tw, "# %s set, stream widths %v\n", set.Kind, set.StreamWidths)
			fmt.Fprintln(tw, "HMM\tSTATES\tMIXTURES\tDURATIONS")
			for _, h := range set.HMMs() {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", h.Name, h.NumEmitting(), mixtureCounts(h), durationSummary(h))
			}
			return tw.Flush()
		},
	}
	return cmd
}

func mixtureCounts(h *acoustic.HMM) string {
	var counts []int
	for _, str := range h.States[1].Streams {
		counts = append(counts, str.NumMix())
	}
	return fmt.Sprint(counts)
}

func durationSummary(h *acoustic.HMM) string {
	durs := h.Durations()
	if durs == nil {
		return "-"
	}
	var means []string
	for _, d := range durs {
		means = append(means, fmt.Sprintf("%.1f", d.Mean))
	}
	return fmt.Sprint(means)
}
