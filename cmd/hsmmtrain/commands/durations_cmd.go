package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ieee0824/hsmmtrain"
	"github.com/ieee0824/hsmmtrain/corpus"
)

var (
	durOut        string
	durPeriod     int64
	durRho        float64
	durStateLevel bool
)

func newDurationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "durations <label-file>...",
		Short: "Generate state durations for label sequences",
		Long: `Generate the state durations of each label file's model sequence from
the stored duration models and write them as label files under --out.
Labels that carry times fix the length of their unit; the others use the
speaking rate --rho.

Examples:
  hsmmtrain --store models durations -o out labels/*.lab
  hsmmtrain --store models durations -o out --rho 0.5 --state-level labels/a01.lab`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if durOut == "" {
				return errors.New("--out is required")
			}
			rho := settings.Align.Rho
			if cmd.Flags().Changed("rho") {
				rho = durRho
			}
			stateLevel := settings.Align.StateLevel
			if cmd.Flags().Changed("state-level") {
				stateLevel = durStateLevel
			}
			st, err := openStore()
			if err != nil {
				return err
			}
			sess, err := hsmmtrain.OpenSession(cmd.Context(), st, setName, hsmmtrain.WithRho(rho))
			if err != nil {
				st.Close()
				return err
			}
			defer sess.Close()
			if err := os.MkdirAll(durOut, 0o755); err != nil {
				return err
			}
			for _, path := range args {
				if err := writeDurations(cmd.Context(), sess, path, stateLevel); err != nil {
					return err
				}
			}
			logrus.WithField("files", len(args)).Info("durations written")
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&durOut, "out", "o", "", "directory for output label files")
	f.Int64Var(&durPeriod, "period", 50000, "frame period in 100ns units")
	f.Float64Var(&durRho, "rho", 0, "speaking rate applied to the duration variances")
	f.BoolVar(&durStateLevel, "state-level", false, "write one label per state")
	return cmd
}

func writeDurations(ctx context.Context, sess *hsmmtrain.Session, path string, stateLevel bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	labels, err := corpus.LoadLabels(path)
	if err != nil {
		return err
	}
	al, err := sess.Durations(labels, durPeriod)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	out := filepath.Join(durOut, filepath.Base(path))
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := corpus.WriteLabels(f, al.Labels(stateLevel)); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", out, err)
	}
	return f.Close()
}
