package commands

import (
	"errors"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ieee0824/hsmmtrain"
	"github.com/ieee0824/hsmmtrain/hsmm"
)

var (
	alignScript     string
	alignLabelDir   string
	alignOut        string
	alignStateLevel bool
	alignBeam       int
	alignDurWeight  float64
	alignPrune      bool
	alignDurations  bool
)

func newAlignCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "align [feature-file...]",
		Short: "Force-align utterances and write label files",
		Long: `Align each utterance against the model sequence of its label file with
an explicit-duration HSMM search and write the resulting segmentation as
a label file of the same name under --out. Utterances for which the search
fails are reported and skipped. With --update-durations the state duration
models are re-estimated from the alignments and stored.

Examples:
  hsmmtrain --store models align -S test.scp -L labels -o out
  hsmmtrain --store models align -S test.scp -L labels -o out --state-level -b 500
  hsmmtrain --store models align -S train.scp -L labels --update-durations`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			files, err := inputFiles(args, alignScript)
			if err != nil {
				return err
			}
			if alignLabelDir == "" {
				return errors.New("--label-dir is required")
			}
			if alignOut == "" && !alignDurations {
				return errors.New("--out is required unless --update-durations is given")
			}

			ac := settings.AlignConfig()
			fl := cmd.Flags()
			if fl.Changed("state-level") {
				ac.StateLevel = alignStateLevel
			}
			if fl.Changed("beam") {
				ac.Beam = alignBeam
			}
			if fl.Changed("dur-weight") {
				ac.DurWeight = alignDurWeight
			}
			if fl.Changed("prune-by-label") {
				ac.PruneByLabel = alignPrune
			}
			tc, err := settings.TrainConfig()
			if err != nil {
				return err
			}

			jobs, err := loadJobs(files, alignLabelDir, settings.Align.LabelExt)
			if err != nil {
				return err
			}
			st, err := openStore()
			if err != nil {
				return err
			}
			sess, err := hsmmtrain.OpenSession(ctx, st, setName,
				hsmmtrain.WithAlignConfig(ac), hsmmtrain.WithTrainConfig(tc))
			if err != nil {
				st.Close()
				return err
			}
			defer sess.Close()

			var stats hsmm.BatchStats
			if alignDurations {
				if stats, err = sess.ReestimateDurations(ctx, jobs); err != nil {
					return err
				}
				if err := sess.Save(ctx, setName); err != nil {
					return err
				}
			}
			if alignOut != "" {
				if err := os.MkdirAll(alignOut, 0o755); err != nil {
					return err
				}
				sink := &hsmm.LabelWriter{Dir: alignOut, Ext: settings.Align.LabelExt, StateLevel: ac.StateLevel}
				if stats, err = sess.Align(ctx, jobs, sink); err != nil {
					return err
				}
			}
			logrus.WithFields(logrus.Fields{"aligned": stats.Aligned, "skipped": stats.Skipped}).Info("alignment finished")
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&alignScript, "script", "S", "", "file listing feature files, one per line")
	f.StringVarP(&alignLabelDir, "label-dir", "L", "", "directory of input label files")
	f.StringVarP(&alignOut, "out", "o", "", "directory for output label files")
	f.BoolVar(&alignStateLevel, "state-level", false, "write one label per state")
	f.IntVarP(&alignBeam, "beam", "b", 0, "tokens kept per frame (0 disables pruning)")
	f.Float64VarP(&alignDurWeight, "dur-weight", "w", 1, "weight of the duration log-likelihood")
	f.BoolVar(&alignPrune, "prune-by-label", false, "keep states within their label's time span")
	f.BoolVar(&alignDurations, "update-durations", false, "re-estimate and store the state duration models")
	return cmd
}
