package commands

import (
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ieee0824/hsmmtrain"
	"github.com/ieee0824/hsmmtrain/train"
)

var (
	initScript   string
	initLabel    string
	initLabelDir string
	initUpdate   string
	initIters    int
	initKeep     bool
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init <hmm> [feature-file...]",
		Short: "Train one model by uniform segmentation and Viterbi re-estimation",
		Long: `Train the named model of the set from feature files. With --label the
training segments are the spans labelled with that name in the label
files under --label-dir; otherwise every file is one segment. The trained
set is written back to the store.

Examples:
  hsmmtrain --store models init a -S train.scp -L labels -l a
  hsmmtrain --store models init sil data/*.feat -u mv -i 10
  hsmmtrain --store models init a -S train.scp -L labels -l a --keep`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			hmmName := args[0]
			files, err := inputFiles(args[1:], initScript)
			if err != nil {
				return err
			}
			if initLabel != "" && initLabelDir == "" {
				return errors.New("--label needs --label-dir")
			}

			tc, err := settings.TrainConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("update") {
				if tc.Update, err = train.ParseUpdateFlags(initUpdate); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("iterations") {
				tc.MaxIterations = initIters
			}
			if initKeep {
				tc.KeepInitial = true
			}

			jobs, err := loadJobs(files, initLabelDir, settings.Align.LabelExt)
			if err != nil {
				return err
			}
			st, err := openStore()
			if err != nil {
				return err
			}
			sess, err := hsmmtrain.OpenSession(ctx, st, setName, hsmmtrain.WithTrainConfig(tc))
			if err != nil {
				st.Close()
				return err
			}
			defer sess.Close()

			res, err := sess.Init(ctx, hmmName, initLabel, jobs)
			if err != nil {
				return err
			}
			if err := sess.Save(ctx, setName); err != nil {
				return err
			}
			logrus.WithFields(logrus.Fields{
				"hmm":        hmmName,
				"status":     res.Status,
				"iterations": res.Iterations,
				"avg_logp":   res.AvgLogP,
				"run":        res.RunID,
			}).Info("training finished")
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&initScript, "script", "S", "", "file listing feature files, one per line")
	f.StringVarP(&initLabel, "label", "l", "", "train on the segments with this label name")
	f.StringVarP(&initLabelDir, "label-dir", "L", "", "directory of label files")
	f.StringVarP(&initUpdate, "update", "u", "mvwt", "parameters to update: m, v, w, t")
	f.IntVarP(&initIters, "iterations", "i", 20, "maximum re-estimation iterations")
	f.BoolVar(&initKeep, "keep", false, "start from the stored parameters instead of uniform segmentation")
	return cmd
}
