package commands

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ieee0824/hsmmtrain/audio"
	"github.com/ieee0824/hsmmtrain/corpus"
	"github.com/ieee0824/hsmmtrain/feature"
)

var (
	featScript string
	featOut    string
	featSplit  bool
)

func newFeaturesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "features [wav-file...]",
		Short: "Compute MFCC feature files from WAV audio",
		Long: `Compute mel-frequency cepstral coefficients for each 16-bit PCM WAV
file and write them as <name>.feat under --out. The analysis settings come
from the feature section of the settings file.

Examples:
  hsmmtrain features -S wav.scp -o feats
  hsmmtrain -c settings.yaml features --split-streams -o feats data/*.wav`,
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := inputFiles(args, featScript)
			if err != nil {
				return err
			}
			if featOut == "" {
				return errors.New("--out is required")
			}
			cfg := settings.FeatureConfig()
			if cmd.Flags().Changed("split-streams") {
				cfg.SplitStreams = featSplit
			}
			if err := os.MkdirAll(featOut, 0o755); err != nil {
				return err
			}

			extractors := make(map[int]*feature.Extractor)
			frames := 0
			for _, path := range files {
				if err := cmd.Context().Err(); err != nil {
					return err
				}
				w, err := audio.LoadWAV(path)
				if err != nil {
					return err
				}
				e, ok := extractors[w.SampleRate]
				if !ok {
					if e, err = feature.NewExtractor(cfg, w.SampleRate); err != nil {
						return err
					}
					extractors[w.SampleRate] = e
				}
				name := corpus.BaseName(path)
				u, err := e.Utterance(name, w)
				if err != nil {
					return err
				}
				if err := corpus.SaveFeatures(filepath.Join(featOut, name+".feat"), u); err != nil {
					return err
				}
				frames += u.NumFrames()
				logrus.WithFields(logrus.Fields{"file": path, "frames": u.NumFrames()}).Debug("features written")
			}
			logrus.WithFields(logrus.Fields{"files": len(files), "frames": frames}).Info("feature extraction finished")
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&featScript, "script", "S", "", "file listing WAV files, one per line")
	f.StringVarP(&featOut, "out", "o", "", "directory for feature files")
	f.BoolVar(&featSplit, "split-streams", false, "write statics and each delta order as separate streams")
	return cmd
}
