// Package commands implements the hsmmtrain command line.
package commands

import (
	"errors"
	"io"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ieee0824/hsmmtrain/config"
	"github.com/ieee0824/hsmmtrain/store"
)

var (
	cfgFile  string
	storeDir string
	setName  string
	verbose  bool

	settings *config.Config
)

// newRootCmd builds the command tree. Flag variables are rebound to their
// defaults on every call.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "hsmmtrain",
		Short: "Train HMM/HSMM acoustic models and align speech with them",
		Long: `hsmmtrain initialises HMMs from segmented training data and aligns
utterances with an explicit-duration HSMM search.

Commands:
  features    Compute MFCC feature files from WAV audio
  proto       Add prototype models to a model set
  init        Train one model by uniform segmentation and Viterbi re-estimation
  align       Force-align utterances and write label files
  durations   Generate state durations for label sequences
  show        List stored model sets or describe one

Examples:
  hsmmtrain features -S wav.scp -o feats
  hsmmtrain --store models proto a --width 13
  hsmmtrain --store models init a -S train.scp -L labels -l a
  hsmmtrain --store models align -S test.scp -L labels -o out`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfgFile != "" {
				settings, err = config.Load(cfgFile)
			} else {
				settings = config.Default()
			}
			if err != nil {
				return err
			}
			if err := settings.ApplyLog(logrus.StandardLogger()); err != nil {
				return err
			}
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
			return nil
		},
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "YAML settings file")
	pf.StringVar(&storeDir, "store", "", "model store directory (overrides store.dir)")
	pf.StringVar(&setName, "set", "hmms", "name of the model set in the store")
	pf.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	root.AddCommand(newFeaturesCmd(), newProtoCmd(), newInitCmd(), newAlignCmd(), newDurationsCmd(), newShowCmd())
	return root
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

// testStore is set by tests to share one store across commands.
var testStore store.Store

// nopCloser keeps the shared test store open between commands.
type nopCloser struct{ store.Store }

func (nopCloser) Close() error { return nil }

func openStore() (store.Store, error) {
	if testStore != nil {
		return nopCloser{testStore}, nil
	}
	dir := storeDir
	if dir == "" {
		dir = settings.Store.Dir
	}
	if dir == "" {
		return nil, errors.New("no model store: use --store or set store.dir")
	}
	return store.OpenBadger(store.BadgerOptions{Dir: dir})
}

func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}
