package commands

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ieee0824/hsmmtrain/acoustic"
	"github.com/ieee0824/hsmmtrain/store"
)

var (
	protoStates   int
	protoWidths   []int
	protoMix      []int
	protoDiscrete bool
	protoFull     bool
	protoSkip     bool
	protoSelf     float64
	protoDurMean  float64
	protoDurVar   float64
)

func newProtoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proto <name>...",
		Short: "Add prototype models to a model set",
		Long: `Add left-to-right prototype models with zero means, unit variances and
uniform weights to the model set, creating the set if needed. Existing
models of the same name are replaced.

Examples:
  hsmmtrain --store models proto a i u --width 13 --states 5
  hsmmtrain --store models proto sil --width 13 --mix 2 --skip
  hsmmtrain --store models proto a --width 13 --dur-mean 4 --dur-var 2`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			kind := acoustic.Continuous
			if protoDiscrete {
				kind = acoustic.Discrete
			}
			set, err := store.LoadSet(ctx, st, setName)
			if errors.Is(err, store.ErrNotFound) {
				set = acoustic.NewSet(kind, protoWidths, nil)
			} else if err != nil {
				return err
			}

			cov := acoustic.DiagC
			if protoFull {
				cov = acoustic.FullC
			}
			for _, name := range args {
				h, err := acoustic.NewPrototype(acoustic.Proto{
					Name:         name,
					NumStates:    protoStates,
					StreamWidths: protoWidths,
					NumMix:       protoMix,
					Kind:         kind,
					CovKind:      cov,
					Skip:         protoSkip,
					SelfLoop:     protoSelf,
				})
				if err != nil {
					return err
				}
				if protoDurMean > 0 {
					for i := 1; i <= h.NumEmitting(); i++ {
						h.States[i].Dur = &acoustic.Duration{Mean: protoDurMean, Var: protoDurVar}
					}
				}
				if err := set.Add(h); err != nil {
					return fmt.Errorf("add %s: %w", name, err)
				}
			}
			if err := set.Precompute(); err != nil {
				return err
			}
			if err := store.SaveSet(ctx, st, setName, set, uuid.Nil); err != nil {
				return err
			}
			logrus.WithFields(logrus.Fields{"set": setName, "added": len(args), "hmms": len(set.HMMs())}).Info("prototypes stored")
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&protoStates, "states", 5, "states per model including entry and exit")
	f.IntSliceVar(&protoWidths, "width", []int{13}, "vector size (or codebook size) of each stream")
	f.IntSliceVar(&protoMix, "mix", nil, "mixtures per stream (default 1)")
	f.BoolVar(&protoDiscrete, "discrete", false, "discrete output distributions")
	f.BoolVar(&protoFull, "full", false, "full covariance matrices")
	f.BoolVar(&protoSkip, "skip", false, "allow transitions that skip a state")
	f.Float64Var(&protoSelf, "self", 0.6, "initial self-loop probability")
	f.Float64Var(&protoDurMean, "dur-mean", 0, "initial state duration mean in frames (0 for none)")
	f.Float64Var(&protoDurVar, "dur-var", 1, "initial state duration variance in frames²")
	return cmd
}
