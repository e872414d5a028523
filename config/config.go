// Package config loads the YAML settings shared by the command line tools
// and converts them to the configurations of the training and alignment
// packages.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/ieee0824/hsmmtrain/feature"
	"github.com/ieee0824/hsmmtrain/hsmm"
	"github.com/ieee0824/hsmmtrain/train"
)

const maxFileSize = 1 << 20

// Config is the root of a settings file. Sections or fields missing from
// the file keep their default values.
type Config struct {
	Log     Log     `yaml:"log"`
	Store   Store   `yaml:"store"`
	Train   Train   `yaml:"train"`
	Align   Align   `yaml:"align"`
	Feature Feature `yaml:"feature"`
}

// Log selects the logger level and output format.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// Store locates the model store.
type Store struct {
	Dir string `yaml:"dir"` // badger directory
}

// Train holds initial training settings.
type Train struct {
	MaxIterations  int     `yaml:"max_iterations"`
	Epsilon        float64 `yaml:"epsilon"`
	MinVariance    float64 `yaml:"min_variance"`
	MinDurVariance float64 `yaml:"min_dur_variance"`
	MixWeightFloor float64 `yaml:"mix_weight_floor"`
	MinSegments    int     `yaml:"min_segments"`
	Update         string  `yaml:"update"` // letters of m, v, w, t, d
	IgnoreOutliers bool    `yaml:"ignore_outliers"`
	KeepInitial    bool    `yaml:"keep_initial"`
}

// Align holds HSMM alignment and duration settings.
type Align struct {
	Beam         int     `yaml:"beam"`
	DurWeight    float64 `yaml:"dur_weight"`
	PruneByLabel bool    `yaml:"prune_by_label"`
	StateLevel   bool    `yaml:"state_level"`
	LabelExt     string  `yaml:"label_ext"`
	Rho          float64 `yaml:"rho"` // speaking rate for generated durations
}

// Feature holds the MFCC front-end settings.
type Feature struct {
	FrameLenMs   float64 `yaml:"frame_len_ms"`
	FrameShiftMs float64 `yaml:"frame_shift_ms"`
	PreEmphasis  float64 `yaml:"pre_emphasis"`
	NumFilters   int     `yaml:"num_filters"`
	NumCepstra   int     `yaml:"num_cepstra"`
	LowFreq      float64 `yaml:"low_freq"`
	HighFreq     float64 `yaml:"high_freq"`
	CepLifter    int     `yaml:"cep_lifter"`
	CMN          bool    `yaml:"cmn"`
	Deltas       int     `yaml:"deltas"`
	DeltaWindow  int     `yaml:"delta_window"`
	SplitStreams bool    `yaml:"split_streams"`
}

// Default returns the settings used when no file is given.
func Default() *Config {
	tc := train.DefaultConfig()
	ac := hsmm.DefaultConfig()
	fc := feature.DefaultConfig()
	return &Config{
		Log: Log{Level: "info", Format: "text"},
		Train: Train{
			MaxIterations:  tc.MaxIterations,
			Epsilon:        tc.Epsilon,
			MinVariance:    tc.MinVariance,
			MinDurVariance: tc.MinDurVariance,
			MixWeightFloor: tc.MixWeightFloor,
			MinSegments:    tc.MinSegments,
			Update:         tc.Update.String(),
			IgnoreOutliers: tc.IgnoreOutliers,
			KeepInitial:    tc.KeepInitial,
		},
		Align: Align{
			Beam:         ac.Beam,
			DurWeight:    ac.DurWeight,
			PruneByLabel: ac.PruneByLabel,
			StateLevel:   ac.StateLevel,
			LabelExt:     "lab",
		},
		Feature: Feature(fc),
	}
}

// Load reads a YAML settings file over the defaults and validates it.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .yaml or .yml extension, got %q", ext)
	}
	fi, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fi.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fi.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML settings over the defaults and validates them.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the settings are usable.
func (c *Config) Validate() error {
	var errs []error
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	t := c.Train
	if t.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("train.max_iterations must be positive, got %d", t.MaxIterations))
	}
	if t.Epsilon <= 0 {
		errs = append(errs, fmt.Errorf("train.epsilon must be positive, got %g", t.Epsilon))
	}
	if t.MinVariance <= 0 {
		errs = append(errs, fmt.Errorf("train.min_variance must be positive, got %g", t.MinVariance))
	}
	if t.MinDurVariance <= 0 {
		errs = append(errs, fmt.Errorf("train.min_dur_variance must be positive, got %g", t.MinDurVariance))
	}
	if t.MixWeightFloor < 0 || t.MixWeightFloor >= 1 {
		errs = append(errs, fmt.Errorf("train.mix_weight_floor must be in [0, 1), got %g", t.MixWeightFloor))
	}
	if t.MinSegments < 1 {
		errs = append(errs, fmt.Errorf("train.min_segments must be positive, got %d", t.MinSegments))
	}
	if _, err := train.ParseUpdateFlags(t.Update); err != nil {
		errs = append(errs, fmt.Errorf("train.update: %w", err))
	}
	a := c.Align
	if a.Beam < 0 {
		errs = append(errs, fmt.Errorf("align.beam must be non-negative, got %d", a.Beam))
	}
	if a.DurWeight < 0 {
		errs = append(errs, fmt.Errorf("align.dur_weight must be non-negative, got %g", a.DurWeight))
	}
	if a.LabelExt == "" {
		errs = append(errs, errors.New("align.label_ext must not be empty"))
	}
	if err := c.FeatureConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("feature: %w", err))
	}
	return errors.Join(errs...)
}

// TrainConfig returns the training configuration.
func (c *Config) TrainConfig() (train.Config, error) {
	flags, err := train.ParseUpdateFlags(c.Train.Update)
	if err != nil {
		return train.Config{}, err
	}
	t := c.Train
	return train.Config{
		MaxIterations:  t.MaxIterations,
		Epsilon:        t.Epsilon,
		MinVariance:    t.MinVariance,
		MinDurVariance: t.MinDurVariance,
		MixWeightFloor: t.MixWeightFloor,
		MinSegments:    t.MinSegments,
		Update:         flags,
		IgnoreOutliers: t.IgnoreOutliers,
		KeepInitial:    t.KeepInitial,
	}, nil
}

// AlignConfig returns the HSMM search configuration.
func (c *Config) AlignConfig() hsmm.Config {
	return hsmm.Config{
		Beam:         c.Align.Beam,
		DurWeight:    c.Align.DurWeight,
		PruneByLabel: c.Align.PruneByLabel,
		StateLevel:   c.Align.StateLevel,
	}
}

// FeatureConfig returns the MFCC front-end configuration.
func (c *Config) FeatureConfig() feature.Config {
	return feature.Config(c.Feature)
}

// ApplyLog sets the level and formatter of l.
func (c *Config) ApplyLog(l *logrus.Logger) error {
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return err
	}
	l.SetLevel(level)
	if c.Log.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
