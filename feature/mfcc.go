// Package feature computes mel-frequency cepstral coefficients from
// waveforms and packs them into feature files for training and alignment.
package feature

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/ieee0824/hsmmtrain/acoustic"
	"github.com/ieee0824/hsmmtrain/audio"
	"github.com/ieee0824/hsmmtrain/corpus"
)

// Config holds the MFCC analysis parameters.
type Config struct {
	FrameLenMs   float64 // analysis window length
	FrameShiftMs float64 // frame period
	PreEmphasis  float64
	NumFilters   int
	NumCepstra   int     // including c0
	LowFreq      float64 // Hz
	HighFreq     float64 // Hz, 0 for the Nyquist frequency
	CepLifter    int     // 0 disables liftering
	CMN          bool    // subtract the utterance mean of the statics
	Deltas       int     // 0, 1 or 2 orders of dynamic features
	DeltaWindow  int     // regression half-width
	SplitStreams bool    // one stream per order instead of a single stream
}

// DefaultConfig returns a 25ms/10ms, 13 coefficient setup with deltas and
// accelerations.
func DefaultConfig() Config {
	return Config{
		FrameLenMs:   25,
		FrameShiftMs: 10,
		PreEmphasis:  0.97,
		NumFilters:   26,
		NumCepstra:   13,
		CepLifter:    22,
		CMN:          true,
		Deltas:       2,
		DeltaWindow:  2,
	}
}

// Validate reports the first unusable parameter.
func (c Config) Validate() error {
	switch {
	case c.FrameLenMs <= 0 || c.FrameShiftMs <= 0:
		return fmt.Errorf("frame length %gms and shift %gms must be positive", c.FrameLenMs, c.FrameShiftMs)
	case c.PreEmphasis < 0 || c.PreEmphasis >= 1:
		return fmt.Errorf("pre-emphasis %g out of [0, 1)", c.PreEmphasis)
	case c.NumFilters < 1:
		return fmt.Errorf("need at least one filter, got %d", c.NumFilters)
	case c.NumCepstra < 1 || c.NumCepstra > c.NumFilters:
		return fmt.Errorf("cepstra %d out of [1, %d]", c.NumCepstra, c.NumFilters)
	case c.Deltas < 0 || c.Deltas > 2:
		return fmt.Errorf("delta order %d out of [0, 2]", c.Deltas)
	case c.Deltas > 0 && c.DeltaWindow < 1:
		return fmt.Errorf("delta window %d must be positive", c.DeltaWindow)
	case c.LowFreq < 0 || (c.HighFreq != 0 && c.HighFreq <= c.LowFreq):
		return fmt.Errorf("bad frequency range %g-%g Hz", c.LowFreq, c.HighFreq)
	}
	return nil
}

// StreamWidths returns the stream layout of the extracted features.
func (c Config) StreamWidths() []int {
	orders := c.Deltas + 1
	if c.SplitStreams {
		widths := make([]int, orders)
		for i := range widths {
			widths[i] = c.NumCepstra
		}
		return widths
	}
	return []int{orders * c.NumCepstra}
}

// Period returns the frame period in 100ns ticks.
func (c Config) Period() int64 {
	return int64(math.Round(c.FrameShiftMs * 1e4))
}

// Extractor computes MFCCs at one sample rate. It is not safe for
// concurrent use.
type Extractor struct {
	cfg        Config
	sampleRate int
	frameLen   int
	shift      int
	window     []float64
	fft        *fourier.FFT
	frame      []float64
	coeffs     []complex128
	power      []float64
	bank       *melBank
	dct        [][]float64
	lifter     []float64
	logMel     []float64
}

// NewExtractor prepares the window, FFT plan and filterbank for
// sampleRate.
func NewExtractor(cfg Config, sampleRate int) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("bad sample rate %d", sampleRate)
	}
	high := cfg.HighFreq
	if high == 0 {
		high = float64(sampleRate) / 2
	}
	if high > float64(sampleRate)/2 {
		return nil, fmt.Errorf("high frequency %g Hz above Nyquist for %d Hz", high, sampleRate)
	}
	frameLen := int(cfg.FrameLenMs * float64(sampleRate) / 1000)
	shift := int(cfg.FrameShiftMs * float64(sampleRate) / 1000)
	if frameLen < 2 || shift < 1 {
		return nil, fmt.Errorf("frames of %d samples with shift %d are too short", frameLen, shift)
	}
	n := 1
	for n < frameLen {
		n <<= 1
	}
	e := &Extractor{
		cfg:        cfg,
		sampleRate: sampleRate,
		frameLen:   frameLen,
		shift:      shift,
		window:     hamming(frameLen),
		fft:        fourier.NewFFT(n),
		frame:      make([]float64, n),
		coeffs:     make([]complex128, n/2+1),
		power:      make([]float64, n/2+1),
		bank:       newMelBank(cfg.NumFilters, n, sampleRate, cfg.LowFreq, high),
		dct:        dctMatrix(cfg.NumCepstra, cfg.NumFilters),
		logMel:     make([]float64, cfg.NumFilters),
	}
	if cfg.CepLifter > 0 {
		e.lifter = lifterWeights(cfg.NumCepstra, cfg.CepLifter)
	}
	return e, nil
}

// NumFrames returns the number of frames produced for n samples.
func (e *Extractor) NumFrames(n int) int {
	if n < e.frameLen {
		return 0
	}
	return 1 + (n-e.frameLen)/e.shift
}

// Extract returns one vector per frame: the statics followed by the
// requested dynamic features.
func (e *Extractor) Extract(samples []float64) ([][]float64, error) {
	T := e.NumFrames(len(samples))
	if T == 0 {
		return nil, errors.New("audio too short for a single frame")
	}
	statics := make([][]float64, T)
	for t := range statics {
		statics[t] = e.cepstra(samples[t*e.shift : t*e.shift+e.frameLen])
	}
	if e.cfg.CMN {
		subtractMean(statics)
	}
	return appendDeltas(statics, e.cfg.Deltas, e.cfg.DeltaWindow), nil
}

func (e *Extractor) cepstra(seg []float64) []float64 {
	clear(e.frame)
	prev := seg[0]
	e.frame[0] = seg[0] * e.window[0]
	for i := 1; i < len(seg); i++ {
		e.frame[i] = (seg[i] - e.cfg.PreEmphasis*prev) * e.window[i]
		prev = seg[i]
	}
	e.fft.Coefficients(e.coeffs, e.frame)
	for k, c := range e.coeffs {
		e.power[k] = real(c)*real(c) + imag(c)*imag(c)
	}
	e.bank.logEnergies(e.power, e.logMel)

	out := make([]float64, e.cfg.NumCepstra)
	for i, row := range e.dct {
		var sum float64
		for j, c := range row {
			sum += c * e.logMel[j]
		}
		out[i] = sum
	}
	for i, w := range e.lifter {
		out[i] *= w
	}
	return out
}

// Utterance extracts the features of w into a feature file named name.
func (e *Extractor) Utterance(name string, w *audio.Wave) (*corpus.Utterance, error) {
	if w.SampleRate != e.sampleRate {
		return nil, fmt.Errorf("%s: sample rate %d, extractor set up for %d", name, w.SampleRate, e.sampleRate)
	}
	vecs, err := e.Extract(w.Samples)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	widths := e.cfg.StreamWidths()
	u := &corpus.Utterance{
		Name:         name,
		Period:       e.cfg.Period(),
		StreamWidths: widths,
		Frames:       make([]acoustic.Observation, len(vecs)),
	}
	for t, v := range vecs {
		obs := make(acoustic.Observation, len(widths))
		off := 0
		for s, n := range widths {
			obs[s] = acoustic.StreamObs{Vec: v[off : off+n]}
			off += n
		}
		u.Frames[t] = obs
	}
	return u, nil
}

func hamming(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

func dctMatrix(numCepstra, numFilters int) [][]float64 {
	norm := math.Sqrt(2 / float64(numFilters))
	m := make([][]float64, numCepstra)
	for i := range m {
		m[i] = make([]float64, numFilters)
		for j := range m[i] {
			m[i][j] = norm * math.Cos(math.Pi*float64(i)*(float64(j)+0.5)/float64(numFilters))
		}
	}
	return m
}

func lifterWeights(numCepstra, L int) []float64 {
	w := make([]float64, numCepstra)
	for i := range w {
		w[i] = 1 + float64(L)/2*math.Sin(math.Pi*float64(i)/float64(L))
	}
	return w
}
