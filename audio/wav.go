// Package audio reads PCM waveforms.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// Wave is a mono waveform with samples scaled to [-1, 1).
type Wave struct {
	SampleRate int
	Samples    []float64
}

// Duration returns the length of the waveform in seconds.
func (w *Wave) Duration() float64 {
	if w.SampleRate == 0 {
		return 0
	}
	return float64(len(w.Samples)) / float64(w.SampleRate)
}

type wavFormat struct {
	channels int
	rate     int
	bits     int
}

// ReadWAV decodes a 16-bit PCM RIFF/WAVE stream. Multi-channel audio is
// mixed down to mono.
func ReadWAV(r io.ReadSeeker) (*Wave, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("read RIFF header: %w", err)
	}
	if string(hdr[0:4]) != "RIFF" || string(hdr[8:12]) != "WAVE" {
		return nil, errors.New("not a RIFF/WAVE file")
	}

	var format *wavFormat
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read chunk header: %w", err)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])
		switch id {
		case "fmt ":
			f, err := readFormat(r, size)
			if err != nil {
				return nil, err
			}
			format = f
		case "data":
			if format == nil {
				return nil, errors.New("data chunk before fmt chunk")
			}
			return readData(r, size, format)
		default:
			skip := int64(size) + int64(size%2)
			if _, err := r.Seek(skip, io.SeekCurrent); err != nil {
				return nil, fmt.Errorf("skip chunk %q: %w", id, err)
			}
		}
	}
	if format == nil {
		return nil, errors.New("missing fmt chunk")
	}
	return nil, errors.New("missing data chunk")
}

// LoadWAV reads a WAV file from disk.
func LoadWAV(path string) (*Wave, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	w, err := ReadWAV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return w, nil
}

func readFormat(r io.ReadSeeker, size uint32) (*wavFormat, error) {
	if size < 16 {
		return nil, fmt.Errorf("fmt chunk too short: %d bytes", size)
	}
	var b [16]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return nil, fmt.Errorf("read fmt chunk: %w", err)
	}
	if tag := binary.LittleEndian.Uint16(b[0:2]); tag != 1 {
		return nil, fmt.Errorf("unsupported audio format %d, want PCM", tag)
	}
	f := &wavFormat{
		channels: int(binary.LittleEndian.Uint16(b[2:4])),
		rate:     int(binary.LittleEndian.Uint32(b[4:8])),
		bits:     int(binary.LittleEndian.Uint16(b[14:16])),
	}
	if f.channels < 1 {
		return nil, errors.New("no channels")
	}
	if f.rate <= 0 {
		return nil, fmt.Errorf("bad sample rate %d", f.rate)
	}
	if f.bits != 16 {
		return nil, fmt.Errorf("unsupported sample size %d bits, want 16", f.bits)
	}
	if extra := int64(size) - 16 + int64(size%2); extra > 0 {
		if _, err := r.Seek(extra, io.SeekCurrent); err != nil {
			return nil, fmt.Errorf("skip fmt extension: %w", err)
		}
	}
	return f, nil
}

func readData(r io.Reader, size uint32, f *wavFormat) (*Wave, error) {
	frameBytes := 2 * f.channels
	n := int(size) / frameBytes
	raw := make([]int16, n*f.channels)
	if err := binary.Read(r, binary.LittleEndian, raw); err != nil {
		return nil, fmt.Errorf("read PCM data: %w", err)
	}
	w := &Wave{SampleRate: f.rate, Samples: make([]float64, n)}
	scale := 1 / (32768.0 * float64(f.channels))
	for i := range w.Samples {
		var sum float64
		for c := 0; c < f.channels; c++ {
			sum += float64(raw[i*f.channels+c])
		}
		w.Samples[i] = sum * scale
	}
	return w, nil
}

// WriteWAV encodes w as 16-bit mono PCM. Samples are clipped to [-1, 1).
func WriteWAV(out io.Writer, w *Wave) error {
	pcm := make([]int16, len(w.Samples))
	for i, s := range w.Samples {
		v := s * 32768
		switch {
		case v > 32767:
			v = 32767
		case v < -32768:
			v = -32768
		}
		pcm[i] = int16(v)
	}
	dataSize := uint32(2 * len(pcm))
	hdr := make([]byte, 44)
	copy(hdr[0:], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:], 36+dataSize)
	copy(hdr[8:], "WAVEfmt ")
	binary.LittleEndian.PutUint32(hdr[16:], 16)
	binary.LittleEndian.PutUint16(hdr[20:], 1)
	binary.LittleEndian.PutUint16(hdr[22:], 1)
	binary.LittleEndian.PutUint32(hdr[24:], uint32(w.SampleRate))
	binary.LittleEndian.PutUint32(hdr[28:], uint32(2*w.SampleRate))
	binary.LittleEndian.PutUint16(hdr[32:], 2)
	binary.LittleEndian.PutUint16(hdr[34:], 16)
	copy(hdr[36:], "data")
	binary.LittleEndian.PutUint32(hdr[40:], dataSize)
	if _, err := out.Write(hdr); err != nil {
		return err
	}
	return binary.Write(out, binary.LittleEndian, pcm)
}
