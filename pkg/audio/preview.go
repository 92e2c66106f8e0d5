// Package audio mixes a sequence into an offline WAV preview so a render can be
// auditioned without the installation's player.
package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"

	"github.com/leowmjw/go-sonify/pkg/timeline"
)

const (
	defaultSampleRate = 44100
	resampleQuality   = 4
	// tailMs lets the last samples ring out past the end of the timeline
	tailMs = 2000
)

// Options configures a preview mix
type Options struct {
	SampleRate int
	// BaseDir resolves relative instrument file paths
	BaseDir string
}

// Preview renders sequences to WAV files
type Preview struct {
	opts   Options
	format beep.Format
	logger *slog.Logger
	cache  map[string]*beep.Buffer
}

// NewPreview creates a preview mixer
func NewPreview(opts Options, logger *slog.Logger) *Preview {
	if opts.SampleRate <= 0 {
		opts.SampleRate = defaultSampleRate
	}
	return &Preview{
		opts: opts,
		format: beep.Format{
			SampleRate:  beep.SampleRate(opts.SampleRate),
			NumChannels: 2,
			Precision:   2,
		},
		logger: logger,
		cache:  make(map[string]*beep.Buffer),
	}
}

// Format returns the output format of the preview
func (p *Preview) Format() beep.Format {
	return p.format
}

// Render mixes seq and writes it to path as 16-bit stereo WAV
func (p *Preview) Render(ctx context.Context, path string, seq timeline.Sequence, instruments []timeline.Instrument, totalMs int) error {
	stream, length, err := p.Mix(ctx, seq, instruments, totalMs)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := wav.Encode(f, beep.Take(length, stream), p.format); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}

// Mix schedules every event and returns the mixed stream with its total length in samples
func (p *Preview) Mix(ctx context.Context, seq timeline.Sequence, instruments []timeline.Instrument, totalMs int) (beep.Streamer, int, error) {
	files := make(map[int]string, len(instruments))
	for _, inst := range instruments {
		files[inst.Index] = inst.File
	}

	voices := make([]scheduledVoice, 0, len(seq))
	lastMs := totalMs
	for i, e := range seq {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, 0, err
			}
		}

		file, ok := files[e.Instrument]
		if !ok {
			return nil, 0, fmt.Errorf("event %d references unknown instrument %d", i, e.Instrument)
		}
		buf, err := p.sample(file)
		if err != nil {
			return nil, 0, err
		}

		voices = append(voices, scheduledVoice{at: p.samplesAt(e.ElapsedMs), s: Voice(buf, e.Gain, e.Rate)})
		if e.ElapsedMs > lastMs {
			lastMs = e.ElapsedMs
		}
	}

	p.logger.Debug("Preview mixed", "events", len(seq), "samples", len(p.cache))
	sort.SliceStable(voices, func(i, j int) bool { return voices[i].at < voices[j].at })
	return &schedule{voices: voices}, p.samplesAt(lastMs + tailMs), nil
}

type scheduledVoice struct {
	at int
	s  beep.Streamer
}

// schedule adds each voice to the mixer when playback reaches its start,
// so only sounding voices are streamed
type schedule struct {
	mixer  beep.Mixer
	voices []scheduledVoice
	pos    int
}

func (s *schedule) Stream(samples [][2]float64) (int, bool) {
	filled := 0
	for filled < len(samples) {
		for len(s.voices) > 0 && s.voices[0].at <= s.pos {
			s.mixer.Add(s.voices[0].s)
			s.voices = s.voices[1:]
		}
		chunk := samples[filled:]
		if len(s.voices) > 0 && s.voices[0].at-s.pos < len(chunk) {
			chunk = chunk[:s.voices[0].at-s.pos]
		}
		n, _ := s.mixer.Stream(chunk)
		filled += n
		s.pos += n
	}
	return len(samples), true
}

func (s *schedule) Err() error {
	return nil
}

// Voice plays one buffered sample at the given gain and rate
func Voice(buf *beep.Buffer, gain, rate float64) beep.Streamer {
	var s beep.Streamer = buf.Streamer(0, buf.Len())
	if rate > 0 && rate != 1 {
		s = beep.ResampleRatio(resampleQuality, rate, s)
	}
	// effects.Gain scales by 1+Gain
	return &effects.Gain{Streamer: s, Gain: gain - 1}
}

func (p *Preview) samplesAt(ms int) int {
	return p.format.SampleRate.N(time.Duration(ms) * time.Millisecond)
}

// sample decodes an instrument file once and caches it at the preview rate
func (p *Preview) sample(file string) (*beep.Buffer, error) {
	if buf, ok := p.cache[file]; ok {
		return buf, nil
	}

	path := file
	if !filepath.IsAbs(path) && p.opts.BaseDir != "" {
		path = filepath.Join(p.opts.BaseDir, path)
	}
	stream, format, err := decodeAudio(path)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var s beep.Streamer = stream
	if format.SampleRate != p.format.SampleRate {
		s = beep.Resample(resampleQuality, format.SampleRate, p.format.SampleRate, s)
	}

	buf := beep.NewBuffer(p.format)
	buf.Append(s)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	p.cache[file] = buf
	p.logger.Debug("Loaded sample", "file", path, "samples", buf.Len())
	return buf, nil
}

// decodeAudio opens and decodes an mp3 or wav file
func decodeAudio(path string) (beep.StreamSeekCloser, beep.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, beep.Format{}, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		stream, format, err := mp3.Decode(f)
		if err != nil {
			f.Close()
			return nil, beep.Format{}, fmt.Errorf("failed to decode %s: %w", path, err)
		}
		return stream, format, nil
	case ".wav":
		stream, format, err := wav.Decode(f)
		if err != nil {
			f.Close()
			return nil, beep.Format{}, fmt.Errorf("failed to decode %s: %w", path, err)
		}
		return stream, format, nil
	default:
		f.Close()
		return nil, beep.Format{}, fmt.Errorf("unsupported audio format %q", filepath.Ext(path))
	}
}
