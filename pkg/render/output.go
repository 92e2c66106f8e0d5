package render

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/leowmjw/go-sonify/pkg/audio"
	"github.com/leowmjw/go-sonify/pkg/timeline"
)

// WriteOutputs writes every configured output file and returns their paths
func WriteOutputs(ctx context.Context, cfg *Config, plan *Plan, seq timeline.Sequence, logger *slog.Logger) ([]string, error) {
	out := cfg.Output
	if out == nil {
		return nil, nil
	}

	var written []string
	write := func(kind, path string, fn func(io.Writer) error) error {
		if path == "" {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		path = cfg.OutputPath(path)
		if err := writeFile(path, fn); err != nil {
			return fmt.Errorf("failed to write %s: %w", kind, err)
		}
		logger.Info("Wrote output", "kind", kind, "path", path)
		written = append(written, path)
		return nil
	}

	steps := []struct {
		kind string
		path string
		fn   func(io.Writer) error
		// sequence-derived files are skipped when nothing sounds
		needsEvents bool
	}{
		{"sequence", out.Sequence, func(w io.Writer) error { return WriteSequence(w, seq) }, true},
		{"instruments", out.Instruments, func(w io.Writer) error { return WriteInstruments(w, plan.Instruments) }, false},
		{"report summary", out.ReportSummary, func(w io.Writer) error { return WriteReportSummary(w, plan) }, false},
		{"report sequence", out.ReportSequence, func(w io.Writer) error { return WriteReportSequence(w, seq, plan.Instruments) }, true},
		{"visualization", out.Visualization, func(w io.Writer) error { return WriteVisualization(w, plan) }, false},
	}
	for _, s := range steps {
		if s.needsEvents && len(seq) == 0 && s.path != "" {
			logger.Warn("Sequence is empty, skipping output", "render", plan.Name, "kind", s.kind, "path", s.path)
			continue
		}
		if err := write(s.kind, s.path, s.fn); err != nil {
			return written, err
		}
	}

	if out.PreviewWAV != "" {
		path := cfg.OutputPath(out.PreviewWAV)
		mixer := audio.NewPreview(audio.Options{SampleRate: out.PreviewSampleRate, BaseDir: cfg.BaseDir}, logger)
		if err := mixer.Render(ctx, path, seq, plan.Instruments, plan.TotalMs); err != nil {
			return written, fmt.Errorf("failed to write preview: %w", err)
		}
		logger.Info("Wrote output", "kind", "preview", "path", path)
		written = append(written, path)
	}

	return written, nil
}

// WriteSequence writes the five-row-per-event table consumed by the player.
// Rows end in CRLF and the final CRLF is stripped.
func WriteSequence(w io.Writer, seq timeline.Sequence) error {
	rows := make([][]string, 0, len(seq)*5)
	for _, e := range seq {
		rows = append(rows,
			[]string{strconv.Itoa(e.Instrument)},
			[]string{strconv.Itoa(e.Position)},
			[]string{FormatFloat(e.Gain)},
			[]string{formatRate(e.Rate)},
			[]string{strconv.Itoa(e.DeltaMs)},
		)
	}
	return writeTrimmedCSV(w, rows)
}

// WriteInstruments writes an index row and a file row per instrument, final CRLF stripped
func WriteInstruments(w io.Writer, instruments []timeline.Instrument) error {
	rows := make([][]string, 0, len(instruments)*2)
	for _, inst := range instruments {
		rows = append(rows, []string{strconv.Itoa(inst.Index)}, []string{inst.File})
	}
	return writeTrimmedCSV(w, rows)
}

// WriteReportSummary writes one row per record with its raw and normalized metrics
func WriteReportSummary(w io.Writer, plan *Plan) error {
	header := []string{"Time", "Label", "Category"}
	for _, m := range plan.Metrics {
		header = append(header, m)
	}
	for _, m := range plan.Metrics {
		header = append(header, m+"_n")
	}

	cw := csv.NewWriter(w)
	cw.UseCRLF = true
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, rec := range plan.Records {
		row := []string{FormatElapsed(rec.Start), rec.Label, rec.Category}
		for _, m := range plan.Metrics {
			row = append(row, optionalFloat(rec.Raw, m))
		}
		for _, m := range plan.Metrics {
			row = append(row, optionalFloat(rec.Normalized, m))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteReportSequence writes a readable Time, Instrument, Gain listing, final CRLF stripped
func WriteReportSequence(w io.Writer, seq timeline.Sequence, instruments []timeline.Instrument) error {
	files := make(map[int]string, len(instruments))
	for _, inst := range instruments {
		files[inst.Index] = inst.File
	}

	rows := [][]string{{"Time", "Instrument", "Gain"}}
	for _, e := range seq {
		rows = append(rows, []string{FormatElapsed(e.ElapsedMs), files[e.Instrument], FormatFloat(e.Gain)})
	}
	return writeTrimmedCSV(w, rows)
}

// Visualization is the JSON document consumed by the web visualization
type Visualization struct {
	Name        string                          `json:"name"`
	BPM         float64                         `json:"bpm"`
	BeatMs      int                             `json:"beat_ms"`
	TotalMs     int                             `json:"total_ms"`
	Ranges      map[string]timeline.MetricRange `json:"ranges"`
	Instruments []VisualizationInstrument       `json:"instruments"`
	Records     []VisualizationRecord           `json:"records"`
}

// VisualizationInstrument is an instrument entry in the visualization
type VisualizationInstrument struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	File  string `json:"file"`
	// Gate lists the windows an interval-gated instrument may sound in
	Gate []timeline.Window `json:"gate,omitempty"`
}

// VisualizationRecord is a record entry in the visualization
type VisualizationRecord struct {
	Start    int                `json:"start"`
	Stop     int                `json:"stop"`
	Label    string             `json:"label,omitempty"`
	Category string             `json:"category,omitempty"`
	Values   map[string]float64 `json:"values"`
}

// WriteVisualization writes the visualization JSON
func WriteVisualization(w io.Writer, plan *Plan) error {
	viz := Visualization{
		Name:    plan.Name,
		BPM:     plan.BPM,
		BeatMs:  plan.BeatMs,
		TotalMs: plan.TotalMs,
		Ranges:  plan.Ranges,
	}
	for _, inst := range plan.Instruments {
		viz.Instruments = append(viz.Instruments, VisualizationInstrument{
			Index: inst.Index,
			Name:  inst.Name,
			File:  inst.File,
			Gate:  timeline.GateFor(inst).OpenWindows(plan.TotalMs),
		})
	}
	for _, rec := range plan.Records {
		viz.Records = append(viz.Records, VisualizationRecord{
			Start: rec.Start, Stop: rec.Stop, Label: rec.Label, Category: rec.Category, Values: rec.Normalized,
		})
	}
	return json.NewEncoder(w).Encode(viz)
}

// FormatFloat renders a float the way the downstream player's tables always have:
// shortest round-trip digits, with ".0" on integral values
func FormatFloat(v float64) string {
	abs := math.Abs(v)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".") {
		s += ".0"
	}
	return s
}

// FormatElapsed renders milliseconds as MM:SS.ms with unpadded milliseconds
func FormatElapsed(ms int) string {
	secs := ms / 1000
	return fmt.Sprintf("%02d:%02d.%d", (secs/60)%60, secs%60, ms%1000)
}

func formatRate(rate float64) string {
	if rate == math.Trunc(rate) {
		return strconv.Itoa(int(rate))
	}
	return FormatFloat(rate)
}

func optionalFloat(values map[string]float64, key string) string {
	v, ok := values[key]
	if !ok {
		return ""
	}
	return FormatFloat(v)
}

func writeTrimmedCSV(w io.Writer, rows [][]string) error {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	cw.UseCRLF = true
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	_, err := w.Write(bytes.TrimSuffix(buf.Bytes(), []byte("\r\n")))
	return err
}

func writeFile(path string, fn func(io.Writer) error) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
