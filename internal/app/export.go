package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"signal-intel/internal/pipeline"
	"signal-intel/internal/storage"
)

const defaultExportWindow = 30 * 24 * time.Hour

// Export renders historical signals as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-defaultExportWindow)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	signals, err := store.ListSignalsBetween(ctx, from, to)
	if err != nil {
		return err
	}

	instruments, err := store.ListInstruments(ctx)
	if err != nil {
		return err
	}
	symbols := make(map[string]string, len(instruments))
	for _, inst := range instruments {
		symbols[inst.ID] = inst.Symbol
	}

	signals = filterSignals(signals, symbols, pipeline.NormalizeSymbol(opts.Instrument), opts.Status)
	if len(signals) == 0 {
		a.Logger.Info().Msg("no signals found for export window")
		return nil
	}
	sort.SliceStable(signals, func(i, j int) bool { return signals[i].CreatedAt.Before(signals[j].CreatedAt) })

	downsampled := downsample(signals, opts.MaxPoints)
	a.Logger.Info().Int("total", len(signals)).Int("exported", len(downsampled)).Msg("exporting signals")

	if opts.CSVPath != "" {
		if err := writeSignalsCSV(opts.CSVPath, downsampled, symbols); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSignalsPNG(opts.PNGPath, signals, opts.MaxPoints); err != nil {
			return err
		}
	}

	return nil
}

func filterSignals(signals []storage.Signal, symbols map[string]string, symbol string, status storage.ValidationStatus) []storage.Signal {
	if symbol == "" && status == "" {
		return signals
	}
	kept := signals[:0:0]
	for _, sig := range signals {
		if symbol != "" && symbols[sig.InstrumentID] != symbol {
			continue
		}
		if status != "" && sig.ValidationStatus != status {
			continue
		}
		kept = append(kept, sig)
	}
	return kept
}

func downsample[T any](items []T, max int) []T {
	if max <= 0 || len(items) <= max {
		return items
	}
	if max == 1 {
		return items[len(items)-1:]
	}

	result := make([]T, 0, max)
	step := float64(len(items)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(items) {
			idx = len(items) - 1
		}
		result = append(result, items[idx])
	}
	return result
}

func writeSignalsCSV(path string, signals []storage.Signal, symbols map[string]string) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"created_at", "instrument", "signal_type", "category", "direction", "confidence", "corroborated", "cross_source_confirmed", "validation_status", "keywords", "narrative"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, sig := range signals {
		record := []string{
			sig.CreatedAt.Format(time.RFC3339),
			symbols[sig.InstrumentID],
			string(sig.Type),
			string(sig.Category),
			string(sig.Direction),
			strconv.FormatFloat(sig.Confidence, 'f', 4, 64),
			strconv.FormatBool(sig.Corroborated),
			strconv.FormatBool(sig.CrossSourceConfirmed),
			string(sig.ValidationStatus),
			strings.Join(sig.Keywords, ";"),
			sig.Narrative,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

// hitRateSeries returns the running hit rate over resolved signals, counting
// partial outcomes as half a hit. Pending signals carry the previous value.
func hitRateSeries(signals []storage.Signal) []float64 {
	out := make([]float64, len(signals))
	var hits float64
	var resolved int
	for i, sig := range signals {
		switch sig.ValidationStatus {
		case storage.StatusTruePositive:
			hits++
			resolved++
		case storage.StatusPartial:
			hits += 0.5
			resolved++
		case storage.StatusFalsePositive:
			resolved++
		}
		if resolved > 0 {
			out[i] = hits / float64(resolved) * 100
		}
	}
	return out
}

func writeSignalsPNG(path string, signals []storage.Signal, maxPoints int) error {
	if len(signals) < 2 {
		return errors.New("at least two signals are needed to render a chart")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	// the running rate needs every signal; thin out only afterwards
	rates := hitRateSeries(signals)
	type point struct {
		at         time.Time
		confidence float64
		rate       float64
	}
	points := make([]point, len(signals))
	for i, sig := range signals {
		points[i] = point{at: sig.CreatedAt, confidence: sig.Confidence * 100, rate: rates[i]}
	}
	points = downsample(points, maxPoints)

	x := make([]time.Time, len(points))
	confidence := make([]float64, len(points))
	hitRate := make([]float64, len(points))
	for i, p := range points {
		x[i] = p.at
		confidence[i] = p.confidence
		hitRate[i] = p.rate
	}

	pctFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f%%")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		// both axes are percentages; fixed ranges keep flat series (all pending) renderable
		YAxis: chart.YAxis{
			Name:           "Confidence (%)",
			ValueFormatter: pctFormatter,
			Range:          &chart.ContinuousRange{Min: 0, Max: 100},
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Hit rate (%)",
			ValueFormatter: pctFormatter,
			Range:          &chart.ContinuousRange{Min: 0, Max: 100},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Confidence",
				XValues: x,
				YValues: confidence,
			},
			chart.TimeSeries{
				Name:    "Hit rate",
				XValues: x,
				YValues: hitRate,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
