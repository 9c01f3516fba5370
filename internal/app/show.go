package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"signal-intel/internal/storage"
)

// ShowSignals prints recent signals.
func (a *App) ShowSignals(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	signals, err := store.ListRecentSignals(ctx, opts.Limit)
	if err != nil {
		return err
	}
	instruments, err := store.ListInstruments(ctx)
	if err != nil {
		return err
	}
	return writeSignals(os.Stdout, signals, instruments)
}

// ShowSources prints the source credibility ranking.
func (a *App) ShowSources(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	sources, err := store.ListSources(ctx)
	if err != nil {
		return err
	}
	if opts.Limit > 0 && len(sources) > opts.Limit {
		sources = sources[:opts.Limit]
	}
	return writeSources(os.Stdout, sources)
}

func writeSignals(out io.Writer, signals []storage.Signal, instruments []storage.Instrument) error {
	if len(signals) == 0 {
		fmt.Fprintln(out, "no signals found")
		return nil
	}

	symbols := make(map[string]string, len(instruments))
	for _, inst := range instruments {
		symbols[inst.ID] = inst.Symbol
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Created (UTC)\tInstrument\tType\tDirection\tConfidence\tStatus\tNarrative")
	for _, sig := range signals {
		symbol := symbols[sig.InstrumentID]
		if symbol == "" {
			symbol = "?"
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%.2f\t%s\t%s\n",
			sig.CreatedAt.UTC().Format(time.RFC3339),
			symbol,
			sig.Type,
			orDash(string(sig.Direction)),
			sig.Confidence,
			sig.ValidationStatus,
			truncate(sanitizeInline(sig.Narrative), 60),
		)
	}
	return writer.Flush()
}

func writeSources(out io.Writer, sources []storage.SourceCredibility) error {
	if len(sources) == 0 {
		fmt.Fprintln(out, "no sources found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Source\tPlatform\tSignals\tTP\tFP\tAccuracy%\tWeight")
	for _, src := range sources {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%d\t%s\t%d\t%s\t%s\n",
			src.Name,
			src.Platform,
			src.TotalSignals,
			src.TruePositives.String(),
			src.FalsePositives,
			formatDecimal(src.Accuracy.Mul(decimal.NewFromInt(100)), 1),
			formatDecimal(src.Weight, 2),
		)
	}
	return writer.Flush()
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}

func truncate(v string, max int) string {
	runes := []rune(v)
	if len(runes) <= max {
		return v
	}
	return string(runes[:max-1]) + "…"
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
