package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"signal-intel/internal/service"
)

// Operation names accepted by Trigger.
const (
	OpCollect  = "collect"
	OpProcess  = "process"
	OpValidate = "validate"
	OpLearn    = "learn"
)

// Trigger runs one pipeline stage once and prints its result as JSON.
func (a *App) Trigger(ctx context.Context, op string) error {
	rt, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	var (
		result  any
		success bool
		message string
	)
	switch op {
	case OpCollect:
		res := rt.service.Collect(ctx)
		result, success, message = res, res.Success, res.Error
	case OpProcess:
		res := rt.service.Process(ctx)
		result, success, message = res, res.Success, res.Error
	case OpValidate:
		res := rt.service.Validate(ctx)
		result, success, message = res, res.Success, res.Error
	case OpLearn:
		res := rt.service.Learn(ctx)
		result, success, message = res, res.Success, res.Error
	default:
		return fmt.Errorf("unknown operation %q", op)
	}

	if err := printJSON(os.Stdout, result); err != nil {
		return err
	}
	if !success {
		return fmt.Errorf("%s failed: %s", op, message)
	}
	return nil
}

// IngestFile loads a JSON array of raw items from path ("-" for stdin).
func (a *App) IngestFile(ctx context.Context, path string) error {
	var in io.Reader = os.Stdin
	if path != "-" {
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		in = file
	}

	rt, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	items, err := service.DecodeIngest(in)
	if err != nil {
		return err
	}
	stored, err := rt.service.Ingest(ctx, items)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, map[string]any{"success": true, "items_ingested": stored})
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
