package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/itchyny/gojq"
)

// compileJQ parses and compiles a jq expression with environment access disabled.
func compileJQ(expression string) (*gojq.Code, error) {
	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("jq parse error in %q: %w", expression, err)
	}
	code, err := gojq.Compile(query,
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, fmt.Errorf("jq compile error in %q: %w", expression, err)
	}
	return code, nil
}

// evalJQ runs expression over v and returns every output.
func evalJQ(ctx context.Context, expression string, v any) ([]any, error) {
	code, err := compileJQ(expression)
	if err != nil {
		return nil, err
	}

	// Round-trip through JSON so the input holds only the types gojq accepts.
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding jq input: %w", err)
	}
	var input any
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("decoding jq input: %w", err)
	}

	var results []any
	iter := code.RunWithContext(ctx, input)
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			var halt *gojq.HaltError
			if errors.As(err, &halt) && halt.Value() == nil {
				break
			}
			return nil, fmt.Errorf("jq evaluation failed for %q: %w", expression, err)
		}
		results = append(results, val)
	}
	return results, nil
}

// writeJSON prints v as indented JSON, filtered through --jq when set.
// String results of a filter are printed raw.
func writeJSON(ctx context.Context, w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if jqFilter == "" {
		return enc.Encode(v)
	}

	results, err := evalJQ(ctx, jqFilter, v)
	if err != nil {
		return err
	}
	for _, r := range results {
		if s, ok := r.(string); ok {
			fmt.Fprintln(w, s)
			continue
		}
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

func wantJSON() bool {
	return asJSON || jqFilter != ""
}
