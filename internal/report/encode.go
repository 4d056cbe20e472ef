package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Schema selects the report wire format.
type Schema string

const (
	// SchemaLists emits three separate path lists plus errors.
	SchemaLists Schema = "lists"

	// SchemaEvents emits one ordered list of {kind, path} records.
	SchemaEvents Schema = "events"
)

// ParseSchema validates a configured schema name.
func ParseSchema(s string) (Schema, error) {
	switch Schema(s) {
	case SchemaLists, SchemaEvents:
		return Schema(s), nil
	default:
		return "", fmt.Errorf("unknown report schema %q", s)
	}
}

type listsReport struct {
	Inputs     []Input  `json:"inputs"`
	Outputs    []Output `json:"outputs"`
	Errors     []string `json:"errors"`
	Incomplete bool     `json:"incomplete,omitempty"`
}

type eventsReport struct {
	Events     []Event `json:"events"`
	Incomplete bool    `json:"incomplete,omitempty"`
}

// Encode writes the result to w as JSON in the given schema.
func Encode(w io.Writer, schema Schema, res *TraceResult) error {
	enc := json.NewEncoder(w)

	var err error

	switch schema {
	case SchemaEvents:
		events := res.Events
		if events == nil {
			events = []Event{}
		}

		err = enc.Encode(eventsReport{
			Events:     events,
			Incomplete: res.Incomplete,
		})
	default:
		inputs := res.Inputs
		if inputs == nil {
			inputs = []Input{}
		}

		outputs := res.Outputs
		if outputs == nil {
			outputs = []Output{}
		}

		errs := res.Errors
		if errs == nil {
			errs = []string{}
		}

		err = enc.Encode(listsReport{
			Inputs:     inputs,
			Outputs:    outputs,
			Errors:     errs,
			Incomplete: res.Incomplete,
		})
	}

	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	return nil
}

// EncodeFile writes the result to an already open file. Files named
// *.zst are zstd compressed.
func EncodeFile(f *os.File, schema Schema, res *TraceResult) error {
	if !strings.HasSuffix(f.Name(), ".zst") {
		return Encode(f, schema, res)
	}

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("creating zstd writer: %w", err)
	}

	if err := Encode(zw, schema, res); err != nil {
		zw.Close()

		return err
	}

	return zw.Close()
}

// WriteFile creates (or truncates) path and writes the result there.
func WriteFile(path string, schema Schema, res *TraceResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report file: %w", err)
	}

	if err := EncodeFile(f, schema, res); err != nil {
		f.Close()

		return err
	}

	return f.Close()
}
