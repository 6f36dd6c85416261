package output

import (
	"encoding/json"
	"fmt"
	"io"
	"scanwarden/internal/scan"
)

const (
	FormatText   = "text"
	FormatJSON   = "json"
	FormatNDJSON = "ndjson"
)

// structured renders events in one of the machine formats: NDJSON streams
// every Event as a line, JSON collects run results and writes them as one
// array when the sink closes.
type structured struct {
	format  string
	results []*scan.Result
}

func newStructured(format string) (structured, error) {
	if format != FormatJSON && format != FormatNDJSON {
		return structured{}, fmt.Errorf("unsupported structured format: %s (must be one of: json, ndjson)", format)
	}
	return structured{format: format}, nil
}

// write reports whether anything reached w.
func (c *structured) write(w io.Writer, v any) (bool, error) {
	if c.format == FormatJSON {
		if res, ok := resultOf(v); ok {
			c.results = append(c.results, res)
		}
		return false, nil
	}
	e, ok := v.(Event)
	if !ok {
		return false, nil
	}
	return true, json.NewEncoder(w).Encode(e)
}

func (c *structured) finish(w io.Writer) error {
	if c.format != FormatJSON {
		return nil
	}
	return encodeResults(w, c.results)
}

func encodeResults(w io.Writer, results []*scan.Result) error {
	if results == nil {
		results = []*scan.Result{}
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(results); err != nil {
		return err
	}
	return flush(w)
}

func flush(w io.Writer) error {
	if f, ok := w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}
