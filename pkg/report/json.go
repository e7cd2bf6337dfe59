package report

import (
	"encoding/json"
	"io"
)

// WriteJSON renders the accumulated report as the structured document
// described by §4.7, for the CLI's `--output json` (or equivalent) mode.
func (r *Reporter) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r.Document())
}
