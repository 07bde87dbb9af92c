package reconcile

import (
	"io"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// WriteReport renders a human-readable summary of a run, with quantities
// grouped for readability.
func WriteReport(w io.Writer, rep Report) error {
	p := message.NewPrinter(language.English)
	if _, err := p.Fprintf(w, "Stock reconciliation %s (took %s)\n",
		rep.RunAt.Format(time.RFC3339), rep.Duration.Round(time.Millisecond)); err != nil {
		return err
	}
	if _, err := p.Fprintf(w, "%d critical, %d warnings, %d informational\n\n",
		rep.Critical, rep.Warnings, rep.Infos); err != nil {
		return err
	}
	if len(rep.Findings) == 0 {
		_, err := p.Fprintf(w, "No divergence found.\n")
		return err
	}
	for _, f := range rep.Findings {
		if _, err := p.Fprintf(w, "[%s] %s %s: %s\n", f.Severity, f.Code, f.ItemName, f.Detail); err != nil {
			return err
		}
	}
	return nil
}
