// Package report renders analysis runs as a plain-text report and a JSON
// document, and writes them to disk atomically.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rewired-gh/calspread/internal/models"
)

// File names written by Writer.Save.
const (
	TextFile = "analysis_report.txt"
	JSONFile = "analysis_report.json"
)

// Formats accepted by Writer.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// formatVersion is bumped when the JSON layout changes incompatibly.
const formatVersion = "1.0"

const rule = "================================================================================"
const thinRule = "--------------------------------------------------------------------------------"

// Document is the JSON file layout.
type Document struct {
	Version     string      `json:"version"`
	GeneratedAt time.Time   `json:"generated_at"`
	Run         *models.Run `json:"run"`
}

// Value formats a statistic, rendering undefined values as "n/a".
func Value(n models.NullFloat) string {
	if v, ok := n.Get(); ok {
		return fmt.Sprintf("%.6f", v)
	}
	return "n/a"
}

// QuantileLabel formats a quantile level as a percentage, e.g. " 25.0%".
func QuantileLabel(level float64) string {
	return fmt.Sprintf("%5.1f%%", level*100)
}

// WriteText renders the run in the plain-text report layout.
func WriteText(w io.Writer, run *models.Run) error {
	var b strings.Builder

	b.WriteString(rule + "\n")
	b.WriteString("FUTURES SPREAD DYNAMICS ANALYSIS\n")
	fmt.Fprintf(&b, "Analysis Period: %s to %s (%d days)\n",
		run.Window.Start.Format(models.DateLayout), run.Window.End.Format(models.DateLayout), run.Window.Days())
	fmt.Fprintf(&b, "Run: %s\n", run.ID)
	b.WriteString(rule + "\n")

	for i := range run.Results {
		writeResult(&b, i+1, &run.Results[i])
	}

	if len(run.Cross) > 0 {
		fmt.Fprintf(&b, "\n\n%s\nCROSS-SPREAD ANALYSIS\n%s\n", rule, rule)
		for _, c := range run.Cross {
			fmt.Fprintf(&b, "\n%s vs %s\n", c.Left, c.Right)
			fmt.Fprintf(&b, "Correlation between spreads: %s (%d days)\n\n", Value(c.Correlation), c.Pairs)
			b.WriteString("Correlations between deviation values:\n")
			if len(c.Deviations) == 0 {
				b.WriteString("  n/a\n")
			}
			for _, d := range c.Deviations {
				fmt.Fprintf(&b, "  %d-day deviations: %s\n", d.Window, Value(d.Correlation))
			}
		}
	}

	if len(run.Failures) > 0 {
		fmt.Fprintf(&b, "\n\n%s\nSOURCE FAILURES (treated as missing data)\n%s\n", rule, rule)
		for _, f := range run.Failures {
			fmt.Fprintf(&b, "  %s: %s\n", f.Instrument, f.Error)
		}
	}

	fmt.Fprintf(&b, "\n%s\nEND OF REPORT\n%s\n", rule, rule)

	_, err := io.WriteString(w, b.String())
	return err
}

func writeResult(b *strings.Builder, n int, r *models.AnalysisResult) {
	fmt.Fprintf(b, "\n%s\nSPREAD %d: %s\n%s\n\n", rule, n, r.Label, rule)

	if r.FrontContract != "" || r.SecondContract != "" {
		fmt.Fprintf(b, "Contracts: front %s, second %s\n", orNA(r.FrontContract), orNA(r.SecondContract))
	}
	if r.Spread == nil {
		b.WriteString("No spread available: fewer than two contracts traded in the period.\n")
	} else {
		fmt.Fprintf(b, "Days with data: %d of %d\n", r.Spread.ValidCount(), r.Spread.Len())
	}
	b.WriteString("\n")

	b.WriteString("Basic Statistics:\n")
	fmt.Fprintf(b, "  Mean:     %s\n", Value(r.Stats.Mean))
	fmt.Fprintf(b, "  Median:   %s\n", Value(r.Stats.Median))
	fmt.Fprintf(b, "  Std Dev:  %s\n", Value(r.Stats.Std))
	fmt.Fprintf(b, "  Min:      %s\n", Value(r.Stats.Min))
	fmt.Fprintf(b, "  Max:      %s\n\n", Value(r.Stats.Max))

	b.WriteString("Quantiles:\n")
	for _, q := range r.Stats.Quantiles {
		fmt.Fprintf(b, "  %s: %s\n", QuantileLabel(q.Level), Value(q.Value))
	}

	fmt.Fprintf(b, "\n%s\nDeviation Analysis (from N-day Rolling Average):\n%s\n", thinRule, thinRule)
	for _, d := range r.Deviations {
		fmt.Fprintf(b, "\n%d-Day Rolling Average Deviation:\n", d.Window)
		fmt.Fprintf(b, "  Median: %s\n", Value(d.Median))
		fmt.Fprintf(b, "  Std Dev: %s\n", Value(d.Std))
		b.WriteString("  Quantiles:\n")
		for _, q := range d.Quantiles {
			fmt.Fprintf(b, "    %s: %s\n", QuantileLabel(q.Level), Value(q.Value))
		}
	}
}

func orNA(s string) string {
	if s == "" {
		return "n/a"
	}
	return s
}

// Text returns the plain-text report.
func Text(run *models.Run) string {
	var buf bytes.Buffer
	_ = WriteText(&buf, run)
	return buf.String()
}

// JSON returns the run wrapped in a versioned Document.
func JSON(run *models.Run, generatedAt time.Time) ([]byte, error) {
	data, err := json.MarshalIndent(Document{
		Version:     formatVersion,
		GeneratedAt: generatedAt.UTC(),
		Run:         run,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run: %w", err)
	}
	return data, nil
}

// Writer saves reports into a directory.
type Writer struct {
	dir             string
	formats         []string
	filePermissions os.FileMode
	dirPermissions  os.FileMode
	now             func() time.Time
}

// NewWriter creates a Writer. Empty formats means text and JSON.
func NewWriter(dir string, formats []string) (*Writer, error) {
	if dir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if len(formats) == 0 {
		formats = []string{FormatText, FormatJSON}
	}
	for _, f := range formats {
		if f != FormatText && f != FormatJSON {
			return nil, fmt.Errorf("unknown report format %q", f)
		}
	}
	return &Writer{
		dir:             dir,
		formats:         formats,
		filePermissions: 0644,
		dirPermissions:  0755,
		now:             time.Now,
	}, nil
}

// Dir returns the output directory.
func (w *Writer) Dir() string {
	return w.dir
}

// Save writes the run in every configured format and returns the paths written.
func (w *Writer) Save(run *models.Run) ([]string, error) {
	if run == nil {
		return nil, fmt.Errorf("nothing to save")
	}
	if err := os.MkdirAll(w.dir, w.dirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var paths []string
	for _, f := range w.formats {
		var (
			name string
			data []byte
			err  error
		)
		switch f {
		case FormatText:
			name, data = TextFile, []byte(Text(run))
		case FormatJSON:
			name = JSONFile
			data, err = JSON(run, w.now())
			if err != nil {
				return paths, err
			}
		}

		path := filepath.Join(w.dir, name)
		if err := writeAtomic(path, data, w.filePermissions); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// LoadLatest reads the last saved JSON report. It returns nil, nil when none exists.
func (w *Writer) LoadLatest() (*models.Run, error) {
	path := filepath.Join(w.dir, JSONFile)

	// leftover from an interrupted Save
	tempPath := path + ".tmp"
	if _, err := os.Stat(tempPath); err == nil {
		_ = os.Remove(tempPath)
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	if doc.Version != formatVersion {
		return nil, fmt.Errorf("unsupported report version %q", doc.Version)
	}
	return doc.Run, nil
}

// writeAtomic writes to a temp file then renames it over path.
func writeAtomic(path string, data []byte, perm os.FileMode) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, perm); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}
