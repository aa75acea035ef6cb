package training

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/tsawler/go-srgan/layers"
)

// ProgressBar renders a single-line training progress display.
type ProgressBar struct {
	out         io.Writer
	description string
	total       int
	current     int
	startTime   time.Time
	width       int
	metrics     map[string]float64
}

// NewProgressBar creates a progress bar writing to out.
func NewProgressBar(out io.Writer, description string, total int) *ProgressBar {
	return &ProgressBar{
		out:         out,
		description: description,
		total:       total,
		startTime:   time.Now(),
		width:       40,
		metrics:     make(map[string]float64),
	}
}

// StderrIsTerminal reports whether a progress bar on stderr would be seen
// by a person rather than captured in a log file.
func StderrIsTerminal() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// Update advances the progress bar
func (pb *ProgressBar) Update(step int, metrics map[string]float64) {
	pb.current = step
	pb.metrics = metrics
	pb.render()
}

// Finish completes the progress bar
func (pb *ProgressBar) Finish() {
	pb.render()
	fmt.Fprintln(pb.out)
}

func (pb *ProgressBar) render() {
	fmt.Fprint(pb.out, pb.line())
}

// line formats the current state; it starts with a carriage return so each
// render overwrites the previous one.
func (pb *ProgressBar) line() string {
	percentage := 0.0
	if pb.total > 0 {
		percentage = min(float64(pb.current)/float64(pb.total), 1)
	}
	filled := int(percentage * float64(pb.width))
	bar := strings.Repeat("█", filled) + strings.Repeat(" ", pb.width-filled)

	elapsed := time.Since(pb.startTime)
	var eta time.Duration
	var rate float64
	if pb.current > 0 {
		rate = float64(pb.current) / elapsed.Seconds()
		if percentage > 0 {
			eta = time.Duration(float64(elapsed)/percentage) - elapsed
		}
	}

	line := fmt.Sprintf("\r%s: %3.0f%%|%s| %d/%d [%s<%s",
		pb.description, percentage*100, bar, pb.current, pb.total,
		formatDuration(elapsed), formatDuration(max(eta, 0)))
	if rate > 0 {
		line += fmt.Sprintf(", %.2fstep/s", rate)
	}

	keys := make([]string, 0, len(pb.metrics))
	for k := range pb.metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		line += fmt.Sprintf(", %s=%.4f", k, pb.metrics[k])
	}
	return line + "]"
}

// formatDuration formats duration as MM:SS
func formatDuration(d time.Duration) string {
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// PrintArchitecture writes the summary table of a compiled network followed
// by rough memory estimates for one training step.
func PrintArchitecture(w io.Writer, spec *layers.ModelSpec) {
	spec.WriteSummary(w)
	fmt.Fprintf(w, "Parameters: %s total, %s trainable\n",
		formatParameterCount(spec.TotalParameters), formatParameterCount(spec.TrainableParameters))
	fmt.Fprintf(w, "Input size (MB): %.3f\n", tensorMB(spec.InputShape))
	fmt.Fprintf(w, "Forward/backward pass size (MB): %.3f\n", estimateForwardBackwardSize(spec))
	fmt.Fprintf(w, "Params size (MB): %.3f\n", float64(spec.TotalParameters*4)/1024/1024)
	fmt.Fprintf(w, "Estimated Total Size (MB): %.3f\n\n", estimateTotalSize(spec))
}

// formatParameterCount formats parameter count with K/M suffixes
func formatParameterCount(count int64) string {
	if count >= 1000000 {
		return fmt.Sprintf("%.1fM", float64(count)/1000000.0)
	} else if count >= 1000 {
		return fmt.Sprintf("%.1fK", float64(count)/1000.0)
	}
	return fmt.Sprintf("%d", count)
}

// tensorMB is the size of a float32 tensor of the given shape.
func tensorMB(shape []int) float64 {
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	return float64(size*4) / 1024 / 1024
}

// estimateForwardBackwardSize keeps every layer output alive for the
// backward pass and doubles it for gradients.
func estimateForwardBackwardSize(spec *layers.ModelSpec) float64 {
	total := tensorMB(spec.InputShape)
	for _, l := range spec.Layers {
		total += tensorMB(l.OutputShape)
	}
	return total * 2
}

func estimateTotalSize(spec *layers.ModelSpec) float64 {
	params := float64(spec.TotalParameters*4) / 1024 / 1024
	return tensorMB(spec.InputShape) + params + estimateForwardBackwardSize(spec)
}
