package training

import (
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// LossWindow keeps the most recent values of each named loss so the session
// can log smoothed figures instead of single noisy batches.
type LossWindow struct {
	size   int
	series map[string][]float64
	next   map[string]int
}

// WindowStat summarises one series of a LossWindow.
type WindowStat struct {
	Mean  float64
	Std   float64
	Count int
}

// NewLossWindow keeps the last size values of every metric.
func NewLossWindow(size int) *LossWindow {
	if size <= 0 {
		size = 1
	}
	return &LossWindow{
		size:   size,
		series: make(map[string][]float64),
		next:   make(map[string]int),
	}
}

// Add records value under name, overwriting the oldest value once the window
// is full.
func (w *LossWindow) Add(name string, value float64) {
	s := w.series[name]
	if len(s) < w.size {
		w.series[name] = append(s, value)
		return
	}
	i := w.next[name]
	s[i] = value
	w.next[name] = (i + 1) % w.size
}

// Record adds every loss of a step result.
func (w *LossWindow) Record(r StepResult) {
	for name, v := range r.Metrics() {
		w.Add(name, v)
	}
}

// Stat returns the mean and sample standard deviation of a series.
func (w *LossWindow) Stat(name string) (WindowStat, bool) {
	s, ok := w.series[name]
	if !ok || len(s) == 0 {
		return WindowStat{}, false
	}
	ws := WindowStat{Count: len(s)}
	if len(s) == 1 {
		ws.Mean = s[0]
		return ws, true
	}
	ws.Mean, ws.Std = stat.MeanStdDev(s, nil)
	return ws, true
}

// Means returns the mean of every series.
func (w *LossWindow) Means() map[string]float64 {
	out := make(map[string]float64, len(w.series))
	for name, s := range w.series {
		out[name] = stat.Mean(s, nil)
	}
	return out
}

// Reset forgets all values.
func (w *LossWindow) Reset() {
	w.series = make(map[string][]float64)
	w.next = make(map[string]int)
}

// String formats the windowed means for logging.
func (w *LossWindow) String() string {
	names := make([]string, 0, len(w.series))
	for name := range w.series {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for i, name := range names {
		if i > 0 {
			sb.WriteString(" ")
		}
		ws, _ := w.Stat(name)
		fmt.Fprintf(&sb, "%s=%.4f±%.4f", name, ws.Mean, ws.Std)
	}
	return sb.String()
}
