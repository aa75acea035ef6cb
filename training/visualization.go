package training

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// PlotType names a plot in the exported plot data.
type PlotType string

const (
	TrainingCurves       PlotType = "training_curves"
	LearningRateSchedule PlotType = "learning_rate_schedule"
)

// PlotData is a plotting-tool agnostic description of one chart.
type PlotData struct {
	PlotType  PlotType     `json:"plot_type"`
	Title     string       `json:"title"`
	Timestamp time.Time    `json:"timestamp"`
	ModelName string       `json:"model_name"`
	Series    []SeriesData `json:"series"`
	Config    PlotConfig   `json:"config"`
}

// SeriesData represents a single data series in a plot
type SeriesData struct {
	Name  string                 `json:"name"`
	Type  string                 `json:"type"`
	Data  []DataPoint            `json:"data"`
	Style map[string]interface{} `json:"style,omitempty"`
}

type DataPoint struct {
	X interface{} `json:"x"`
	Y interface{} `json:"y"`
}

// PlotConfig contains plot-specific configuration
type PlotConfig struct {
	XAxisLabel string `json:"x_axis_label"`
	YAxisLabel string `json:"y_axis_label"`
	XAxisScale string `json:"x_axis_scale"`
	YAxisScale string `json:"y_axis_scale"`
	ShowLegend bool   `json:"show_legend"`
	ShowGrid   bool   `json:"show_grid"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

// VisualizationCollector keeps the full loss and learning rate history of a
// run for export as plot data.
type VisualizationCollector struct {
	modelName string

	steps           []int
	dLoss           []float64
	gLoss           []float64
	contentLoss     []float64
	adversarialLoss []float64
	generatorLR     []float64
	discriminatorLR []float64
}

// NewVisualizationCollector creates an empty collector for modelName.
func NewVisualizationCollector(modelName string) *VisualizationCollector {
	return &VisualizationCollector{modelName: modelName}
}

// RecordStep appends one step's losses and learning rates.
func (vc *VisualizationCollector) RecordStep(r StepResult, generatorLR, discriminatorLR float32) {
	vc.steps = append(vc.steps, r.Epoch)
	vc.dLoss = append(vc.dLoss, float64(r.DLoss))
	vc.gLoss = append(vc.gLoss, float64(r.GLoss))
	vc.contentLoss = append(vc.contentLoss, float64(r.ContentLoss))
	vc.adversarialLoss = append(vc.adversarialLoss, float64(r.AdversarialLoss))
	vc.generatorLR = append(vc.generatorLR, float64(generatorLR))
	vc.discriminatorLR = append(vc.discriminatorLR, float64(discriminatorLR))
}

// Len returns the number of recorded steps.
func (vc *VisualizationCollector) Len() int { return len(vc.steps) }

func (vc *VisualizationCollector) series(name, color string, values []float64) SeriesData {
	s := SeriesData{
		Name:  name,
		Type:  "line",
		Data:  make([]DataPoint, len(values)),
		Style: map[string]interface{}{"color": color, "line_width": 2},
	}
	for i, v := range values {
		s.Data[i] = DataPoint{X: vc.steps[i], Y: v}
	}
	return s
}

// GenerateTrainingCurvesPlot generates training curves plot data
func (vc *VisualizationCollector) GenerateTrainingCurvesPlot() PlotData {
	return PlotData{
		PlotType:  TrainingCurves,
		Title:     fmt.Sprintf("Training Curves - %s", vc.modelName),
		Timestamp: time.Now(),
		ModelName: vc.modelName,
		Series: []SeriesData{
			vc.series("Discriminator Loss", "#FF6B6B", vc.dLoss),
			vc.series("Generator Loss", "#4ECDC4", vc.gLoss),
			vc.series("Content Loss", "#FF9F43", vc.contentLoss),
			vc.series("Adversarial Loss", "#5F27CD", vc.adversarialLoss),
		},
		Config: PlotConfig{
			XAxisLabel: "Epoch",
			YAxisLabel: "Loss",
			XAxisScale: "linear",
			YAxisScale: "log",
			ShowLegend: true,
			ShowGrid:   true,
			Width:      800,
			Height:     600,
		},
	}
}

// GenerateLearningRateSchedulePlot generates learning rate schedule plot data
func (vc *VisualizationCollector) GenerateLearningRateSchedulePlot() PlotData {
	return PlotData{
		PlotType:  LearningRateSchedule,
		Title:     fmt.Sprintf("Learning Rate Schedule - %s", vc.modelName),
		Timestamp: time.Now(),
		ModelName: vc.modelName,
		Series: []SeriesData{
			vc.series("Generator LR", "#6C5CE7", vc.generatorLR),
			vc.series("Discriminator LR", "#00B894", vc.discriminatorLR),
		},
		Config: PlotConfig{
			XAxisLabel: "Epoch",
			YAxisLabel: "Learning Rate",
			XAxisScale: "linear",
			YAxisScale: "log",
			ShowLegend: true,
			ShowGrid:   true,
			Width:      800,
			Height:     400,
		},
	}
}

// Save writes both plots as a JSON array to path.
func (vc *VisualizationCollector) Save(path string) error {
	data, err := json.MarshalIndent([]PlotData{
		vc.GenerateTrainingCurvesPlot(),
		vc.GenerateLearningRateSchedulePlot(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal plot data to JSON: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
