package training

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVisualizationCollectorExport(t *testing.T) {
	vc := NewVisualizationCollector("srgan")
	vc.RecordStep(StepResult{Epoch: 0, DLoss: 0.7, GLoss: 1.2, ContentLoss: 1.1, AdversarialLoss: 0.69}, 1e-4, 1e-4)
	vc.RecordStep(StepResult{Epoch: 1, DLoss: 0.6, GLoss: 1.0, ContentLoss: 0.9, AdversarialLoss: 0.7}, 5e-5, 5e-5)
	require.Equal(t, 2, vc.Len())

	curves := vc.GenerateTrainingCurvesPlot()
	require.Equal(t, TrainingCurves, curves.PlotType)
	require.Len(t, curves.Series, 4)
	require.Equal(t, 1, curves.Series[0].Data[1].X)
	require.InDelta(t, 0.6, curves.Series[0].Data[1].Y, 1e-6)

	path := filepath.Join(t.TempDir(), "plots", "training.json")
	require.NoError(t, vc.Save(path))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var plots []PlotData
	require.NoError(t, json.Unmarshal(raw, &plots))
	require.Len(t, plots, 2)
	require.Equal(t, LearningRateSchedule, plots[1].PlotType)
	require.Len(t, plots[1].Series[0].Data, 2)
}
