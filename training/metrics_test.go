package training

import (
	"math"
	"testing"
)

func TestLossWindowRollsOver(t *testing.T) {
	w := NewLossWindow(3)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		w.Add("d_loss", v)
	}

	ws, ok := w.Stat("d_loss")
	if !ok {
		t.Fatal("expected d_loss to be tracked")
	}
	if ws.Count != 3 {
		t.Errorf("expected 3 values, got %d", ws.Count)
	}
	// Window holds 3, 4, 5.
	if math.Abs(ws.Mean-4) > 1e-12 {
		t.Errorf("expected mean 4, got %f", ws.Mean)
	}
	if math.Abs(ws.Std-1) > 1e-12 {
		t.Errorf("expected sample std 1, got %f", ws.Std)
	}

	if _, ok := w.Stat("g_loss"); ok {
		t.Error("untracked series should not report")
	}
}

func TestLossWindowRecordsStepResults(t *testing.T) {
	w := NewLossWindow(10)
	w.Record(StepResult{DLoss: 0.5, GLoss: 2, ContentLoss: 1.5, AdversarialLoss: 0.7})
	w.Record(StepResult{DLoss: 0.3, GLoss: 1, ContentLoss: 0.5, AdversarialLoss: 0.9})

	means := w.Means()
	if math.Abs(means["d_loss"]-0.4) > 1e-6 {
		t.Errorf("expected d_loss mean 0.4, got %f", means["d_loss"])
	}
	if math.Abs(means["g_loss"]-1.5) > 1e-6 {
		t.Errorf("expected g_loss mean 1.5, got %f", means["g_loss"])
	}

	ws, _ := w.Stat("content_loss")
	if ws.Count != 2 {
		t.Errorf("expected 2 content values, got %d", ws.Count)
	}
	if w.String() == "" {
		t.Error("expected a summary string")
	}

	w.Reset()
	if len(w.Means()) != 0 {
		t.Error("reset should clear every series")
	}
}

func TestLossWindowSingleValue(t *testing.T) {
	w := NewLossWindow(0)
	w.Add("x", 7)
	w.Add("x", 9)
	ws, _ := w.Stat("x")
	if ws.Count != 1 || ws.Mean != 9 || ws.Std != 0 {
		t.Errorf("unexpected stat %+v", ws)
	}
}
