package indicators

import (
	"context"
	"errors"
	"testing"
)

func TestQueueDeliversInSendOrder(t *testing.T) {
	q := NewQueue(8)
	q.Send(BufferEvents, 1)
	q.Send(BufferEvents, 2)
	if err := q.SendPlot(SiPMPlot, []float64{0, 2}, []float64{10, 11}); err != nil {
		t.Fatalf("send plot: %v", err)
	}
	q.Close()

	var got []Update
	for u := range q.Updates() {
		got = append(got, u)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 updates, got %d", len(got))
	}
	if got[0].Value != 1 || got[1].Value != 2 {
		t.Errorf("scalars out of order: %v %v", got[0].Value, got[1].Value)
	}
	if !got[2].IsPlot() || got[2].Y[1] != 11 {
		t.Errorf("unexpected plot update %+v", got[2])
	}
}

func TestQueueDropsWhenFull(t *testing.T) {
	q := NewQueue(2)
	for i := 0; i < 5; i++ {
		q.Send(TriggerFrequency, float64(i))
	}
	sent, dropped := q.Stats()
	if sent != 2 || dropped != 3 {
		t.Errorf("expected 2 sent and 3 dropped, got %d and %d", sent, dropped)
	}
}

func TestSendPlotRejectsMismatchedLengths(t *testing.T) {
	q := NewQueue(1)
	err := q.SendPlot(SiPMPlot, []float64{1, 2}, []float64{1})
	if !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
	if sent, _ := q.Stats(); sent != 0 {
		t.Errorf("mismatched plot was queued")
	}
}

func TestBoardKeepsLatest(t *testing.T) {
	q := NewQueue(8)
	board := NewBoard()
	q.Send(BufferEvents, 3)
	q.Send(BufferEvents, 9)
	q.SendPlot(SiPMPlot, []float64{0}, []float64{5})
	q.Close()
	board.Run(context.Background(), q)

	snap := board.Latest()
	if snap.Values["buffer_events"] != 9 {
		t.Errorf("expected latest buffer_events 9, got %v", snap.Values["buffer_events"])
	}
	if len(snap.Plots["sipm_plot"].Y) != 1 {
		t.Errorf("plot missing from snapshot")
	}
	names := board.Names()
	if len(names) != 2 || names[0] != "buffer_events" || names[1] != "sipm_plot" {
		t.Errorf("unexpected names %v", names)
	}
}

func TestNameString(t *testing.T) {
	if AcquisitionState.String() != "acquisition_state" {
		t.Errorf("unexpected name %q", AcquisitionState.String())
	}
	if Name(42).String() != "unknown" {
		t.Errorf("out of range name not reported as unknown")
	}
}
