package results

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/recyclens/detection-service/models"
)

func TestNormalize(t *testing.T) {
	c := qt.New(t)

	got := Normalize(models.Box{X1: 10, Y1: 20, X2: 110, Y2: 220}, 100, 200)
	c.Assert(got, qt.DeepEquals, models.NormalizedBox{X: 0.1, Y: 0.1, Width: 1.0, Height: 1.0})
}

func TestNormalize_NotClamped(t *testing.T) {
	c := qt.New(t)

	got := Normalize(models.Box{X1: 50, Y1: 0, X2: 250, Y2: 100}, 200, 100)
	c.Assert(got.X+got.Width, qt.Equals, 1.25)
}

func TestFromRaw(t *testing.T) {
	c := qt.New(t)

	raw := []models.RawDetection{
		{ClassID: 2, Label: "glass", Confidence: 0.5, Box: models.Box{X1: 0, Y1: 0, X2: 320, Y2: 240}},
		{ClassID: 0, Label: "plastic", Confidence: 0.75, Box: models.Box{X1: 160, Y1: 120, X2: 640, Y2: 480}},
	}

	got := FromRaw(raw, 640, 480)
	c.Assert(got, qt.HasLen, 2)
	c.Check(got[0].Label, qt.Equals, "glass")
	c.Check(got[0].Confidence, qt.Equals, 0.5)
	c.Check(*got[0].BBox, qt.DeepEquals, models.NormalizedBox{X: 0, Y: 0, Width: 0.5, Height: 0.5})
	c.Check(*got[1].BBox, qt.DeepEquals, models.NormalizedBox{X: 0.25, Y: 0.25, Width: 0.75, Height: 0.75})

	for _, d := range got {
		c.Check(d.BBox.X >= 0 && d.BBox.Y >= 0, qt.IsTrue)
		c.Check(d.BBox.X+d.BBox.Width <= 1+1e-9, qt.IsTrue)
		c.Check(d.BBox.Y+d.BBox.Height <= 1+1e-9, qt.IsTrue)
	}
}

func TestFromRaw_Empty(t *testing.T) {
	c := qt.New(t)

	got := FromRaw(nil, 10, 10)
	c.Assert(got, qt.IsNotNil)
	c.Assert(got, qt.HasLen, 0)
}

func TestRank(t *testing.T) {
	c := qt.New(t)

	in := []models.Detection{
		{Label: "a", Confidence: 0.6},
		{Label: "b", Confidence: 0.9},
		{Label: "c", Confidence: 0.6},
		{Label: "d", Confidence: 0.7},
		{Label: "e", Confidence: 0.6},
	}

	got := Rank(in)

	labels := make([]string, len(got))
	for i, d := range got {
		labels[i] = d.Label
	}
	c.Assert(labels, qt.DeepEquals, []string{"b", "d", "a", "c", "e"})
	c.Assert(in[0].Label, qt.Equals, "a")
}

func TestRank_Empty(t *testing.T) {
	c := qt.New(t)

	got := Rank([]models.Detection{})
	c.Assert(got, qt.IsNotNil)
	c.Assert(got, qt.HasLen, 0)
}
