package calibration

import (
	"fmt"
	"image"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// BoardGeometry is the number of inner corners of the chessboard along each axis.
type BoardGeometry struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

func (g BoardGeometry) Validate() error {
	if g.Rows <= 0 || g.Cols <= 0 {
		return fmt.Errorf("invalid board geometry %dx%d", g.Rows, g.Cols)
	}
	return nil
}

func (g BoardGeometry) Corners() int {
	return g.Rows * g.Cols
}

// GridCoord returns the canonical label of the i-th detected corner.
func (g BoardGeometry) GridCoord(i int) GridCoord {
	return GridCoord{X: i % g.Cols, Y: i / g.Cols}
}

// Center is the middle of the grid in grid units.
func (g BoardGeometry) Center() r2.Point {
	return r2.Point{X: float64(g.Cols-1) / 2, Y: float64(g.Rows-1) / 2}
}

type GridCoord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (gc GridCoord) Point() r2.Point {
	return r2.Point{X: float64(gc.X), Y: float64(gc.Y)}
}

// PointCloudFrame is a raster ordered array of sensor space points in millimeters,
// one per color pixel.
type PointCloudFrame struct {
	Width  int
	Height int
	Points []r3.Vector
}

func (pc PointCloudFrame) Validate() error {
	if pc.Width <= 0 || pc.Height <= 0 {
		return fmt.Errorf("invalid point cloud frame size %dx%d", pc.Width, pc.Height)
	}
	if len(pc.Points) != pc.Width*pc.Height {
		return fmt.Errorf("point cloud frame has %d points, expected %d", len(pc.Points), pc.Width*pc.Height)
	}
	return nil
}

// Frame is one tick of sensor data: a color image and the point array aligned with it.
type Frame struct {
	Color image.Image
	Cloud PointCloudFrame
}

// CornerDetection is the ordered list of subpixel corner locations found in a color frame.
// Any length other than the board's corner count means the board was not found.
type CornerDetection []r2.Point

func (d CornerDetection) Complete(g BoardGeometry) bool {
	return g.Corners() > 0 && len(d) == g.Corners()
}

type Observation struct {
	ObjectPoints []r3.Vector `json:"object_points"`
	GridCoords   []GridCoord `json:"grid_coords"`
}

func (o Observation) Validate(g BoardGeometry) error {
	if len(o.ObjectPoints) != g.Corners() || len(o.GridCoords) != g.Corners() {
		return fmt.Errorf("%w: observation has %d points and %d grid coords, board has %d corners",
			ErrIncompleteBoard, len(o.ObjectPoints), len(o.GridCoords), g.Corners())
	}
	for i, gc := range o.GridCoords {
		if gc != g.GridCoord(i) {
			return fmt.Errorf("corner %d is labeled %v, expected %v", i, gc, g.GridCoord(i))
		}
		p := o.ObjectPoints[i]
		if !isFinite(p.X) || !isFinite(p.Y) || !isFinite(p.Z) {
			return fmt.Errorf("corner %d has a non finite point %v", i, p)
		}
	}
	return nil
}

func (o Observation) copy() Observation {
	return Observation{
		ObjectPoints: append([]r3.Vector(nil), o.ObjectPoints...),
		GridCoords:   append([]GridCoord(nil), o.GridCoords...),
	}
}

// Session is the ordered list of observations waiting for a solve.
type Session []Observation
