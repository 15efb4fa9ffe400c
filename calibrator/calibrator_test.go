package calibrator

import (
	"context"
	"image"
	"image/color"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/generic"
	"go.viam.com/rdk/utils"
	"go.viam.com/test"

	"github.com/erh/projcal/calibration"
)

var testGeometry = calibration.BoardGeometry{Rows: 6, Cols: 9}

type fakeSource struct {
	lock  sync.Mutex
	frame calibration.Frame
	at    time.Time
	calls int
}

func (fs *fakeSource) set(frame calibration.Frame) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	fs.frame = frame
	if fs.at.IsZero() {
		fs.at = time.Now()
	}
	fs.at = fs.at.Add(time.Second)
}

func (fs *fakeSource) NextFrame(ctx context.Context) (calibration.Frame, time.Time, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	fs.calls++
	return fs.frame, fs.at, nil
}

// gridDetector reports corner i on pixel i of a cols x rows image, unless the image is dark.
var gridDetector = calibration.DetectorFunc(func(img image.Image, g calibration.BoardGeometry) (calibration.CornerDetection, error) {
	if color.GrayModel.Convert(img.At(0, 0)).(color.Gray).Y == 0 {
		return calibration.CornerDetection{}, nil
	}
	det := calibration.CornerDetection{}
	for i := 0; i < g.Corners(); i++ {
		gc := g.GridCoord(i)
		det = append(det, r2.Point{X: float64(gc.X), Y: float64(gc.Y)})
	}
	return det, nil
})

func tilt(ax, ay float64, p r3.Vector) r3.Vector {
	// rotate about x then y
	y := p.Y*math.Cos(ax) - p.Z*math.Sin(ax)
	z := p.Y*math.Sin(ax) + p.Z*math.Cos(ax)
	p = r3.Vector{X: p.X, Y: y, Z: z}
	x := p.X*math.Cos(ay) + p.Z*math.Sin(ay)
	z = -p.X*math.Sin(ay) + p.Z*math.Cos(ay)
	return r3.Vector{X: x, Y: p.Y, Z: z}
}

// boardFrame builds a frame whose point at grid pixel i is the board point that a camera with
// fx=12 fy=11 cx=4 cy=2.5 sees at grid coordinate i.
func boardFrame(ax, ay float64, brightness uint8) calibration.Frame {
	normal := tilt(ax, ay, r3.Vector{Z: 1})
	origin := r3.Vector{X: 10, Y: -5, Z: 1000}

	cloud := calibration.PointCloudFrame{Width: testGeometry.Cols, Height: testGeometry.Rows}
	for i := 0; i < testGeometry.Corners(); i++ {
		gc := testGeometry.GridCoord(i)
		ray := r3.Vector{X: (float64(gc.X) - 4) / 12, Y: (float64(gc.Y) - 2.5) / 11, Z: 1}
		cloud.Points = append(cloud.Points, ray.Mul(normal.Dot(origin)/normal.Dot(ray)))
	}

	img := image.NewGray(image.Rect(0, 0, testGeometry.Cols, testGeometry.Rows))
	for idx := range img.Pix {
		img.Pix[idx] = brightness
	}
	return calibration.Frame{Color: img, Cloud: cloud}
}

var testTilts = [][2]float64{{0.3, 0.05}, {-0.1, 0.35}, {0.25, -0.3}, {-0.3, -0.2}}

type fakePublisher struct {
	names  []string
	closed bool
}

func (fp *fakePublisher) Publish(name string, res *calibration.Result) error {
	fp.names = append(fp.names, name)
	return nil
}

func (fp *fakePublisher) Close() {
	fp.closed = true
}

func newTestCalibrator(t *testing.T, cfg *Config) (*Calibrator, *fakeSource) {
	t.Helper()
	fs := &fakeSource{}
	c, err := newWithSource(resource.NewName(generic.API, "cal"), cfg, fs, gridDetector, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return c, fs
}

func doCommand(t *testing.T, c *Calibrator, command string) map[string]interface{} {
	t.Helper()
	res, err := c.DoCommand(context.Background(), map[string]interface{}{"command": command})
	test.That(t, err, test.ShouldBeNil)
	return res
}

func TestConfigValidate(t *testing.T) {
	cfg := &Config{Camera: "kinect", Rows: 6, Cols: 9}
	deps, _, err := cfg.Validate("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, deps, test.ShouldResemble, []string{"kinect"})

	_, _, err = (&Config{Rows: 6, Cols: 9}).Validate("")
	test.That(t, err, test.ShouldNotBeNil)

	_, _, err = (&Config{Camera: "kinect", Rows: 6}).Validate("")
	test.That(t, err, test.ShouldNotBeNil)

	_, _, err = (&Config{Camera: "kinect", Rows: 6, Cols: 9, MQTTTopic: "x"}).Validate("")
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, cfg.frameInterval(), test.ShouldEqual, defaultFrameInterval)
	test.That(t, cfg.seed(), test.ShouldBeNil)
}

func TestCalibratorFlow(t *testing.T) {
	ctx := context.Background()
	cfg := &Config{Camera: "kinect", Rows: 6, Cols: 9, HistoryPath: filepath.Join(t.TempDir(), "h.db")}

	fs := &fakeSource{}
	c, err := New(ctx, resource.NewName(generic.API, "cal"), cfg, fs, gridDetector, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	// stop the frame loop, the test drives ticks itself
	c.cancel()
	c.workers.Wait()
	defer c.Close(ctx)

	var saved utils.AttributeMap
	c.saveAttributes = func(ctx context.Context, attrs utils.AttributeMap) error {
		saved = attrs
		return nil
	}
	pub := &fakePublisher{}
	c.publisher = pub

	test.That(t, doCommand(t, c, "status")["state"], test.ShouldEqual, "idle")

	fs.set(boardFrame(0.3, 0.05, 128))
	c.tick(ctx)
	test.That(t, fs.calls, test.ShouldEqual, 0)
	test.That(t, doCommand(t, c, "capture")["captured"], test.ShouldBeFalse)

	test.That(t, doCommand(t, c, "arm")["state"], test.ShouldEqual, "armed")

	// nothing captured yet
	_, err = c.DoCommand(ctx, map[string]interface{}{"command": "solve"})
	test.That(t, err, test.ShouldBeNil)

	for _, tt := range testTilts {
		fs.set(boardFrame(tt[0], tt[1], 128))
		c.tick(ctx)
		status := doCommand(t, c, "status")
		test.That(t, status["board_found"], test.ShouldBeTrue)
		test.That(t, status["corners"], test.ShouldEqual, 54.0)
		test.That(t, doCommand(t, c, "capture")["captured"], test.ShouldBeTrue)
	}

	// same frame again, nothing new to capture
	c.tick(ctx)
	res := doCommand(t, c, "capture")
	test.That(t, res["captured"], test.ShouldBeFalse)
	test.That(t, res["session_size"], test.ShouldEqual, 4.0)

	solved := doCommand(t, c, "solve")
	result := solved["result"].(map[string]interface{})
	intrinsics := result["intrinsics"].(map[string]interface{})
	test.That(t, intrinsics["fx"], test.ShouldAlmostEqual, 12, 1e-3)
	test.That(t, intrinsics["fy"], test.ShouldAlmostEqual, 11, 1e-3)
	test.That(t, solved["distortion_coefficients"], test.ShouldHaveLength, 5)
	test.That(t, pub.names, test.ShouldResemble, []string{"cal"})

	status := doCommand(t, c, "status")
	test.That(t, status["session_size"], test.ShouldEqual, 0.0)
	test.That(t, status["state"], test.ShouldEqual, "armed")
	test.That(t, status["result"], test.ShouldNotBeNil)

	hist, err := c.DoCommand(ctx, map[string]interface{}{"command": "history", "limit": 5.0})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, hist["entries"], test.ShouldHaveLength, 1)

	saveRes := doCommand(t, c, "save")
	test.That(t, saveRes["saved"], test.ShouldBeTrue)
	test.That(t, saved["camera"], test.ShouldEqual, "kinect")
	test.That(t, saved["intrinsics"].(map[string]interface{})["fx"], test.ShouldAlmostEqual, 12, 1e-3)

	// empty session, ignored
	test.That(t, doCommand(t, c, "solve")["ignored"], test.ShouldBeTrue)

	_, err = c.DoCommand(ctx, map[string]interface{}{"command": "dance"})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = c.DoCommand(ctx, map[string]interface{}{"cmd": "arm"})
	test.That(t, err, test.ShouldNotBeNil)

	// a result is published once, however many ticks see it
	c.tick(ctx)
	test.That(t, pub.names, test.ShouldHaveLength, 1)
}

func TestCalibratorNewFailure(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	badPath := filepath.Join(t.TempDir(), "missing", "h.db")

	cfg := &Config{Camera: "kinect", Rows: 6, Cols: 9, HistoryPath: badPath}
	_, err := New(ctx, resource.NewName(generic.API, "cal"), cfg, &fakeSource{}, gridDetector, logger)
	test.That(t, err, test.ShouldNotBeNil)

	c, _ := newTestCalibrator(t, cfg)
	test.That(t, c.openSinks(), test.ShouldNotBeNil)
	test.That(t, c.Close(ctx), test.ShouldBeNil)
	test.That(t, c.ctx.Err(), test.ShouldNotBeNil)

	cfg = &Config{Camera: "kinect", Rows: 6, Cols: 9, MQTTBroker: "tcp://127.0.0.1:1"}
	c, _ = newTestCalibrator(t, cfg)
	test.That(t, c.openSinks(), test.ShouldNotBeNil)
	test.That(t, c.publisher, test.ShouldBeNil)
	test.That(t, c.Close(ctx), test.ShouldBeNil)
	test.That(t, c.ctx.Err(), test.ShouldNotBeNil)
}

func TestCalibratorExportImport(t *testing.T) {
	ctx := context.Background()
	c, fs := newTestCalibrator(t, &Config{Camera: "kinect", Rows: 6, Cols: 9, StartArmed: true})
	defer c.Close(ctx)

	for _, tt := range testTilts[:2] {
		fs.set(boardFrame(tt[0], tt[1], 128))
		c.tick(ctx)
		test.That(t, doCommand(t, c, "capture")["captured"], test.ShouldBeTrue)
	}

	export := doCommand(t, c, "export")
	test.That(t, export["observations"], test.ShouldHaveLength, 2)

	test.That(t, doCommand(t, c, "reset")["session_size"], test.ShouldEqual, 0.0)

	export["command"] = "import"
	res, err := c.DoCommand(ctx, export)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res["session_size"], test.ShouldEqual, 2.0)

	export["geometry"] = map[string]interface{}{"rows": 7, "cols": 9}
	_, err = c.DoCommand(ctx, export)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = c.DoCommand(ctx, map[string]interface{}{"command": "history"})
	test.That(t, err, test.ShouldNotBeNil)

	_, err = c.DoCommand(ctx, map[string]interface{}{"command": "save"})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCalibratorBrightnessGate(t *testing.T) {
	ctx := context.Background()
	c, fs := newTestCalibrator(t, &Config{Camera: "kinect", Rows: 6, Cols: 9, StartArmed: true, MinBrightness: 50})
	defer c.Close(ctx)

	fs.set(boardFrame(0.3, 0.05, 20))
	c.tick(ctx)
	status := doCommand(t, c, "status")
	test.That(t, status["brightness"], test.ShouldAlmostEqual, 20)
	test.That(t, status["board_found"], test.ShouldBeFalse)
	test.That(t, doCommand(t, c, "capture")["captured"], test.ShouldBeFalse)

	fs.set(boardFrame(0.3, 0.05, 200))
	c.tick(ctx)
	test.That(t, doCommand(t, c, "capture")["captured"], test.ShouldBeTrue)

	test.That(t, doCommand(t, c, "disarm")["state"], test.ShouldEqual, "idle")
	test.That(t, doCommand(t, c, "status")["session_size"], test.ShouldEqual, 1.0)
}

func TestCalibratorBackgroundSolve(t *testing.T) {
	ctx := context.Background()
	c, fs := newTestCalibrator(t, &Config{Camera: "kinect", Rows: 6, Cols: 9, StartArmed: true, BackgroundSolve: true, ReuseIntrinsics: true})
	defer c.Close(ctx)

	for _, tt := range testTilts {
		fs.set(boardFrame(tt[0], tt[1], 128))
		c.tick(ctx)
		test.That(t, doCommand(t, c, "capture")["captured"], test.ShouldBeTrue)
	}

	test.That(t, doCommand(t, c, "solve")["started"], test.ShouldBeTrue)

	deadline := time.Now().Add(time.Minute)
	for {
		c.tick(ctx)
		status := doCommand(t, c, "status")
		if status["result"] != nil {
			test.That(t, status["state"], test.ShouldEqual, "armed")
			test.That(t, status["session_size"], test.ShouldEqual, 0.0)
			break
		}
		test.That(t, time.Now().Before(deadline), test.ShouldBeTrue)
		time.Sleep(10 * time.Millisecond)
	}
}
