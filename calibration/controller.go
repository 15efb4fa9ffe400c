package calibration

import (
	"context"
	"fmt"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/rdk/logging"
)

type State int

const (
	StateIdle State = iota
	StateArmed
	StateSolving
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateSolving:
		return "solving"
	default:
		return fmt.Sprintf("unknown state %d", int(s))
	}
}

type ControllerConfig struct {
	Geometry BoardGeometry
	Solver   SolverConfig

	// ReuseIntrinsics seeds each solve with the camera matrix of the previous successful one.
	ReuseIntrinsics bool
	// Seed, if set, is the initial guess used when there is no previous result to reuse.
	Seed *mat.Dense
}

type solveOutcome struct {
	result *Result
	err    error
}

// Controller gates detection, capture and solving on explicit commands.
// It is driven from a single goroutine: callers serialize Update and the commands.
type Controller struct {
	detector    Detector
	accumulator *Accumulator
	solver      *Solver
	logger      logging.Logger

	reuseIntrinsics bool
	seed            *mat.Dense

	state     State
	cloud     PointCloudFrame
	detection CornerDetection
	corners   []r3.Vector
	captured  bool

	latest  *Result
	lastErr error

	pending     chan solveOutcome
	cancelSolve context.CancelFunc
}

func NewController(cfg ControllerConfig, detector Detector, logger logging.Logger) (*Controller, error) {
	if detector == nil {
		return nil, fmt.Errorf("need a detector")
	}
	acc, err := NewAccumulator(cfg.Geometry, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Seed != nil {
		r, c := cfg.Seed.Dims()
		if r != 3 || c != 3 {
			return nil, fmt.Errorf("seed matrix must be 3x3, got %dx%d", r, c)
		}
	}
	return &Controller{
		detector:        detector,
		accumulator:     acc,
		solver:          NewSolver(cfg.Solver, logger),
		logger:          logger,
		reuseIntrinsics: cfg.ReuseIntrinsics,
		seed:            cfg.Seed,
	}, nil
}

func (c *Controller) Geometry() BoardGeometry {
	return c.accumulator.Geometry()
}

func (c *Controller) State() State {
	return c.state
}

// Arm starts per frame detection. It does nothing while a solve is running.
func (c *Controller) Arm() {
	if c.state == StateIdle {
		c.state = StateArmed
	}
}

// Disarm stops detection and abandons a running background solve. The session is kept.
func (c *Controller) Disarm() {
	if c.cancelSolve != nil {
		c.cancelSolve()
		c.cancelSolve = nil
	}
	c.pending = nil
	c.state = StateIdle
	c.clearFrame()
}

// Update processes one tick of sensor data. Nothing happens unless the controller is armed
// and newData reports a frame that has not been seen before.
func (c *Controller) Update(frame Frame, newData bool) {
	c.Poll()

	if c.state != StateArmed || !newData {
		return
	}

	c.clearFrame()
	if frame.Color == nil {
		return
	}
	if err := frame.Cloud.Validate(); err != nil {
		c.lastErr = err
		c.logger.Debugf("skipping frame: %v", err)
		return
	}

	detection, err := c.detector.Detect(frame.Color, c.Geometry())
	if err != nil {
		c.lastErr = err
		c.logger.Debugf("detection failed: %v", err)
		return
	}

	c.cloud = frame.Cloud
	c.detection = detection
	if detection.Complete(c.Geometry()) {
		c.corners = ProjectDetection(detection, frame.Cloud)
	}
}

func (c *Controller) clearFrame() {
	c.cloud = PointCloudFrame{}
	c.detection = nil
	c.corners = nil
	c.captured = false
}

// Capture adds the current frame's board to the session. It is ignored unless armed with a
// full board detection that has not already been captured, and reports whether it captured.
func (c *Controller) Capture() bool {
	if c.state != StateArmed || c.captured || !c.detection.Complete(c.Geometry()) {
		return false
	}
	if _, err := c.accumulator.TryCapture(c.detection, c.cloud); err != nil {
		c.lastErr = err
		c.logger.Warnf("capture failed: %v", err)
		return false
	}
	c.captured = true
	c.logger.Infof("captured view %d", c.accumulator.SessionSize())
	return true
}

func (c *Controller) canSolve() bool {
	return c.state == StateArmed && c.accumulator.SessionSize() > 0
}

// RunSolve solves the session synchronously. When the command is ignored (not armed or an
// empty session) it returns nil, nil. The session is cleared only on success.
func (c *Controller) RunSolve(ctx context.Context) (*Result, error) {
	if !c.canSolve() {
		return nil, nil
	}

	c.state = StateSolving
	res, err := c.solver.Solve(ctx, c.accumulator.Session(), c.Geometry(), c.seedMatrix())
	c.finishSolve(res, err)
	return res, err
}

// StartSolve runs the solve in the background on a snapshot of the session. The controller
// stays in StateSolving, blocking captures, until Poll or Update collects the outcome.
// It reports whether a solve was started.
func (c *Controller) StartSolve(ctx context.Context) bool {
	if !c.canSolve() {
		return false
	}

	c.state = StateSolving
	session := c.accumulator.Session()
	geometry := c.Geometry()
	seed := c.seedMatrix()

	ctx, cancel := context.WithCancel(ctx)
	pending := make(chan solveOutcome, 1)
	c.pending = pending
	c.cancelSolve = cancel

	go func() {
		defer cancel()
		res, err := c.solver.Solve(ctx, session, geometry, seed)
		pending <- solveOutcome{res, err}
	}()

	return true
}

// Poll collects a finished background solve. It reports false while the solve is still
// running or when none was started.
func (c *Controller) Poll() (*Result, bool, error) {
	if c.pending == nil {
		return nil, false, nil
	}
	select {
	case out := <-c.pending:
		c.pending = nil
		c.cancelSolve = nil
		c.finishSolve(out.result, out.err)
		return out.result, true, out.err
	default:
		return nil, false, nil
	}
}

func (c *Controller) finishSolve(res *Result, err error) {
	c.state = StateArmed
	if err != nil {
		c.lastErr = err
		c.logger.Warnf("solve failed with %d views: %v", c.accumulator.SessionSize(), err)
		return
	}
	c.latest = res
	c.lastErr = nil
	c.accumulator.Reset()
}

func (c *Controller) seedMatrix() *mat.Dense {
	if c.reuseIntrinsics && c.latest != nil {
		return c.latest.CameraMatrix()
	}
	if c.seed != nil {
		return mat.DenseCopyOf(c.seed)
	}
	return nil
}

// CurrentDetection is the detection from the latest processed frame, complete or not.
func (c *Controller) CurrentDetection() CornerDetection {
	return append(CornerDetection(nil), c.detection...)
}

// CurrentCorners are the 3D positions of the corners found in the latest processed frame,
// empty when that frame had no full board.
func (c *Controller) CurrentCorners() []r3.Vector {
	return append([]r3.Vector(nil), c.corners...)
}

func (c *Controller) LatestResult() *Result {
	return c.latest
}

// LastError is the most recent capture, detection or solve failure, reset by a successful solve.
func (c *Controller) LastError() error {
	return c.lastErr
}

func (c *Controller) SessionSize() int {
	return c.accumulator.SessionSize()
}

func (c *Controller) Session() Session {
	return c.accumulator.Session()
}

// ClearSession drops all observations. It is ignored while solving.
func (c *Controller) ClearSession() {
	if c.state == StateSolving {
		return
	}
	c.accumulator.Reset()
}

// Restore appends exported observations to the session. It is refused while solving.
func (c *Controller) Restore(observations []Observation) error {
	if c.state == StateSolving {
		return fmt.Errorf("cannot restore observations while solving")
	}
	return c.accumulator.Restore(observations)
}
