package calibration

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/rimage/transform"
)

const (
	defaultMinViews      = 3
	defaultMaxIterations = 100
	defaultTolerance     = 1e-10
	defaultMaxStallRMS   = 1.0
)

type SolverConfig struct {
	// MinViews is the smallest session that will be solved.
	MinViews int `json:"min_views,omitempty"`
	// MaxIterations bounds the optimizer, running out is reported as divergence.
	MaxIterations int `json:"max_iterations,omitempty"`
	// Tolerance is the relative cost, step and gradient threshold for convergence.
	Tolerance float64 `json:"tolerance,omitempty"`
	// MaxStallRMS is the largest RMS, in grid units, accepted when no step reduces the cost.
	MaxStallRMS float64 `json:"max_stall_rms,omitempty"`

	FixPrincipalPoint bool `json:"fix_principal_point,omitempty"`
	ZeroTangentDist   bool `json:"zero_tangent_dist,omitempty"`
	EstimateK3        bool `json:"estimate_k3,omitempty"`
}

func (c SolverConfig) withDefaults() SolverConfig {
	if c.MinViews < 1 {
		c.MinViews = defaultMinViews
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = defaultMaxIterations
	}
	if c.Tolerance <= 0 {
		c.Tolerance = defaultTolerance
	}
	if c.MaxStallRMS <= 0 {
		c.MaxStallRMS = defaultMaxStallRMS
	}
	return c
}

// Solver fits a pinhole camera with Brown-Conrady distortion to a session of observations,
// treating the grid coordinates as the image and the object points as the scene.
type Solver struct {
	cfg    SolverConfig
	logger logging.Logger
}

func NewSolver(cfg SolverConfig, logger logging.Logger) *Solver {
	return &Solver{cfg: cfg.withDefaults(), logger: logger}
}

func (s *Solver) Config() SolverConfig {
	return s.cfg
}

// Solve runs the calibration. initialGuess, if not nil, is a 3x3 intrinsic matrix used to
// seed the optimizer instead of the closed form estimate. The session is never modified.
func (s *Solver) Solve(ctx context.Context, session Session, geometry BoardGeometry, initialGuess *mat.Dense) (*Result, error) {
	if err := geometry.Validate(); err != nil {
		return nil, err
	}
	if len(session) < s.cfg.MinViews {
		return nil, fmt.Errorf("%w: have %d views, need %d", ErrInsufficientObservations, len(session), s.cfg.MinViews)
	}
	for idx, obs := range session {
		if err := obs.Validate(geometry); err != nil {
			return nil, fmt.Errorf("view %d: %w", idx, err)
		}
	}

	start := time.Now()

	x, err := s.initialParams(session, geometry, initialGuess)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSolverDivergence, err)
	}

	free := s.freeParams(len(session))
	iterations, cost, err := s.refine(ctx, x, free, session)
	if err != nil {
		return nil, err
	}

	res := resultFromParams(x, session, geometry)
	res.RMS = math.Sqrt(cost / float64(countPoints(session)))
	res.Iterations = iterations
	res.SolvedAt = time.Now()

	if !isFinite(res.RMS) || res.Intrinsics.Fx <= 0 || res.Intrinsics.Fy <= 0 {
		return nil, fmt.Errorf("%w: fx: %v fy: %v rms: %v", ErrSolverDivergence, res.Intrinsics.Fx, res.Intrinsics.Fy, res.RMS)
	}

	s.logger.Infof("calibration solved views: %d iterations: %d rms: %0.4f fx: %0.3f fy: %0.3f cx: %0.3f cy: %0.3f in %v",
		len(session), iterations, res.RMS, res.Intrinsics.Fx, res.Intrinsics.Fy, res.Intrinsics.Ppx, res.Intrinsics.Ppy, time.Since(start))

	return res, nil
}

func (s *Solver) initialParams(session Session, geometry BoardGeometry, initialGuess *mat.Dense) ([]float64, error) {
	x := make([]float64, numIntrinsicParams+paramsPerView*len(session))

	if initialGuess != nil {
		r, c := initialGuess.Dims()
		if r != 3 || c != 3 {
			return nil, fmt.Errorf("initial guess must be 3x3, got %dx%d", r, c)
		}
		x[paramFx] = initialGuess.At(0, 0)
		x[paramFy] = initialGuess.At(1, 1)
		x[paramCx] = initialGuess.At(0, 2)
		x[paramCy] = initialGuess.At(1, 2)
		if x[paramFx] <= 0 || x[paramFy] <= 0 {
			return nil, fmt.Errorf("initial guess has non positive focal length")
		}
	} else {
		pp := geometry.Center()
		homographies := make([]*mat.Dense, len(session))
		for idx, obs := range session {
			_, h, err := viewHomography(obs)
			if err != nil {
				return nil, fmt.Errorf("view %d: %w", idx, err)
			}
			homographies[idx] = h
		}
		fx, fy, err := initFocalLengths(homographies, pp)
		if err != nil {
			return nil, err
		}
		x[paramFx] = fx
		x[paramFy] = fy
		x[paramCx] = pp.X
		x[paramCy] = pp.Y
	}

	for idx, obs := range session {
		rot, t, err := initialPose(obs, x[paramFx], x[paramFy], x[paramCx], x[paramCy])
		if err != nil {
			return nil, fmt.Errorf("view %d: %w", idx, err)
		}
		setViewParams(x, idx, rot.vector(), t)
	}

	s.logger.Debugf("initial intrinsics fx: %0.3f fy: %0.3f cx: %0.3f cy: %0.3f", x[paramFx], x[paramFy], x[paramCx], x[paramCy])
	return x, nil
}

func (s *Solver) freeParams(views int) []int {
	free := []int{paramFx, paramFy}
	if !s.cfg.FixPrincipalPoint {
		free = append(free, paramCx, paramCy)
	}
	free = append(free, paramK1, paramK2)
	if !s.cfg.ZeroTangentDist {
		free = append(free, paramP1, paramP2)
	}
	if s.cfg.EstimateK3 {
		free = append(free, paramK3)
	}
	for i := numIntrinsicParams; i < numIntrinsicParams+views*paramsPerView; i++ {
		free = append(free, i)
	}
	return free
}

// refine runs Levenberg-Marquardt on the free entries of x in place.
// It returns the number of iterations and the final sum of squared residuals.
func (s *Solver) refine(ctx context.Context, x []float64, free []int, session Session) (int, float64, error) {
	m := 2 * countPoints(session)
	n := len(free)

	full := make([]float64, len(x))
	evaluate := func(dst, y []float64) {
		copy(full, x)
		for i, idx := range free {
			full[idx] = y[i]
		}
		reprojectionResiduals(dst, full, session)
	}

	y := make([]float64, n)
	for i, idx := range free {
		y[i] = x[idx]
	}

	r := make([]float64, m)
	evaluate(r, y)
	cost := floats.Dot(r, r)
	if !isFinite(cost) {
		return 0, 0, fmt.Errorf("%w: initial estimate is not finite", ErrSolverDivergence)
	}

	jac := mat.NewDense(m, n, nil)
	settings := &fd.JacobianSettings{Formula: fd.Central, OriginValue: r}

	lambda := 1e-3
	tol := s.cfg.Tolerance
	candidate := make([]float64, n)
	rNew := make([]float64, m)

	for iter := 1; iter <= s.cfg.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return iter, cost, err
		}

		settings.OriginValue = r
		fd.Jacobian(jac, evaluate, y, settings)

		var jtj mat.SymDense
		jtj.SymOuterK(1, jac.T())
		var grad mat.VecDense
		grad.MulVec(jac.T(), mat.NewVecDense(m, r))

		if mat.Norm(&grad, math.Inf(1)) < tol*math.Max(1, cost) || cost < 1e-24 {
			return iter, cost, nil
		}

		improved := false
		for !improved {
			if lambda > 1e16 {
				return s.stalled(iter, cost, m/2)
			}

			a := mat.NewSymDense(n, nil)
			a.CopySym(&jtj)
			for i := 0; i < n; i++ {
				a.SetSym(i, i, jtj.At(i, i)+lambda*math.Max(jtj.At(i, i), 1e-12))
			}

			var chol mat.Cholesky
			if !chol.Factorize(a) {
				lambda *= 10
				continue
			}
			var step mat.VecDense
			if err := chol.SolveVecTo(&step, &grad); err != nil {
				lambda *= 10
				continue
			}
			step.ScaleVec(-1, &step)

			if mat.Norm(&step, 2) < tol*(floats.Norm(y, 2)+tol) {
				return iter, cost, nil
			}

			for i := range candidate {
				candidate[i] = y[i] + step.AtVec(i)
			}
			evaluate(rNew, candidate)
			newCost := floats.Dot(rNew, rNew)

			if newCost < cost {
				improved = true
				decrease := cost - newCost
				copy(y, candidate)
				copy(r, rNew)
				cost = newCost
				lambda = math.Max(lambda/10, 1e-12)

				if decrease < tol*cost {
					writeFree(x, free, y)
					return iter, cost, nil
				}
			} else {
				lambda *= 10
			}
		}

		writeFree(x, free, y)
		s.logger.Debugf("iteration %d cost: %v lambda: %v", iter, cost, lambda)
	}

	return s.cfg.MaxIterations, cost, fmt.Errorf("%w: no convergence after %d iterations, cost %v", ErrSolverDivergence, s.cfg.MaxIterations, cost)
}

// stalled ends a search where no step direction reduces the cost any further.
// It is only a solution if the fit is already good.
func (s *Solver) stalled(iter int, cost float64, points int) (int, float64, error) {
	rms := math.Sqrt(cost / float64(points))
	if !isFinite(rms) || rms > s.cfg.MaxStallRMS {
		return iter, cost, fmt.Errorf("%w: stalled after %d iterations with rms %0.4f", ErrSolverDivergence, iter, rms)
	}
	return iter, cost, nil
}

func writeFree(x []float64, free []int, y []float64) {
	for i, idx := range free {
		x[idx] = y[i]
	}
}

func resultFromParams(x []float64, session Session, geometry BoardGeometry) *Result {
	res := &Result{
		Geometry: geometry,
		Intrinsics: transform.PinholeCameraIntrinsics{
			Width:  geometry.Cols,
			Height: geometry.Rows,
			Fx:     x[paramFx],
			Fy:     x[paramFy],
			Ppx:    x[paramCx],
			Ppy:    x[paramCy],
		},
		Distortion: modelFromParams(x).distortion,
		Views:      len(session),
	}
	for v := range session {
		rvec, tvec := viewParams(x, v)
		res.Extrinsics = append(res.Extrinsics, Extrinsic{Rotation: rvec, Translation: tvec})
	}
	return res
}
