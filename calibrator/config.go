package calibrator

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"

	"go.viam.com/rdk/rimage/transform"

	"github.com/erh/projcal/calibration"
)

const defaultFrameInterval = 100 * time.Millisecond

type Config struct {
	Camera      string `json:"camera"`
	ColorSource string `json:"color_source,omitempty"`
	DepthSource string `json:"depth_source,omitempty"`

	Rows int `json:"rows"`
	Cols int `json:"cols"`

	MinViews          int     `json:"min_views,omitempty"`
	MaxIterations     int     `json:"max_iterations,omitempty"`
	MaxStallRMS       float64 `json:"max_stall_rms,omitempty"`
	FixPrincipalPoint bool    `json:"fix_principal_point,omitempty"`
	ZeroTangentDist   bool    `json:"zero_tangent_dist,omitempty"`
	EstimateK3        bool    `json:"estimate_k3,omitempty"`
	ReuseIntrinsics   bool    `json:"reuse_intrinsics,omitempty"`
	BackgroundSolve   bool    `json:"background_solve,omitempty"`

	FrameIntervalMS int     `json:"frame_interval_ms,omitempty"`
	StartArmed      bool    `json:"start_armed,omitempty"`
	MinBrightness   float64 `json:"min_brightness,omitempty"`

	// written by the save command, used to seed the next solve
	Intrinsics *transform.PinholeCameraIntrinsics `json:"intrinsics,omitempty"`
	Distortion *transform.BrownConrady            `json:"distortion,omitempty"`

	HistoryPath string `json:"history_path,omitempty"`
	MQTTBroker  string `json:"mqtt_broker,omitempty"`
	MQTTTopic   string `json:"mqtt_topic,omitempty"`
}

func (cfg *Config) Validate(path string) ([]string, []string, error) {
	if cfg.Camera == "" {
		return nil, nil, fmt.Errorf("need a camera")
	}
	if err := cfg.geometry().Validate(); err != nil {
		return nil, nil, fmt.Errorf("need rows and cols: %w", err)
	}
	if cfg.MinViews < 0 {
		return nil, nil, fmt.Errorf("min_views cannot be negative")
	}
	if cfg.MQTTTopic != "" && cfg.MQTTBroker == "" {
		return nil, nil, fmt.Errorf("mqtt_topic needs mqtt_broker")
	}
	if cfg.Intrinsics != nil && (cfg.Intrinsics.Fx <= 0 || cfg.Intrinsics.Fy <= 0) {
		return nil, nil, fmt.Errorf("intrinsics need positive fx and fy")
	}
	return []string{cfg.Camera}, nil, nil
}

func (cfg *Config) geometry() calibration.BoardGeometry {
	return calibration.BoardGeometry{Rows: cfg.Rows, Cols: cfg.Cols}
}

func (cfg *Config) frameInterval() time.Duration {
	if cfg.FrameIntervalMS <= 0 {
		return defaultFrameInterval
	}
	return time.Duration(cfg.FrameIntervalMS) * time.Millisecond
}

func (cfg *Config) seed() *mat.Dense {
	if cfg.Intrinsics == nil {
		return nil
	}
	return cfg.Intrinsics.GetCameraMatrix()
}

func (cfg *Config) controllerConfig() calibration.ControllerConfig {
	return calibration.ControllerConfig{
		Geometry: cfg.geometry(),
		Solver: calibration.SolverConfig{
			MinViews:          cfg.MinViews,
			MaxIterations:     cfg.MaxIterations,
			MaxStallRMS:       cfg.MaxStallRMS,
			FixPrincipalPoint: cfg.FixPrincipalPoint,
			ZeroTangentDist:   cfg.ZeroTangentDist,
			EstimateK3:        cfg.EstimateK3,
		},
		ReuseIntrinsics: cfg.ReuseIntrinsics,
		Seed:            cfg.seed(),
	}
}
