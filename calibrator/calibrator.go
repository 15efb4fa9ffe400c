package calibrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/generic"
	"go.viam.com/rdk/utils"

	"github.com/erh/projcal"
	"github.com/erh/projcal/calibration"
	"github.com/erh/projcal/chessboard"
	"github.com/erh/projcal/history"
	"github.com/erh/projcal/imgutils"
)

var Model = projcal.NamespaceFamily.WithModel("projector-calibrator")

func init() {
	resource.RegisterService(
		generic.API,
		Model,
		resource.Registration[resource.Resource, *Config]{
			Constructor: newCalibrator,
		})
}

// SessionExport is the format of the export and import commands.
type SessionExport struct {
	Geometry     calibration.BoardGeometry `json:"geometry"`
	Observations calibration.Session       `json:"observations"`
}

func newCalibrator(ctx context.Context, deps resource.Dependencies, config resource.Config, logger logging.Logger) (resource.Resource, error) {
	newConf, err := resource.NativeConfig[*Config](config)
	if err != nil {
		return nil, err
	}

	cam, err := camera.FromProvider(deps, newConf.Camera)
	if err != nil {
		return nil, err
	}

	return New(ctx, config.ResourceName(), newConf, NewCameraSource(cam, newConf.ColorSource, newConf.DepthSource), chessboard.NewDetector(logger), logger)
}

// New builds a calibrator reading from source and starts its frame loop.
func New(ctx context.Context, name resource.Name, cfg *Config, source FrameSource, detector calibration.Detector, logger logging.Logger) (*Calibrator, error) {
	c, err := newWithSource(name, cfg, source, detector, logger)
	if err != nil {
		return nil, err
	}

	if err := c.openSinks(); err != nil {
		c.Close(ctx)
		return nil, err
	}

	c.workers.Add(1)
	go func() {
		defer c.workers.Done()
		c.run()
	}()

	return c, nil
}

// openSinks connects the configured history store and result publisher.
func (c *Calibrator) openSinks() error {
	var err error
	if c.cfg.HistoryPath != "" {
		c.history, err = history.Open(c.cfg.HistoryPath, c.logger)
		if err != nil {
			return err
		}
	}

	if c.cfg.MQTTBroker != "" {
		topic := c.cfg.MQTTTopic
		if topic == "" {
			topic = "projcal/" + c.name.ShortName()
		}
		pub, err := newMQTTPublisher(c.cfg.MQTTBroker, topic, "projcal-"+c.name.ShortName(), c.logger)
		if err != nil {
			return err
		}
		c.publisher = pub
	}
	return nil
}

func newWithSource(name resource.Name, cfg *Config, source FrameSource, detector calibration.Detector, logger logging.Logger) (*Calibrator, error) {
	controller, err := calibration.NewController(cfg.controllerConfig(), detector, logger)
	if err != nil {
		return nil, err
	}
	if cfg.StartArmed {
		controller.Arm()
	}

	c := &Calibrator{
		name:       name,
		cfg:        cfg,
		logger:     logger,
		source:     source,
		controller: controller,
	}
	c.saveAttributes = func(ctx context.Context, attrs utils.AttributeMap) error {
		return projcal.UpdateComponentCloudAttributesFromModuleEnv(ctx, c.name, attrs, c.logger)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c, nil
}

type Calibrator struct {
	resource.AlwaysRebuild

	name   resource.Name
	cfg    *Config
	logger logging.Logger

	source         FrameSource
	history        *history.Store
	publisher      resultPublisher
	saveAttributes func(ctx context.Context, attrs utils.AttributeMap) error

	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup

	lock           sync.Mutex
	controller     *calibration.Controller
	lastCapturedAt time.Time
	lastFrameErr   error
	brightness     float64
	handled        *calibration.Result
}

func (c *Calibrator) Name() resource.Name {
	return c.name
}

func (c *Calibrator) run() {
	ticker := time.NewTicker(c.cfg.frameInterval())
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		}
		c.tick(c.ctx)
	}
}

// tick fetches a frame when armed and feeds it to the controller.
func (c *Calibrator) tick(ctx context.Context) {
	c.lock.Lock()
	c.controller.Poll()
	armed := c.controller.State() == calibration.StateArmed
	c.lock.Unlock()

	c.handleResult(ctx)

	if !armed {
		return
	}

	frame, capturedAt, err := c.source.NextFrame(ctx)

	c.lock.Lock()
	defer c.lock.Unlock()

	if err != nil {
		if ctx.Err() == nil {
			c.logger.Debugf("cannot get frame: %v", err)
		}
		c.lastFrameErr = err
		return
	}
	c.lastFrameErr = nil

	newData := capturedAt.After(c.lastCapturedAt)
	if newData {
		c.lastCapturedAt = capturedAt
		if frame.Color != nil {
			c.brightness = imgutils.ComputeGrayscaleAverage(frame.Color, 4)
			if c.cfg.MinBrightness > 0 && c.brightness < c.cfg.MinBrightness {
				c.logger.Debugf("frame too dark (%0.1f < %0.1f), skipping detection", c.brightness, c.cfg.MinBrightness)
				frame.Color = nil
			}
		}
	}

	c.controller.Update(frame, newData)
}

// handleResult records and publishes a solve result the first time it is seen.
func (c *Calibrator) handleResult(ctx context.Context) {
	c.lock.Lock()
	res := c.controller.LatestResult()
	if res == nil || res == c.handled {
		c.lock.Unlock()
		return
	}
	c.handled = res
	c.lock.Unlock()

	if c.history != nil {
		id, err := c.history.Record(ctx, c.name.ShortName(), res)
		if err != nil {
			c.logger.Warnf("cannot record calibration: %v", err)
		} else {
			c.logger.Infof("recorded calibration %s", id)
		}
	}

	if c.publisher != nil {
		if err := c.publisher.Publish(c.name.ShortName(), res); err != nil {
			c.logger.Warnf("cannot publish calibration: %v", err)
		}
	}
}

func (c *Calibrator) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	res, err := c.doCommand(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return toMap(res)
}

func (c *Calibrator) doCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	command, ok := cmd["command"].(string)
	if !ok {
		return nil, fmt.Errorf("need a command, got %v", cmd)
	}

	switch command {
	case "arm":
		c.lock.Lock()
		c.controller.Arm()
		c.lock.Unlock()
		return c.status()
	case "disarm":
		c.lock.Lock()
		c.controller.Disarm()
		c.lock.Unlock()
		return c.status()
	case "capture":
		c.lock.Lock()
		captured := c.controller.Capture()
		size := c.controller.SessionSize()
		c.lock.Unlock()
		return map[string]interface{}{"captured": captured, "session_size": size}, nil
	case "solve":
		return c.solve(ctx)
	case "status":
		return c.status()
	case "reset":
		c.lock.Lock()
		c.controller.ClearSession()
		c.lock.Unlock()
		return c.status()
	case "save":
		return c.save(ctx)
	case "export":
		c.lock.Lock()
		export := SessionExport{Geometry: c.controller.Geometry(), Observations: c.controller.Session()}
		c.lock.Unlock()
		return toMap(export)
	case "import":
		return c.importSession(cmd)
	case "history":
		return c.listHistory(ctx, cmd)
	default:
		return nil, fmt.Errorf("unknown command [%s]", command)
	}
}

func (c *Calibrator) solve(ctx context.Context) (map[string]interface{}, error) {
	c.lock.Lock()
	if c.cfg.BackgroundSolve {
		started := c.controller.StartSolve(c.ctx)
		c.lock.Unlock()
		return map[string]interface{}{"started": started}, nil
	}

	res, err := c.controller.RunSolve(ctx)
	size := c.controller.SessionSize()
	state := c.controller.State()
	c.lock.Unlock()

	if err != nil {
		return nil, fmt.Errorf("calibration failed with %d views: %w", size, err)
	}
	if res == nil {
		return map[string]interface{}{"ignored": true, "state": state.String(), "session_size": size}, nil
	}

	c.handleResult(ctx)
	return toMap(newResultMessage(c.name.ShortName(), res))
}

func (c *Calibrator) status() (map[string]interface{}, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	corners := [][]float64{}
	for _, p := range c.controller.CurrentCorners() {
		corners = append(corners, []float64{p.X, p.Y, p.Z})
	}

	status := map[string]interface{}{
		"state":        c.controller.State().String(),
		"session_size": c.controller.SessionSize(),
		"corners":      len(c.controller.CurrentDetection()),
		"board_found":  len(corners) > 0,
		"corners_3d":   corners,
		"brightness":   c.brightness,
	}
	if err := c.controller.LastError(); err != nil {
		status["last_error"] = err.Error()
	}
	if c.lastFrameErr != nil {
		status["frame_error"] = c.lastFrameErr.Error()
	}
	if res := c.controller.LatestResult(); res != nil {
		m, err := toMap(newResultMessage(c.name.ShortName(), res))
		if err != nil {
			return nil, err
		}
		status["result"] = m
	}
	return toMap(status)
}

// save writes the latest intrinsics and distortion into this service's config.
func (c *Calibrator) save(ctx context.Context) (map[string]interface{}, error) {
	c.lock.Lock()
	res := c.controller.LatestResult()
	c.lock.Unlock()
	if res == nil {
		return nil, fmt.Errorf("no calibration to save")
	}

	newCfg := *c.cfg
	newCfg.Intrinsics = &res.Intrinsics
	newCfg.Distortion = &res.Distortion

	attrs, err := toMap(newCfg)
	if err != nil {
		return nil, err
	}

	if err := c.saveAttributes(ctx, utils.AttributeMap(attrs)); err != nil {
		return nil, err
	}
	return map[string]interface{}{"saved": true, "attributes": attrs}, nil
}

func (c *Calibrator) importSession(cmd map[string]interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	var export SessionExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("bad import: %w", err)
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	if export.Geometry != (calibration.BoardGeometry{}) && export.Geometry != c.controller.Geometry() {
		return nil, fmt.Errorf("import is for a %dx%d board, configured for %dx%d",
			export.Geometry.Rows, export.Geometry.Cols, c.controller.Geometry().Rows, c.controller.Geometry().Cols)
	}
	if err := c.controller.Restore(export.Observations); err != nil {
		return nil, err
	}
	return map[string]interface{}{"imported": len(export.Observations), "session_size": c.controller.SessionSize()}, nil
}

func (c *Calibrator) listHistory(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	if c.history == nil {
		return nil, fmt.Errorf("no history_path configured")
	}
	limit := 10
	if l, ok := cmd["limit"].(float64); ok {
		limit = int(l)
	}
	entries, err := c.history.List(ctx, c.name.ShortName(), limit)
	if err != nil {
		return nil, err
	}
	return toMap(map[string]interface{}{"entries": entries})
}

func (c *Calibrator) Close(ctx context.Context) error {
	c.cancel()
	c.workers.Wait()

	var err error
	if c.history != nil {
		err = c.history.Close()
	}
	if c.publisher != nil {
		c.publisher.Close()
	}
	return err
}

// toMap converts v to the plain json types DoCommand results and attributes need.
func toMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	m := map[string]interface{}{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
