package calibration

import (
	"fmt"

	"go.viam.com/rdk/logging"
)

// Accumulator turns full board detections into observations and owns the session.
// It is not safe for concurrent use; callers serialize access.
type Accumulator struct {
	geometry BoardGeometry
	logger   logging.Logger

	session Session
}

func NewAccumulator(geometry BoardGeometry, logger logging.Logger) (*Accumulator, error) {
	if err := geometry.Validate(); err != nil {
		return nil, err
	}
	return &Accumulator{geometry: geometry, logger: logger}, nil
}

func (a *Accumulator) Geometry() BoardGeometry {
	return a.geometry
}

// TryCapture builds an observation from a detection and appends it to the session.
// A detection that does not have exactly one point per corner leaves the session alone.
func (a *Accumulator) TryCapture(detection CornerDetection, cloud PointCloudFrame) (Observation, error) {
	if !detection.Complete(a.geometry) {
		return Observation{}, fmt.Errorf("%w: found %d corners, need %d", ErrIncompleteBoard, len(detection), a.geometry.Corners())
	}
	if err := cloud.Validate(); err != nil {
		return Observation{}, err
	}

	obs := Observation{
		ObjectPoints: ProjectDetection(detection, cloud),
		GridCoords:   make([]GridCoord, len(detection)),
	}
	for i := range detection {
		obs.GridCoords[i] = a.geometry.GridCoord(i)
	}

	a.session = append(a.session, obs)
	a.logger.Debugf("captured observation %d", len(a.session))
	return obs.copy(), nil
}

// Restore appends previously exported observations, rejecting the whole batch if any is malformed.
func (a *Accumulator) Restore(observations []Observation) error {
	for idx, o := range observations {
		if err := o.Validate(a.geometry); err != nil {
			return fmt.Errorf("observation %d: %w", idx, err)
		}
	}
	for _, o := range observations {
		a.session = append(a.session, o.copy())
	}
	return nil
}

func (a *Accumulator) Reset() {
	a.session = nil
}

func (a *Accumulator) SessionSize() int {
	return len(a.session)
}

// Session returns a copy of the accumulated observations.
func (a *Accumulator) Session() Session {
	s := make(Session, len(a.session))
	for i, o := range a.session {
		s[i] = o.copy()
	}
	return s
}
