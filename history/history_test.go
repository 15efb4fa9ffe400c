package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/geo/r3"

	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/rimage/transform"
	"go.viam.com/test"

	"github.com/erh/projcal/calibration"
)

func testResult(fx float64, when time.Time) *calibration.Result {
	return &calibration.Result{
		Geometry:   calibration.BoardGeometry{Rows: 6, Cols: 9},
		Intrinsics: transform.PinholeCameraIntrinsics{Width: 9, Height: 6, Fx: fx, Fy: fx + 1, Ppx: 4, Ppy: 2.5},
		Distortion: transform.BrownConrady{RadialK1: 0.01, TangentialP2: -0.002},
		Extrinsics: []calibration.Extrinsic{{Rotation: r3.Vector{X: 0.1}, Translation: r3.Vector{Z: 1000}}},
		RMS:        0.05,
		Iterations: 7,
		Views:      1,
		SolvedAt:   when,
	}
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)

	s, err := Open(filepath.Join(t.TempDir(), "history.db"), logger)
	test.That(t, err, test.ShouldBeNil)
	defer s.Close()

	_, err = s.Latest(ctx, "cal")
	test.That(t, errors.Is(err, ErrNotFound), test.ShouldBeTrue)

	now := time.Now()
	id1, err := s.Record(ctx, "cal", testResult(10, now.Add(-time.Minute)))
	test.That(t, err, test.ShouldBeNil)
	id2, err := s.Record(ctx, "cal", testResult(11, now))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, id1, test.ShouldNotEqual, id2)

	_, err = s.Record(ctx, "other", testResult(20, now))
	test.That(t, err, test.ShouldBeNil)

	latest, err := s.Latest(ctx, "cal")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, latest.ID, test.ShouldEqual, id2)
	test.That(t, latest.Result.Intrinsics.Fx, test.ShouldEqual, 11)
	test.That(t, latest.Result.Distortion.RadialK1, test.ShouldEqual, 0.01)
	test.That(t, latest.Result.Distortion.TangentialP2, test.ShouldEqual, -0.002)
	test.That(t, latest.Result.Extrinsics[0].Translation.Z, test.ShouldEqual, 1000)
	test.That(t, latest.Result.SolvedAt.Equal(now), test.ShouldBeTrue)

	all, err := s.List(ctx, "cal", 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, all, test.ShouldHaveLength, 2)
	test.That(t, all[1].ID, test.ShouldEqual, id1)

	names, err := s.Names(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, names, test.ShouldResemble, []string{"cal", "other"})
}

func TestStoreReopen(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	fn := filepath.Join(t.TempDir(), "history.db")

	s, err := Open(fn, logger)
	test.That(t, err, test.ShouldBeNil)
	_, err = s.Record(ctx, "cal", testResult(10, time.Now()))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.Close(), test.ShouldBeNil)

	s, err = Open(fn, logger)
	test.That(t, err, test.ShouldBeNil)
	defer s.Close()

	all, err := s.List(ctx, "cal", 5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, all, test.ShouldHaveLength, 1)
}
