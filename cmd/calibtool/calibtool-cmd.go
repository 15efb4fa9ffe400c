package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image/png"
	"os"
	"time"

	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/rimage"
	"go.viam.com/rdk/robot"
	"go.viam.com/rdk/services/generic"

	"github.com/erh/projcal"
	"github.com/erh/projcal/calibration"
	"github.com/erh/projcal/calibrator"
	"github.com/erh/projcal/chessboard"
	"github.com/erh/projcal/history"
	"github.com/erh/projcal/imgutils"
)

func main() {
	err := realMain()
	if err != nil {
		panic(err)
	}
}

func realMain() error {
	logger := logging.NewLogger("calibtool")
	ctx := context.Background()

	host := flag.String("host", "", "hostname")
	apiKeyID := flag.String("api-key-id", "", "api key id, instead of the viam login token")
	apiKey := flag.String("api-key", "", "api key, instead of the viam login token")
	cmd := flag.String("cmd", "", "command")
	cameraName := flag.String("camera", "", "camera to use")
	colorSource := flag.String("color-source", "color", "")
	depthSource := flag.String("depth-source", "depth", "")
	out := flag.String("out", "", "output file")
	in := flag.String("in", "", "input file")
	name := flag.String("name", "", "calibrator name for history")

	rows := flag.Int("rows", 6, "inner corner rows")
	cols := flag.Int("cols", 9, "inner corner columns")
	square := flag.Int("square", 80, "square size in pixels")
	margin := flag.Int("margin", 80, "")
	views := flag.Int("views", 10, "views to capture before solving")
	limit := flag.Int("limit", 20, "")

	flag.Parse()

	if *cmd == "" {
		return fmt.Errorf("need a cmd")
	}

	geometry := calibration.BoardGeometry{Rows: *rows, Cols: *cols}

	switch *cmd {
	case "board":
		if *out == "" {
			return fmt.Errorf("need an 'out'")
		}
		if err := geometry.Validate(); err != nil {
			return err
		}
		return rimage.WriteImageToFile(*out, chessboard.Render(geometry, *square, *margin))

	case "detect":
		img, err := rimage.ReadImageFromFile(*in)
		if err != nil {
			return err
		}
		corners, err := chessboard.NewDetector(logger).Detect(img, geometry)
		if err != nil {
			return err
		}
		complete := corners.Complete(geometry)
		logger.Infof("found %d corners, complete: %v", len(corners), complete)
		if *out == "" {
			return nil
		}
		return rimage.WriteImageToFile(*out, imgutils.DrawCorners(img, corners, complete))

	case "download":
		if *out == "" {
			return fmt.Errorf("need an 'out' prefix")
		}
		machine, err := connect(ctx, *host, *apiKeyID, *apiKey, logger)
		if err != nil {
			return err
		}
		defer machine.Close(ctx)

		myCamera, err := camera.FromRobot(machine, *cameraName)
		if err != nil {
			return err
		}
		return download(ctx, myCamera, *out, logger)

	case "solve", "plot":
		export, err := readExport(*in)
		if err != nil {
			return err
		}
		res, err := calibration.NewSolver(calibration.SolverConfig{}, logger).Solve(ctx, export.Observations, export.Geometry, nil)
		if err != nil {
			return err
		}
		if *cmd == "plot" {
			if *out == "" {
				return fmt.Errorf("need an 'out'")
			}
			return plotResiduals(res, export.Observations, *out)
		}
		return printJSON(res)

	case "history":
		store, err := history.Open(*in, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		names := []string{*name}
		if *name == "" {
			names, err = store.Names(ctx)
			if err != nil {
				return err
			}
		}
		for _, n := range names {
			entries, err := store.List(ctx, n, *limit)
			if err != nil {
				return err
			}
			for _, e := range entries {
				logger.Infof("%s %s %s views: %d rms: %0.4f fx: %0.2f fy: %0.2f",
					e.ID, e.Name, e.Result.SolvedAt.Format(time.RFC3339), e.Result.Views, e.Result.RMS,
					e.Result.Intrinsics.Fx, e.Result.Intrinsics.Fy)
			}
		}
		return nil

	case "live":
		machine, err := connect(ctx, *host, *apiKeyID, *apiKey, logger)
		if err != nil {
			return err
		}
		defer machine.Close(ctx)

		deps, err := projcal.MachineToDependencies(machine)
		if err != nil {
			return err
		}
		myCamera, err := camera.FromProvider(deps, *cameraName)
		if err != nil {
			return err
		}

		cfg := &calibrator.Config{
			Camera:      *cameraName,
			ColorSource: *colorSource,
			DepthSource: *depthSource,
			Rows:        *rows,
			Cols:        *cols,
			HistoryPath: *out,
			StartArmed:  true,
		}
		if _, _, err := cfg.Validate(""); err != nil {
			return err
		}

		calName := *name
		if calName == "" {
			calName = "calibtool"
		}
		cal, err := calibrator.New(ctx, resource.NewName(generic.API, calName), cfg,
			calibrator.NewCameraSource(myCamera, *colorSource, *depthSource), chessboard.NewDetector(logger), logger)
		if err != nil {
			return err
		}
		defer cal.Close(ctx)

		return live(ctx, cal, *views, logger)
	}

	return fmt.Errorf("invalid command [%s]", *cmd)
}

// connect uses the api key when one is given and the cached viam login otherwise.
func connect(ctx context.Context, host, apiKeyID, apiKey string, logger logging.Logger) (robot.Robot, error) {
	if apiKeyID == "" && apiKey == "" {
		return projcal.ConnectToHostFromCLIToken(ctx, host, logger)
	}
	if apiKeyID == "" || apiKey == "" {
		return nil, fmt.Errorf("need both api-key-id and api-key")
	}
	if host == "" {
		return nil, fmt.Errorf("need to specify host")
	}
	return projcal.ConnectToMachine(ctx, logger, host, apiKeyID, apiKey)
}

// live captures a view whenever the board is fully visible, then solves.
func live(ctx context.Context, cal *calibrator.Calibrator, views int, logger logging.Logger) error {
	captured := 0
	for captured < views {
		time.Sleep(time.Second)
		res, err := cal.DoCommand(ctx, map[string]interface{}{"command": "capture"})
		if err != nil {
			return err
		}
		if ok, _ := res["captured"].(bool); ok {
			captured++
			logger.Infof("captured view %d of %d, move the board", captured, views)
		}
	}

	res, err := cal.DoCommand(ctx, map[string]interface{}{"command": "solve"})
	if err != nil {
		return err
	}
	return printJSON(res)
}

func download(ctx context.Context, myCamera camera.Camera, prefix string, logger logging.Logger) error {
	pc, err := myCamera.NextPointCloud(ctx, nil)
	if err != nil {
		return err
	}
	if err := writePCToFile(prefix+".pcd", pc); err != nil {
		return err
	}

	imgs, _, err := myCamera.Images(ctx, nil, nil)
	if err != nil {
		return err
	}

	for _, i := range imgs {
		fn := fmt.Sprintf("%s-%s.png", prefix, i.SourceName)

		theImage, err := i.Image(ctx)
		if err != nil {
			return err
		}

		f, err := os.OpenFile(fn, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return err
		}
		err = png.Encode(f, theImage)
		f.Close()
		if err != nil {
			return fmt.Errorf("cannot write (%s): %w", fn, err)
		}
		logger.Infof("wrote %s", fn)
	}

	props, err := myCamera.Properties(ctx)
	if err != nil {
		return err
	}
	logger.Infof("props - IntrinsicParams %T %v", props.IntrinsicParams, props.IntrinsicParams)
	logger.Infof("props - DistortionParams %T %v", props.DistortionParams, props.DistortionParams)
	return nil
}

func readExport(fn string) (calibrator.SessionExport, error) {
	var export calibrator.SessionExport
	data, err := os.ReadFile(fn)
	if err != nil {
		return export, err
	}
	if err := json.Unmarshal(data, &export); err != nil {
		return export, fmt.Errorf("bad export file (%s): %w", fn, err)
	}
	return export, nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func writePCToFile(fn string, pc pointcloud.PointCloud) error {
	f, err := os.OpenFile(fn, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return pointcloud.ToPCD(pc, f, pointcloud.PCDBinary)
}
