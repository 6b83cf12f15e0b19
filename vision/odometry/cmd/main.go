// Package main runs visual odometry over a sequence of frames of keypoints and descriptors, and
// renders the camera trajectory.
package main

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/vo/logging"
	"go.viam.com/vo/vision/odometry"
	"go.viam.com/vo/vision/odometry/trajectory"
)

const (
	flagConfig = "config"
	flagFrames = "frames"
	flagPNG    = "png"
	flagHTML   = "html"
	flagDebug  = "debug"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logging.NewLogger("visual-odometry").Error(err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "visual-odometry",
		Usage: "estimate the trajectory of a monocular camera from matched keypoints",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     flagConfig,
				Aliases:  []string{"c"},
				Usage:    "load the motion estimation configuration from `FILE`",
				Required: true,
			},
			&cli.StringFlag{
				Name:     flagFrames,
				Aliases:  []string{"f"},
				Usage:    "load the frames (keypoints and descriptors) from json `FILE`",
				Required: true,
			},
			&cli.StringFlag{
				Name:  flagPNG,
				Usage: "save a top-down plot of the trajectory to `FILE`",
			},
			&cli.StringFlag{
				Name:  flagHTML,
				Usage: "save an interactive 3D view of the trajectory to `FILE`",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
		},
		Action: runOdometry,
	}
}

func runOdometry(c *cli.Context) error {
	logger := logging.NewLogger("visual-odometry")
	if c.Bool(flagDebug) {
		logger = logging.NewDebugLogger("visual-odometry")
	}
	defer utils.UncheckedErrorFunc(logger.Sync)

	cfg, err := odometry.LoadMotionEstimationConfig(c.String(flagConfig))
	if err != nil {
		return err
	}
	frames, err := odometry.LoadFrames(c.String(flagFrames))
	if err != nil {
		return err
	}
	estimator, err := odometry.NewMotionEstimator(cfg, logger)
	if err != nil {
		return err
	}

	recorder := trajectory.NewRecorder()
	sink := trajectory.MultiSink{recorder}
	renderers := map[string]trajectory.Renderer{}
	if path := c.String(flagPNG); path != "" {
		r := trajectory.NewPlotRenderer("camera trajectory (top view)")
		renderers[path] = r
		sink = append(sink, r)
	}
	if path := c.String(flagHTML); path != "" {
		r := trajectory.NewEChartsRenderer("camera trajectory")
		renderers[path] = r
		sink = append(sink, r)
	}

	tracker := odometry.NewTracker(estimator, sink, logger)
	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	for i, frame := range frames {
		if _, err := tracker.ProcessFrame(ctx, frame); err != nil {
			return multierr.Combine(errors.Wrapf(err, "frame %d", i), trajectory.SaveAll(renderers))
		}
	}

	nPairs, nSkipped := tracker.Stats()
	end := tracker.Pose().Point()
	logger.Infow("trajectory done",
		"frames", len(frames),
		"pairs", nPairs,
		"skipped", nSkipped,
		"length", recorder.Length(),
		"x", end.X, "y", end.Y, "z", end.Z,
	)
	return trajectory.SaveAll(renderers)
}
