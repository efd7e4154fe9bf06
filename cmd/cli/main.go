// Package main is a bench tool that drives a Braccio directly over serial, without a
// viam-server.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"

	"braccio"
	"braccio/joints"
	"braccio/kinematics"
)

const usage = `usage: braccio-cli [-config braccio.yaml] <command> [args]

commands:
  home                        move to the home pose
  move x y z [speed]          solve and move to a Cartesian target (mm)
  joints b s e w wr g [speed] send a joint vector (degrees)
  state                       print the last commanded joint vector
`

func main() {
	utils.ContextualMain(mainWithArgs, logging.NewLogger("braccio-cli"))
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) error {
	fs := flag.NewFlagSet("braccio-cli", flag.ContinueOnError)
	configPath := fs.String("config", "braccio.yaml", "Path to bench configuration file")
	debug := fs.Bool("debug", false, "Log every serial exchange")
	fs.Usage = func() { fmt.Fprint(fs.Output(), usage) }

	if len(args) > 0 {
		args = args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return fmt.Errorf("missing command")
	}
	if *debug {
		logger.SetLevel(logging.DEBUG)
	}

	bench, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	cfg, err := bench.armConfig()
	if err != nil {
		return err
	}
	linkConf, err := cfg.Link()
	if err != nil {
		return err
	}

	link, err := braccio.GetSharedLink(ctx, linkConf, logger)
	if err != nil {
		return err
	}
	defer braccio.ReleaseSharedLink(linkConf.Port, logger)

	return run(ctx, link.Pipeline, cfg, fs.Args(), os.Stdout)
}

// run executes one bench command against p and prints the issued command.
func run(ctx context.Context, p *kinematics.Pipeline, cfg *braccio.BraccioConfig, args []string, out io.Writer) error {
	cmdName, rest := args[0], args[1:]

	switch cmdName {
	case "home":
		issued, err := p.Home(ctx)
		if err != nil {
			return err
		}
		return printCommand(out, issued)

	case "move":
		nums, err := parseNumbers(rest, 3, 4)
		if err != nil {
			return fmt.Errorf("move: %w", err)
		}
		speed := cfg.DefaultSpeed
		if len(nums) == 4 {
			speed = int(nums[3])
		}
		target := r3.Vector{X: nums[0], Y: nums[1], Z: nums[2]}
		issued, err := p.MoveTo(ctx, target, *cfg.WristRotation, kinematics.KeepLast, speed)
		if err != nil {
			return err
		}
		return printCommand(out, issued)

	case "joints":
		nums, err := parseNumbers(rest, joints.NumAxes, joints.NumAxes+1)
		if err != nil {
			return fmt.Errorf("joints: %w", err)
		}
		var v joints.Vector
		for i := range v {
			v[i] = int(nums[i])
		}
		speed := cfg.DefaultSpeed
		if len(nums) == joints.NumAxes+1 {
			speed = int(nums[joints.NumAxes])
		}
		issued, err := p.MoveJoints(ctx, v, speed)
		if err != nil {
			return err
		}
		return printCommand(out, issued)

	case "state":
		_, err := fmt.Fprintln(out, p.Last())
		return err

	default:
		return fmt.Errorf("unknown command: %s", cmdName)
	}
}

func parseNumbers(args []string, minArgs, maxArgs int) ([]float64, error) {
	if len(args) < minArgs || len(args) > maxArgs {
		return nil, fmt.Errorf("expected %d to %d arguments, got %d", minArgs, maxArgs, len(args))
	}
	nums := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		nums[i] = v
	}
	return nums, nil
}

func printCommand(out io.Writer, cmd joints.Command) error {
	_, err := fmt.Fprintf(out, "%v speed=%d\n", cmd.Angles, cmd.Speed)
	return err
}
