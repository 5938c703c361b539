package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"physsync/backend/internal/adapter/out/physics/refsim"
	"physsync/backend/internal/config"
	"physsync/backend/internal/core/port/out/physics"
	"physsync/backend/internal/demo"
	"physsync/backend/internal/logging"
	"physsync/backend/internal/telemetry"
	"physsync/backend/internal/world"
)

var (
	titleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true).MarginBottom(1)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(16)
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 2)
)

// settleTolerance is how close to its final height the box must stay to
// count as resting.
const settleTolerance = 0.5

func newDropCmd() *cobra.Command {
	var (
		frames  int
		height  float64
		stepMs  float64
		noGraph bool
	)
	cmd := &cobra.Command{
		Use:   "drop",
		Short: "drop a box on the floor and plot its height",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("frames") {
				cfg.Demo.Frames = frames
			}
			if cmd.Flags().Changed("height") {
				cfg.Demo.DropHeight = height
			}
			dt := cfg.World.MinTimestep()
			if cmd.Flags().Changed("dt") {
				dt = time.Duration(math.Round(stepMs * float64(time.Millisecond)))
			}
			res, err := runDrop(cmd.Context(), cfg, newLogger(cfg), dt)
			if err != nil {
				return err
			}
			printDrop(cmd.OutOrStdout(), res, !noGraph)
			return nil
		},
	}
	cmd.Flags().IntVar(&frames, "frames", config.DefaultFrames, "frames to simulate")
	cmd.Flags().Float64Var(&height, "height", config.DefaultDropHeight, "drop height")
	cmd.Flags().Float64Var(&stepMs, "dt", config.DefaultMinTimestepMs, "timestep in milliseconds")
	cmd.Flags().BoolVar(&noGraph, "no-graph", false, "print the summary only")
	return cmd
}

type dropResult struct {
	Frames   int
	Timestep time.Duration
	Heights  []float64
	Final    float64
	Lowest   float64
	// SettledAt is the first frame after which the box stays within
	// settleTolerance of its final height, -1 when it never does.
	SettledAt int
	Sync      telemetry.SyncStats
}

// runDrop steps the box-on-plane scene with a fixed timestep. The world's
// minimum timestep is zeroed so pacing never sleeps.
func runDrop(ctx context.Context, cfg *config.Config, log logging.Logger, dt time.Duration) (dropResult, error) {
	res := dropResult{Frames: cfg.Demo.Frames, Timestep: dt, SettledAt: -1}
	wcfg := cfg.World
	wcfg.MinTimestepMs = 0

	// floor and box each add one sample per frame
	tm := telemetry.NewTelemetryManager(max(telemetry.DefaultMaxEntries, 2*cfg.Demo.Frames), log)
	manager := world.NewManager()
	foundation := physics.NewFoundation(refsim.Factory(log))
	w := world.New(manager, foundation, wcfg, world.WithLogger(log), world.WithMetrics(tm))
	defer w.Close()

	sc := demo.BuildDrop(cfg.Demo)
	w.SetScene(sc.Root)
	w.OnFrameDone(tm.Record)

	for i := 0; i < cfg.Demo.Frames; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := w.Advance(ctx, dt); err != nil {
			return res, err
		}
	}

	res.Heights = tm.Series(sc.Box.Name())
	res.Sync = tm.SyncStats()
	if len(res.Heights) == 0 {
		return res, fmt.Errorf("no samples recorded for %q", sc.Box.Name())
	}
	res.Final = res.Heights[len(res.Heights)-1]
	res.Lowest = res.Final
	res.SettledAt = len(res.Heights) - 1
	for i := len(res.Heights) - 1; i >= 0; i-- {
		if math.Abs(res.Heights[i]-res.Final) > settleTolerance {
			break
		}
		res.SettledAt = i
	}
	for _, h := range res.Heights {
		res.Lowest = math.Min(res.Lowest, h)
	}
	return res, nil
}

func printDrop(out io.Writer, res dropResult, graph bool) {
	if graph && len(res.Heights) > 1 {
		fmt.Fprintln(out, asciigraph.Plot(res.Heights,
			asciigraph.Height(12),
			asciigraph.Width(80),
			asciigraph.Caption("box height"),
		))
		fmt.Fprintln(out)
	}

	row := func(label, value string) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), valueStyle.Render(value))
	}
	settled := "never"
	if res.SettledAt >= 0 {
		settled = fmt.Sprintf("frame %d (%v)", res.SettledAt, time.Duration(res.SettledAt)*res.Timestep)
	}
	summary := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("drop summary"),
		row("frames", fmt.Sprintf("%d × %v", res.Frames, res.Timestep)),
		row("start height", fmt.Sprintf("%.2f", res.Heights[0])),
		row("final height", fmt.Sprintf("%.2f", res.Final)),
		row("lowest", fmt.Sprintf("%.2f", res.Lowest)),
		row("settled", settled),
		row("sync mean/max", fmt.Sprintf("%v / %v", res.Sync.Mean, res.Sync.Max)),
	)
	fmt.Fprintln(out, boxStyle.Render(summary))
}
