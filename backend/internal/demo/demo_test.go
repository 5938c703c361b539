package demo

import (
	"context"
	"math"
	"testing"
	"time"

	"physsync/backend/internal/adapter/out/physics/refsim"
	"physsync/backend/internal/config"
	"physsync/backend/internal/core/domain/scene"
	"physsync/backend/internal/core/port/out/physics"
	"physsync/backend/internal/logging"
	"physsync/backend/internal/meshcache"
	"physsync/backend/internal/world"
)

func TestGenerateHills(t *testing.T) {
	hf := GenerateHills(32, 24)
	if hf.Rows != 32 || hf.Columns != 24 || len(hf.Heights) != 32*24 {
		t.Fatalf("grid = %dx%d with %d samples", hf.Rows, hf.Columns, len(hf.Heights))
	}
	peak := 0.0
	for _, h := range hf.Heights {
		if h < 0 || h > 1 {
			t.Fatalf("sample %v outside [0, 1]", h)
		}
		peak = math.Max(peak, h)
	}
	if peak < 0.3 {
		t.Fatalf("peak = %v, want visible hills", peak)
	}
	for c := 0; c < hf.Columns; c++ {
		if hf.At(0, c) != 0 || hf.At(hf.Rows-1, c) != 0 {
			t.Fatalf("border column %d not flat", c)
		}
	}

	again := GenerateHills(32, 24)
	for i := range hf.Heights {
		if hf.Heights[i] != again.Heights[i] {
			t.Fatal("generation is not deterministic")
		}
	}
}

func TestBuildWiresTheScene(t *testing.T) {
	s := Build(config.DemoConfig{DropHeight: 400})

	var found []scene.PhysicsNode
	s.Root.Walk(func(n *scene.Node) bool {
		if pn := n.PhysicsNode(); pn != nil {
			found = append(found, pn)
		}
		return true
	})
	if len(found) != 8 {
		t.Fatalf("found %d physics nodes, want 8", len(found))
	}
	if s.Rider.Parent() != s.Platform.Node {
		t.Fatal("rider is not carried by the platform")
	}
	if !s.Platform.IsKinematic() || !s.Rider.IsKinematic() {
		t.Fatal("platform and rider must be kinematic")
	}
	if s.Box.Position().Y() != 400 || s.Zone.Position().Y() != 200 {
		t.Fatalf("box at %v, zone at %v", s.Box.Position(), s.Zone.Position())
	}
	if s.Ball.Density() != ballDensity {
		t.Fatalf("ball density = %v", s.Ball.Density())
	}
}

func TestAnimateSwingsPlatformAndTurnsWalker(t *testing.T) {
	s := Build(config.DemoConfig{DropHeight: 400})

	s.Animate(platformPeriod / 4)
	pos, _, _ := s.Platform.KinematicTransform()
	if math.Abs(pos.X()-(s.platformHome.X()+platformSwing)) > 1e-9 {
		t.Fatalf("platform at %v after a quarter period", pos)
	}
	if s.Character.Movement().X() != walkSpeed {
		t.Fatalf("movement = %v on the first leg", s.Character.Movement())
	}

	s.Animate(walkLeg)
	if s.Character.Movement().X() != -walkSpeed {
		t.Fatalf("movement = %v on the second leg", s.Character.Movement())
	}
}

func TestDemoRunsOnReferenceBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	s := Build(cfg.Demo)

	manager := world.NewManager()
	foundation := physics.NewFoundation(refsim.Factory(logging.Noop()))
	w := world.New(manager, foundation, cfg.World, world.WithMeshCache(meshcache.New(Loader())))
	defer w.Close()
	w.SetScene(s.Root)

	minX, maxX := math.Inf(1), math.Inf(-1)
	walkMin, walkMax := math.Inf(1), math.Inf(-1)
	w.OnFrameDone(func(f world.Frame) {
		s.Animate(f.Timestep)
		for _, b := range f.Bodies {
			switch b.Name {
			case "platform":
				minX, maxX = math.Min(minX, b.Position.X()), math.Max(maxX, b.Position.X())
			case "walker":
				walkMin, walkMax = math.Min(walkMin, b.Position.X()), math.Max(walkMax, b.Position.X())
			}
		}
	})

	ctx := context.Background()
	for i := 0; i < 300; i++ {
		if err := w.Advance(ctx, time.Second/60); err != nil {
			t.Fatalf("Advance: %v", err)
		}
	}

	if n := w.BodyCount(); n != 8 {
		t.Fatalf("BodyCount = %d, want 8", n)
	}
	if _, ok := w.Body("hills"); !ok {
		t.Fatal("hills not synced")
	}
	if y := s.Box.Position().Y(); y < 5 || y > 15 {
		t.Fatalf("box rests at y=%.2f", y)
	}
	if y := s.Ball.Position().Y(); y > cfg.Demo.DropHeight-100 {
		t.Fatalf("ball did not fall: y=%.2f", y)
	}
	if s.ZoneEntries() == 0 {
		t.Fatal("the falling box never entered the zone")
	}
	if maxX-minX < 200 {
		t.Fatalf("platform swung over %.1f, want most of %v", maxX-minX, 2*platformSwing)
	}
	if walkMax-walkMin < 100 {
		t.Fatalf("walker covered %.1f", walkMax-walkMin)
	}
	offset := s.Rider.ScenePosition().Sub(s.Platform.ScenePosition())
	if math.Abs(offset.Y()-20) > 1 || math.Abs(offset.X()) > 10 {
		t.Fatalf("rider offset from platform = %v", offset)
	}
}

func TestBuildDropKeepsFloorAndBox(t *testing.T) {
	s := BuildDrop(config.DemoConfig{DropHeight: 300})
	children := s.Root.Children()
	if len(children) != 2 || children[0] != s.Floor.Node || children[1] != s.Box.Node {
		t.Fatalf("drop scene children = %d", len(children))
	}
	if s.Box.Position().Y() != 300 {
		t.Fatalf("box at %v", s.Box.Position())
	}
}
