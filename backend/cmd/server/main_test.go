package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"physsync/backend/internal/adapter/in/ws"
	"physsync/backend/internal/config"
	"physsync/backend/internal/logging"
	"physsync/backend/internal/transport"
)

func localListener(t *testing.T) net.Listener {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return lis
}

func TestServeStreamsFramesAndReportsHealth(t *testing.T) {
	cfg := config.DefaultConfig()
	lis := listeners{ws: localListener(t), metrics: localListener(t), grpc: localListener(t)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- runServe(ctx, cfg, logging.Noop(), lis) }()

	conn, err := grpc.NewClient(lis.grpc.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc client: %v", err)
	}
	defer conn.Close()
	health := healthpb.NewHealthClient(conn)
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := health.Check(ctx, &healthpb.HealthCheckRequest{Service: transport.WorldServiceName})
		if err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("world never reported SERVING: %v %v", resp, err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	wsConn, _, err := websocket.DefaultDialer.Dial("ws://"+lis.ws.Addr().String()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer wsConn.Close()
	_ = wsConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frame ws.FrameMessage
	for frame.Type != ws.MessageTypeFrame {
		_, raw, err := wsConn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}
	found := false
	for _, b := range frame.Bodies {
		found = found || b.Name == "box"
	}
	if !found {
		t.Fatalf("frame %d has no box: %+v", frame.Frame, frame.Bodies)
	}

	resp, err := http.Get("http://" + lis.metrics.Addr().String() + "/metrics")
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, name := range []string{"physsync_frames_total", "physsync_grpc_requests_total"} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("metrics missing %s", name)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runServe: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runServe did not return after cancel")
	}
}

func TestDropSettlesOnFloor(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Demo.DropHeight = 300
	cfg.Demo.Frames = 240

	res, err := runDrop(context.Background(), cfg, logging.Noop(), 16*time.Millisecond)
	if err != nil {
		t.Fatalf("runDrop: %v", err)
	}
	if len(res.Heights) != 240 {
		t.Fatalf("got %d samples, want 240", len(res.Heights))
	}
	if res.Heights[0] < 250 {
		t.Fatalf("first sample %.2f, want close to the drop height", res.Heights[0])
	}
	if res.Final < 5 || res.Final > 15 {
		t.Fatalf("box rests at %.2f, want about its half extent", res.Final)
	}
	if res.Lowest > res.Final || res.SettledAt < 0 || res.SettledAt >= 240 {
		t.Fatalf("lowest=%.2f settled=%d", res.Lowest, res.SettledAt)
	}

	var out bytes.Buffer
	printDrop(&out, res, true)
	for _, want := range []string{"box height", "drop summary", "final height"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestDropHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := runDrop(ctx, config.DefaultConfig(), logging.Noop(), 16*time.Millisecond); err == nil {
		t.Fatal("runDrop ignored a cancelled context")
	}
}

func TestConfigCommandPrintsYAML(t *testing.T) {
	t.Setenv("PHYSSYNC_WS_ADDR", ":7070")
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config: %v", err)
	}
	for _, want := range []string{"min_timestep_ms", ":7070"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("output missing %q:\n%s", want, out.String())
		}
	}
}
