package process

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/roman-kulish/spectral-scan/internal/frame"
	"github.com/roman-kulish/spectral-scan/internal/scan"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported on windows")
	}

	path := filepath.Join(t.TempDir(), "spectral-scan")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}

	return path
}

func TestEngine_Args(t *testing.T) {
	e := NewEngine("spectral-scan", WithArgs("-v"))

	got := e.Args(scan.MustConfig([]int{2437, 2412}, 7), "/tmp/a.sock")
	want := []string{"-f", "2412,2437", "-n", "7", "-s", "/tmp/a.sock", "-v"}

	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestEngine_CheckRange(t *testing.T) {
	e := NewEngine("spectral-scan")

	if err := e.CheckRange(scan.MustConfig([]int{2412, 5180}, 7)); err != nil {
		t.Errorf("Expected supported channels to pass, got %v", err)
	}

	err := e.CheckRange(scan.MustConfig([]int{2413}, 7))
	if !errors.Is(err, scan.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}
}

func TestEngine_StartStop(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")

	script := writeScript(t, `echo "$@" > `+argsFile+`
echo "scanning" >&2
trap 'exit 0' INT TERM
while true; do sleep 0.01; done
`)

	e := NewEngine(script, WithStartGrace(50*time.Millisecond), WithStopTimeout(time.Second))
	frames := filepath.Join(dir, "frames.sock")

	c := scan.MustConfig([]int{2412}, 6)
	if err := e.Start(c, frames); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := e.Start(c, frames); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Expected ErrAlreadyRunning, got %v", err)
	}

	relayPath := helperRelay(t, argsFile)
	if got := strings.TrimSpace(readArgs(t, argsFile)); got != "-f 2412 -n 6 -s "+relayPath {
		t.Errorf("unexpected helper arguments: %q", got)
	}
	if filepath.Dir(relayPath) != dir || relayPath == frames {
		t.Errorf("Expected a relay socket next to the frame channel, got %s", relayPath)
	}

	if err := e.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := e.Stop(); err != nil {
		t.Errorf("second Stop failed: %v", err)
	}
	if _, err := os.Stat(relayPath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("relay socket left behind after Stop: %v", err)
	}

	// the engine can be started again after a stop
	if err := e.Start(c, frames); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if err := e.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func readArgs(t *testing.T, argsFile string) string {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for {
		args, err := os.ReadFile(argsFile)
		if err == nil && strings.HasSuffix(string(args), "\n") {
			return string(args)
		}
		if time.Now().After(deadline) {
			t.Fatalf("helper did not record its arguments: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
}

// helperRelay returns the socket the helper was told to write frames to.
func helperRelay(t *testing.T, argsFile string) string {
	t.Helper()

	fields := strings.Fields(readArgs(t, argsFile))
	for i, f := range fields {
		if f == "-s" && i+1 < len(fields) {
			return fields[i+1]
		}
	}

	t.Fatalf("no frame address in helper arguments: %v", fields)
	return ""
}

func sendFrame(t *testing.T, path string, f frame.Frame) {
	t.Helper()

	b, err := f.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}

	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		t.Fatalf("dialing relay: %v", err)
	}
	defer conn.Close()

	if _, err = conn.Write(b); err != nil {
		t.Fatalf("writing to relay: %v", err)
	}
}

func nextFrame(t *testing.T, r *frame.Receiver) frame.Frame {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	f, ok := r.Next(ctx)
	if !ok {
		t.Fatal("timed out waiting for a relayed frame")
	}
	return f
}

func TestEngine_RelayTagsFrames(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")

	script := writeScript(t, `echo "$@" > `+argsFile+`
trap 'exit 0' INT TERM
while true; do sleep 0.01; done
`)

	frames := filepath.Join(dir, "frames.sock")
	receiver, err := frame.Open(frames)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer receiver.Close()

	e := NewEngine(script, WithStartGrace(20*time.Millisecond))
	if err = e.Start(scan.MustConfig([]int{2437}, 6), frames); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer e.Stop()

	relayPath := helperRelay(t, argsFile)

	bins := []int8{-90, -80, -70}
	sendFrame(t, relayPath, frame.Frame{Timestamp: 10, Bins: bins})
	if f := nextFrame(t, receiver); f.CenterFreq != 2437 || len(f.Bins) != len(bins) {
		t.Errorf("Expected the frame tagged with 2437 MHz, got %+v", f)
	}

	sendFrame(t, relayPath, frame.Frame{CenterFreq: 2412, Timestamp: 20, Bins: bins})
	if f := nextFrame(t, receiver); f.CenterFreq != 2412 {
		t.Errorf("Expected the scanner's center frequency to be kept, got %d", f.CenterFreq)
	}
}

func TestEngine_RelayLeavesHoppingScanUntagged(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")

	script := writeScript(t, `echo "$@" > `+argsFile+`
trap 'exit 0' INT TERM
while true; do sleep 0.01; done
`)

	frames := filepath.Join(dir, "frames.sock")
	receiver, err := frame.Open(frames)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer receiver.Close()

	e := NewEngine(script, WithStartGrace(20*time.Millisecond))
	if err = e.Start(scan.MustConfig([]int{2412, 2462}, 6), frames); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer e.Stop()

	sendFrame(t, helperRelay(t, argsFile), frame.Frame{Bins: []int8{-90}})
	if f := nextFrame(t, receiver); f.CenterFreq != 0 {
		t.Errorf("a hopping scan has no single frequency to tag with, got %d", f.CenterFreq)
	}
}

func TestEngine_StopKillsStubbornHelper(t *testing.T) {
	script := writeScript(t, `trap '' INT
while true; do sleep 0.01; done
`)

	e := NewEngine(script, WithStartGrace(20*time.Millisecond), WithStopTimeout(50*time.Millisecond))

	if err := e.Start(scan.MustConfig([]int{2412}, 6), "/tmp/frames.sock"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	start := time.Now()
	if err := e.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if d := time.Since(start); d > time.Second {
		t.Errorf("Stop took too long: %s", d)
	}
}

func TestEngine_ImmediateExit(t *testing.T) {
	script := writeScript(t, `echo "no spectral scan support" >&2
exit 3
`)

	e := NewEngine(script, WithStartGrace(time.Second))

	err := e.Start(scan.MustConfig([]int{2412}, 6), "/tmp/frames.sock")
	if !errors.Is(err, ErrExited) {
		t.Fatalf("Expected ErrExited, got %v", err)
	}

	var exitErr interface{ ExitCode() int }
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 3 {
		t.Errorf("Expected exit code 3, got %v", err)
	}

	if err := e.Stop(); err != nil {
		t.Errorf("Stop after exit failed: %v", err)
	}
}

func TestEngine_MissingRuntime(t *testing.T) {
	e := NewEngine(filepath.Join(t.TempDir(), "missing"))

	if err := e.Start(scan.MustConfig([]int{2412}, 6), "/tmp/frames.sock"); err == nil {
		t.Fatal("Expected an error for a missing runtime")
	}
}
