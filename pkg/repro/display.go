// Copyright 2026 clusterfuzz-tools authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package repro

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/google/clusterfuzz-tools/pkg/log"
	"github.com/google/clusterfuzz-tools/pkg/osutil"
)

const (
	displayNum     = 99
	displayStartup = 10 * time.Second
)

// Display is a virtual X server (Xvfb) with a minimal window manager on
// top, so browser targets can run on headless machines. Close releases
// both processes.
type Display struct {
	num      int
	xvfb     *exec.Cmd
	blackbox *exec.Cmd
}

// StartDisplay launches Xvfb on a fixed display number and waits for the
// server socket to appear, then starts blackbox on it. Chrome refuses to
// map windows without a window manager present.
func StartDisplay(ctx context.Context) (*Display, error) {
	d := &Display{num: displayNum}
	d.xvfb = osutil.Command("Xvfb", fmt.Sprintf(":%v", d.num),
		"-screen", "0", "1280x1024x24", "-nolisten", "tcp")
	if err := d.xvfb.Start(); err != nil {
		return nil, fmt.Errorf("failed to start Xvfb: %w", err)
	}
	if err := d.waitForServer(ctx); err != nil {
		d.Close()
		return nil, err
	}
	d.blackbox = osutil.Command("blackbox")
	d.blackbox.Env = []string{d.Env()}
	if err := d.blackbox.Start(); err != nil {
		// A window manager is nice to have, not required for headless runs.
		log.Errorf("failed to start blackbox: %v", err)
		d.blackbox = nil
	}
	log.Logf(2, "virtual display :%v up", d.num)
	return d, nil
}

func (d *Display) waitForServer(ctx context.Context) error {
	socket := fmt.Sprintf("/tmp/.X11-unix/X%v", d.num)
	deadline := time.Now().Add(displayStartup)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if osutil.IsExist(socket) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("Xvfb did not come up within %v", displayStartup)
}

// Env returns the DISPLAY assignment clients of this display need.
func (d *Display) Env() string {
	return fmt.Sprintf("DISPLAY=:%v", d.num)
}

// Close terminates the window manager and the X server.
func (d *Display) Close() {
	if d.blackbox != nil && d.blackbox.Process != nil {
		d.blackbox.Process.Kill()
		d.blackbox.Wait()
	}
	if d.xvfb != nil && d.xvfb.Process != nil {
		d.xvfb.Process.Kill()
		d.xvfb.Wait()
	}
}
