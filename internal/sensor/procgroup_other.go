//go:build !unix

package sensor

import (
	"errors"
	"os"
	"os/exec"
)

func setGroup(cmd *exec.Cmd) {}

func interruptGroup(cmd *exec.Cmd) error { return killGroup(cmd) }

func killGroup(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
