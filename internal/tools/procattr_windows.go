//go:build windows

package tools

import "os/exec"

func setProcAttr(cmd *exec.Cmd) {}
