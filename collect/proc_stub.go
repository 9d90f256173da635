//go:build !linux

package collect

import (
	"context"
	"fmt"
	"runtime"
)

func collectProcesses(ctx context.Context, outputPath string) error {
	return errUnsupported("ProcInfo")
}

func collectProcessDetails(ctx context.Context, outputPath string) error {
	return errUnsupported("ProcDetailsInfo")
}

func collectPorts(ctx context.Context, outputPath string) error {
	return errUnsupported("PortsInfo")
}

func errUnsupported(name string) error {
	return fmt.Errorf("collector %s is not supported on %s", name, runtime.GOOS)
}
