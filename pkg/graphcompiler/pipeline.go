package graphcompiler

import (
	"fmt"
	"os/exec"
	"strings"
)

// runSink wires src's stdout to sink's stdin and runs both to completion.
// sink is expected to write its real output to a file itself (as
// compile-graph-agf does, given an output path argument) rather than to
// stdout, so only stderr is captured for error reporting.
func runSink(src, sink *exec.Cmd) error {
	pipe, err := src.StdoutPipe()
	if err != nil {
		return err
	}
	sink.Stdin = pipe

	var srcErr, sinkErr strings.Builder
	src.Stderr = &srcErr
	sink.Stderr = &sinkErr

	if err := src.Start(); err != nil {
		return fmt.Errorf("start %s: %w", src.Path, err)
	}
	if err := sink.Start(); err != nil {
		return fmt.Errorf("start %s: %w", sink.Path, err)
	}

	srcWaitErr := src.Wait()
	sinkWaitErr := sink.Wait()

	if srcWaitErr != nil {
		return fmt.Errorf("%s: %w: %s", src.Path, srcWaitErr, strings.TrimSpace(srcErr.String()))
	}
	if sinkWaitErr != nil {
		return fmt.Errorf("%s: %w: %s", sink.Path, sinkWaitErr, strings.TrimSpace(sinkErr.String()))
	}
	return nil
}
