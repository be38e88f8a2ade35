package backend

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/wyyt/AGPicCompress/internal/errs"
)

// runProcess spawns an external codec executable, feeds it input on stdin
// and returns captured stdout. Stderr is preserved as the diagnostic text
// of any execution error. The process is killed when ctx is done; callers
// treat that as a timeout.
func runProcess(ctx context.Context, name, bin string, args []string, input []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, errs.Wrap(errs.KindTimeout, ctxErr, "%s aborted", name)
	}
	if errors.Is(err, exec.ErrNotFound) {
		return nil, errs.Wrap(errs.KindBackendUnavailable, err, "%s executable not found", name)
	}

	e := errs.Wrap(errs.KindBackendExecution, err, "%s failed", name)
	e.Diagnostic = strings.TrimSpace(stderr.String())
	return nil, e
}
