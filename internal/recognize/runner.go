package recognize

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Runner lets us stub external commands in tests.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	dur := time.Since(start)

	if err != nil {
		log.Error().
			Str("cmd", name).
			Str("args", strings.Join(args, " ")).
			Int64("duration_ms", dur.Milliseconds()).
			Err(err).
			Str("stderr", truncate(errb.String(), 8<<10)).
			Msg("exec failed")
	} else {
		log.Debug().
			Str("cmd", name).
			Str("args", strings.Join(args, " ")).
			Int64("duration_ms", dur.Milliseconds()).
			Int("stdout_bytes", out.Len()).
			Msg("exec ok")
	}
	return out.Bytes(), errb.Bytes(), err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
