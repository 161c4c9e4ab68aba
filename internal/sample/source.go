package sample

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ErrSourceUnavailable is returned when the status source cannot produce a
// dump: the command failed, timed out, or the UAPI socket was unreachable.
var ErrSourceUnavailable = errors.New("status source unavailable")

// Source produces the current per-peer samples.
type Source interface {
	Samples(ctx context.Context, now time.Time) ([]Sample, error)
}

// CommandSource runs an external command printing `wg show all dump` output.
type CommandSource struct {
	Argv    []string
	Timeout time.Duration
}

func (s *CommandSource) Samples(ctx context.Context, now time.Time) ([]Sample, error) {
	out, err := s.run(ctx)
	if err != nil {
		return nil, err
	}
	return ParseDump(string(out), now), nil
}

func (s *CommandSource) run(ctx context.Context) ([]byte, error) {
	if len(s.Argv) == 0 {
		return nil, fmt.Errorf("%w: no command configured", ErrSourceUnavailable)
	}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, s.Argv[0], s.Argv[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s timed out after %s", ErrSourceUnavailable, s.Argv[0], s.Timeout)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s: %v: %s", ErrSourceUnavailable, s.Argv[0], err, msg)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, s.Argv[0], err)
	}
	return out, nil
}

// UAPISource queries WireGuard UAPI sockets (<dir>/<iface>.sock) directly.
type UAPISource struct {
	SocketDir  string
	Interfaces []string
	Timeout    time.Duration
}

func (s *UAPISource) Samples(ctx context.Context, now time.Time) ([]Sample, error) {
	var samples []Sample
	for _, iface := range s.Interfaces {
		text, err := s.get(ctx, iface)
		if err != nil {
			return nil, err
		}
		samples = append(samples, ParseUAPI(iface, text, now)...)
	}
	return samples, nil
}

func (s *UAPISource) get(ctx context.Context, iface string) (string, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	path := filepath.Join(s.SocketDir, iface+".sock")
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return "", fmt.Errorf("%w: dial %s: %v", ErrSourceUnavailable, path, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if _, err := conn.Write([]byte("get=1\n\n")); err != nil {
		return "", fmt.Errorf("%w: write %s: %v", ErrSourceUnavailable, path, err)
	}

	var b strings.Builder
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("%w: read %s: %v", ErrSourceUnavailable, path, err)
		}
		if line == "\n" {
			break
		}
		b.WriteString(line)
	}

	reply := b.String()
	if errno := uapiErrno(reply); errno != "0" && errno != "" {
		return "", fmt.Errorf("%w: %s: errno=%s", ErrSourceUnavailable, path, errno)
	}
	return reply, nil
}

func uapiErrno(reply string) string {
	for _, line := range strings.Split(reply, "\n") {
		if v, ok := strings.CutPrefix(line, "errno="); ok {
			return v
		}
	}
	return ""
}

// StaticSource returns a fixed dump; used by `collect -dump` and in tests.
type StaticSource struct {
	Dump string
	Err  error
}

func (s *StaticSource) Samples(_ context.Context, now time.Time) ([]Sample, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return ParseDump(s.Dump, now), nil
}
