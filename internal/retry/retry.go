// Package retry classifies remote failures and applies the wait policies
// used by the sync passes and monitoring loops.
package retry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/alanyoungcy/polymon/internal/domain"
)

// Kind is the failure classification. The set is closed: anything that
// does not match a known kind stays KindUnknown and is not retried.
type Kind int

const (
	KindUnknown Kind = iota
	KindConnectivity
	KindTimeout
	KindRemoteServer
)

// String returns the log label for the kind.
func (k Kind) String() string {
	switch k {
	case KindConnectivity:
		return "connectivity"
	case KindTimeout:
		return "timeout"
	case KindRemoteServer:
		return "remote_server"
	default:
		return "unknown"
	}
}

// Fixed waits per failure kind, in units of Governor.unit.
const (
	connectivityWaitUnits = 60
	timeoutWaitUnits      = 30
	remoteWaitUnits       = 120
)

// Classify maps an error to a failure kind. Timeouts are checked before
// connectivity because deadline errors often wrap net.OpError.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	if errors.Is(err, domain.ErrRemoteServer) || errors.Is(err, domain.ErrRateLimited) {
		return KindRemoteServer
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return KindConnectivity
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindConnectivity
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindConnectivity
	}

	return KindUnknown
}

// Governor retries operations whose failures classify to a known kind,
// waiting a fixed per-kind interval between attempts. Unknown failures
// are returned to the caller; during bootstrap that makes them fatal.
type Governor struct {
	unit   time.Duration
	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger
}

// New creates a Governor with the production time unit of one second.
func New(logger *slog.Logger) *Governor {
	return &Governor{
		unit:   time.Second,
		sleep:  sleepCtx,
		logger: logger.With(slog.String("component", "retry")),
	}
}

// waitFor returns the fixed wait for a classified failure kind.
func (g *Governor) waitFor(k Kind) time.Duration {
	switch k {
	case KindConnectivity:
		return connectivityWaitUnits * g.unit
	case KindTimeout:
		return timeoutWaitUnits * g.unit
	case KindRemoteServer:
		return remoteWaitUnits * g.unit
	default:
		return 0
	}
}

// Do runs fn until it succeeds, retrying classified failures indefinitely.
// It returns the first unknown failure, or the context error once the
// context is cancelled.
func (g *Governor) Do(ctx context.Context, name string, fn func(context.Context) error) error {
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		kind := Classify(err)
		if kind == KindUnknown {
			return err
		}

		wait := g.waitFor(kind)
		g.logger.Warn("operation failed, retrying",
			slog.String("op", name),
			slog.String("kind", kind.String()),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
		if err := g.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Backoff tracks consecutive failures for a monitoring loop and produces
// the exponential wait between passes. When the consecutive-failure count
// reaches the configured maximum the counter resets and Fail reports the
// threshold as reached so the caller can raise a critical alert.
type Backoff struct {
	base     time.Duration
	max      int
	failures int
}

// NewBackoff creates a Backoff with the given base interval and maximum
// consecutive failures.
func NewBackoff(base time.Duration, maxConsecutive int) *Backoff {
	return &Backoff{base: base, max: maxConsecutive}
}

// Fail registers one failure. It returns the wait before the next pass
// (base * 2^failures) and whether the consecutive-failure threshold was
// reached on this call.
func (b *Backoff) Fail() (wait time.Duration, critical bool) {
	b.failures++
	if b.max > 0 && b.failures >= b.max {
		b.failures = 0
		critical = true
	}
	return b.base * (1 << b.failures), critical
}

// Reset clears the consecutive-failure counter after a successful pass.
func (b *Backoff) Reset() {
	b.failures = 0
}

// Failures returns the current consecutive-failure count.
func (b *Backoff) Failures() int {
	return b.failures
}

// sleepCtx waits for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
