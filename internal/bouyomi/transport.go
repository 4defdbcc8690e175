package bouyomi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/loqa-bouyomi/internal/bouyomi"

type instruments struct {
	tracer   trace.Tracer
	commands metric.Int64Counter
	latency  metric.Float64Histogram
}

// newInstruments creates the client's span and metric instruments. An
// instrument that fails to register is left nil and skipped when recording.
func newInstruments() (instruments, error) {
	meter := otel.Meter(instrumentationName)
	inst := instruments{tracer: otel.Tracer(instrumentationName)}
	var cErr, lErr error
	inst.commands, cErr = meter.Int64Counter("bouyomi.commands",
		metric.WithDescription("Commands sent to BouyomiChan by outcome"))
	if cErr != nil {
		inst.commands = nil
		cErr = fmt.Errorf("create bouyomi.commands counter: %w", cErr)
	}
	inst.latency, lErr = meter.Float64Histogram("bouyomi.command.duration",
		metric.WithDescription("Time spent on one BouyomiChan exchange"),
		metric.WithUnit("s"))
	if lErr != nil {
		inst.latency = nil
		lErr = fmt.Errorf("create bouyomi.command.duration histogram: %w", lErr)
	}
	return inst, errors.Join(cErr, lErr)
}

// exchange performs one connect-write-(read)-close cycle. The response byte
// is only meaningful for commands where HasResponse is true.
func (c *Client) exchange(ctx context.Context, cmd Command, packet []byte) (resp byte, err error) {
	ctx, span := c.inst.tracer.Start(ctx, "bouyomi."+cmd.String(),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("bouyomi.command", cmd.String()),
			attribute.String("server.address", c.host),
			attribute.String("server.port", c.port),
		))
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			var e *Error
			if errors.As(err, &e) {
				outcome = string(e.Kind)
			}
		}
		attrs := metric.WithAttributes(
			attribute.String("command", cmd.String()),
			attribute.String("outcome", outcome),
		)
		if c.inst.commands != nil {
			c.inst.commands.Add(ctx, 1, attrs)
		}
		if c.inst.latency != nil {
			c.inst.latency.Record(ctx, time.Since(start).Seconds(), attrs)
		}
		span.End()
	}()

	dialer := net.Dialer{Timeout: c.connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.Addr())
	if err != nil {
		c.logger.Debug("failed to connect to bouyomichan", slog.String("addr", c.Addr()), slogError(err))
		return 0, &Error{Op: cmd, Kind: KindConnect, Cause: err}
	}
	defer conn.Close()

	if c.ioTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.ioTimeout))
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	n, err := conn.Write(packet)
	if err != nil {
		return 0, &Error{Op: cmd, Kind: KindWrite, Cause: err}
	}
	if n != len(packet) {
		return 0, &Error{Op: cmd, Kind: KindWrite, Cause: io.ErrShortWrite}
	}

	if !cmd.HasResponse() {
		c.logger.Debug("command sent", slog.String("command", cmd.String()), slog.Int("bytes", n))
		return 0, nil
	}

	// The application closes the connection after writing its answer.
	data, err := io.ReadAll(conn)
	if err != nil {
		return 0, &Error{Op: cmd, Kind: KindRead, Cause: err}
	}
	if len(data) == 0 {
		return 0, &Error{Op: cmd, Kind: KindProtocol, Cause: ErrEmptyResponse}
	}
	c.logger.Debug("query answered", slog.String("command", cmd.String()), slog.Int("value", int(data[0])))
	return data[0], nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
