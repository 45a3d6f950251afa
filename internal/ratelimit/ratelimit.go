// Package ratelimit throttles per-session Feed byte throughput and Client
// command rates using a token bucket, the same shape as the teacher's
// ThrottledWriter.
package ratelimit

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// maxBurstSize caps how large a single reservation can be, so a large
// write doesn't starve the bucket for other sessions sharing the process.
const maxBurstSize = 256 * 1024

// ThrottledWriter wraps an io.Writer with a bytes/sec token bucket.
type ThrottledWriter struct {
	w       io.Writer
	limiter *rate.Limiter
	ctx     context.Context
}

// NewThrottledWriter returns w wrapped with a bytesPerSec limiter. If
// bytesPerSec <= 0, w is returned unmodified (bypass), matching the
// station-level "<=0 disables" convention in config.
func NewThrottledWriter(ctx context.Context, w io.Writer, bytesPerSec int64) io.Writer {
	if bytesPerSec <= 0 {
		return w
	}
	burst := int(bytesPerSec)
	if burst > maxBurstSize {
		burst = maxBurstSize
	}
	return &ThrottledWriter{
		w:       w,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst),
		ctx:     ctx,
	}
}

// Write implements io.Writer, splitting large writes into burst-sized
// chunks so the limiter drains gradually rather than reserving the whole
// write up front.
func (tw *ThrottledWriter) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		chunk := len(p)
		if chunk > tw.limiter.Burst() {
			chunk = tw.limiter.Burst()
		}
		if err := tw.limiter.WaitN(tw.ctx, chunk); err != nil {
			return total, err
		}
		n, err := tw.w.Write(p[:chunk])
		total += n
		if err != nil {
			return total, err
		}
		p = p[n:]
	}
	return total, nil
}

// CommandLimiter throttles how many commands/sec a Client session may
// issue during the line-protocol configuring phase, guarding against a
// misbehaving client spinning the command dispatch loop.
type CommandLimiter struct {
	limiter *rate.Limiter
}

// NewCommandLimiter returns a limiter admitting commandsPerSec commands per
// second with a burst of the same size. commandsPerSec <= 0 disables
// limiting: Allow always returns true.
func NewCommandLimiter(commandsPerSec int64) *CommandLimiter {
	if commandsPerSec <= 0 {
		return &CommandLimiter{}
	}
	return &CommandLimiter{limiter: rate.NewLimiter(rate.Limit(commandsPerSec), int(commandsPerSec))}
}

// Allow reports whether a command issued right now should be accepted.
func (c *CommandLimiter) Allow() bool {
	if c.limiter == nil {
		return true
	}
	return c.limiter.Allow()
}
