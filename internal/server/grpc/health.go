// Package grpcserver runs the admin gRPC endpoint: grpc.health.v1 backed by
// dependency probes, plus reflection in development.
package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported alongside the overall ("") status.
const ServiceName = "securelink.v1.SecureLink"

// DefaultProbeTimeout bounds a single probe.
const DefaultProbeTimeout = 3 * time.Second

// Probe checks one dependency.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// Health keeps the gRPC health status in line with dependency probes.
type Health struct {
	srv     *health.Server
	probes  []Probe
	timeout time.Duration
	log     *zap.Logger
}

// NewHealth creates a health tracker. Status starts as NOT_SERVING until the first check.
func NewHealth(log *zap.Logger, probes ...Probe) *Health {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Health{srv: health.NewServer(), probes: probes, timeout: DefaultProbeTimeout, log: log}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Server exposes the underlying grpc health server.
func (h *Health) Server() *health.Server { return h.srv }

// Check runs all probes, updates the serving status and returns the joined failures.
func (h *Health) Check(ctx context.Context) error {
	var failed []error
	for _, p := range h.probes {
		pctx, cancel := context.WithTimeout(ctx, h.timeout)
		err := p.Check(pctx)
		cancel()
		if err != nil {
			failed = append(failed, fmt.Errorf("%s: %w", p.Name, err))
		}
	}
	err := errors.Join(failed...)
	if err != nil {
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return err
	}
	h.set(healthpb.HealthCheckResponse_SERVING)
	return nil
}

// Run checks every interval until ctx is done, then marks the server as shut down.
func (h *Health) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if err := h.Check(ctx); err != nil && ctx.Err() == nil {
			h.log.Warn("dependency probe failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		case <-t.C:
		}
	}
}

func (h *Health) set(st healthpb.HealthCheckResponse_ServingStatus) {
	h.srv.SetServingStatus("", st)
	h.srv.SetServingStatus(ServiceName, st)
}
