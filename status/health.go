// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package status exposes the simulation's run state over the standard gRPC
// health checking protocol.
//
// The overall server status and the ServiceName service both report
// SERVING while the bridge can still step, and NOT_SERVING once the target
// has exited.
package status

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported for the bridge.
const ServiceName = "cosim.Bridge"

// Service is a gRPC health server.
type Service struct {
	health *health.Server
	grpc   *grpc.Server
	log    *zap.Logger

	mu sync.Mutex
	ln net.Listener
}

// New creates a health service reporting SERVING. If log is nil, a no-op
// logger is used.
func New(log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		health: health.NewServer(),
		grpc:   grpc.NewServer(),
		log:    log,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.SetServing(true)
	return s
}

// SetServing updates the reported status.
func (s *Service) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
	s.log.Debug("status changed", zap.Stringer("status", st))
}

// Listen opens a TCP listener on addr.
func (s *Service) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("status: listen on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.log.Info("listening", zap.Stringer("addr", ln.Addr()))
	return nil
}

// Addr returns the listener's address, or nil if the service isn't
// listening.
func (s *Service) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve answers health checks on the listener opened by Listen until ctx is
// cancelled.
func (s *Service) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return errors.New("status: service is not listening")
	}

	stop := context.AfterFunc(ctx, func() {
		s.health.Shutdown()
		s.grpc.Stop()
	})
	defer stop()

	err := s.grpc.Serve(ln)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("status: serve: %w", err)
	}
	return nil
}
