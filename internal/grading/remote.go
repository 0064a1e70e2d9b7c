package grading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/ashureev/inkwell/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// gradeMethod is the full gRPC method name served by the remote grading service.
const gradeMethod = "/inkwell.grading.v1.Grader/Grade"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// RemoteGrader delegates grading to an out-of-process service over gRPC.
// Requests and responses are google.protobuf.Struct messages.
type RemoteGrader struct {
	conn   *grpc.ClientConn
	addr   string
	logger *slog.Logger
	now    func() time.Time
}

// RemoteGraderConfig holds configuration for the gRPC client.
type RemoteGraderConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultRemoteGraderConfig returns default configuration.
func DefaultRemoteGraderConfig(addr string) RemoteGraderConfig {
	return RemoteGraderConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewRemoteGrader dials the grading service and waits until the connection
// is ready so that a bad endpoint fails at startup.
func NewRemoteGrader(cfg RemoteGraderConfig, logger *slog.Logger) (*RemoteGrader, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := grpc.NewClient(cfg.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                cfg.KeepaliveTime,
			Timeout:             cfg.KeepaliveTimeout,
			PermitWithoutStream: false,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create grading client for %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("grading service at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to grading service", "address", cfg.Address)
	return newRemoteGraderWithConn(conn, cfg.Address, logger), nil
}

func newRemoteGraderWithConn(conn *grpc.ClientConn, addr string, logger *slog.Logger) *RemoteGrader {
	return &RemoteGrader{
		conn:   conn,
		addr:   addr,
		logger: logger.With("component", "remote_grader"),
		now:    time.Now,
	}
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (g *RemoteGrader) Close() {
	if g.conn != nil {
		if err := g.conn.Close(); err != nil {
			g.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Grade implements Grader.
func (g *RemoteGrader) Grade(ctx context.Context, req Request) (*domain.GradingResult, error) {
	in, err := encodeRequest(req)
	if err != nil {
		return nil, Fail(KindInvalidInput, err)
	}

	out := &structpb.Struct{}
	start := time.Now()
	if err := g.conn.Invoke(ctx, gradeMethod, in, out); err != nil {
		g.logger.Warn("Remote grading failed", "error", err, "call_type", req.CallType, "elapsed", time.Since(start))
		return nil, classifyStatus(ctx, err)
	}

	result, err := decodeResult(out)
	if err != nil {
		return nil, Fail(KindModelError, err)
	}
	result.GradedAt = g.now()
	return result, nil
}

func encodeRequest(req Request) (*structpb.Struct, error) {
	fields := map[string]any{
		"text":      req.Text,
		"call_type": string(req.CallType),
		"budget":    req.Budget,
		"selection": req.Selection,
	}
	if req.Prompt != nil {
		fields["prompt"] = map[string]any{
			"id":    req.Prompt.ID,
			"title": req.Prompt.Title,
			"body":  req.Prompt.Body,
		}
	}
	if req.Previous != nil && req.Previous.Result != nil {
		fields["previous"] = map[string]any{
			"draft":     req.Previous.Draft,
			"composite": req.Previous.Result.Composite,
			"feedback":  req.Previous.Result.Feedback,
		}
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode grading request: %w", err)
	}
	return s, nil
}

func decodeResult(s *structpb.Struct) (*domain.GradingResult, error) {
	fields := s.GetFields()
	composite, ok := fields["composite"]
	if !ok {
		return nil, errors.New("grading response has no composite")
	}

	result := &domain.GradingResult{
		Composite: clampScore(composite.GetNumberValue()),
		Feedback:  fields["feedback"].GetStringValue(),
		Phases:    make(map[string]domain.PhaseScore),
	}
	for name, v := range fields["phases"].GetStructValue().GetFields() {
		phase := v.GetStructValue().GetFields()
		result.Phases[name] = domain.PhaseScore{
			Score:    clampScore(phase["score"].GetNumberValue()),
			Feedback: phase["feedback"].GetStringValue(),
		}
	}
	return result, nil
}

func classifyStatus(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Fail(KindTimeout, err)
	}
	switch status.Code(err) {
	case codes.ResourceExhausted:
		return Fail(KindRateLimited, err)
	case codes.DeadlineExceeded:
		return Fail(KindTimeout, err)
	case codes.InvalidArgument:
		return Fail(KindInvalidInput, err)
	default:
		return Fail(KindModelError, err)
	}
}

func clampScore(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
