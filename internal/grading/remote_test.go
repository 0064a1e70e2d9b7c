package grading

import (
	"context"
	"log/slog"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

type gradeFunc func(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

func startGraderServer(t *testing.T, fn gradeFunc) *RemoteGrader {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: "inkwell.grading.v1.Grader",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "Grade",
			Handler: func(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				in := &structpb.Struct{}
				if err := dec(in); err != nil {
					return nil, err
				}
				return fn(ctx, in)
			},
		}},
	}, struct{}{})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	g := newRemoteGraderWithConn(conn, "bufnet", slog.Default())
	t.Cleanup(g.Close)
	return g
}

func TestRemoteGraderGrade(t *testing.T) {
	var got *structpb.Struct
	g := startGraderServer(t, func(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
		got = in
		return structpb.NewStruct(map[string]any{
			"composite": 82.0,
			"feedback":  "Solid.",
			"phases": map[string]any{
				"content": map[string]any{"score": 85.0, "feedback": "Good ideas."},
			},
		})
	})

	result, err := g.Grade(context.Background(), Request{
		Text:     "An essay.",
		Prompt:   testPrompt(),
		CallType: CallGrading,
		Budget:   2500,
	})
	if err != nil {
		t.Fatalf("Grade failed: %v", err)
	}
	if result.Composite != 82 || result.Feedback != "Solid." {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Phases["content"].Score != 85 {
		t.Fatalf("unexpected phases: %+v", result.Phases)
	}
	if got.GetFields()["text"].GetStringValue() != "An essay." {
		t.Fatalf("server did not receive text: %v", got)
	}
	if got.GetFields()["budget"].GetNumberValue() != 2500 {
		t.Fatalf("server did not receive budget: %v", got)
	}
}

func TestRemoteGraderMapsStatusCodes(t *testing.T) {
	tests := []struct {
		code codes.Code
		want FailureKind
	}{
		{codes.ResourceExhausted, KindRateLimited},
		{codes.DeadlineExceeded, KindTimeout},
		{codes.InvalidArgument, KindInvalidInput},
		{codes.Internal, KindModelError},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			g := startGraderServer(t, func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
				return nil, status.Error(tt.code, "nope")
			})
			_, err := g.Grade(context.Background(), Request{Text: "x", Prompt: testPrompt()})
			if kind, _ := KindOf(err); kind != tt.want {
				t.Fatalf("expected %s, got %v", tt.want, err)
			}
		})
	}
}

func TestRemoteGraderMissingComposite(t *testing.T) {
	g := startGraderServer(t, func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
		return structpb.NewStruct(map[string]any{"feedback": "?"})
	})
	_, err := g.Grade(context.Background(), Request{Text: "x", Prompt: testPrompt()})
	if kind, _ := KindOf(err); kind != KindModelError {
		t.Fatalf("expected MODEL_ERROR, got %v", err)
	}
}
