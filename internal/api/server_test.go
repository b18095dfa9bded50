package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/miradorstack/mirador-apnea/internal/config"
)

type echoServer struct{}

func (echoServer) Analyze(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return in, nil
}

func (echoServer) DetectFalseNegatives(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.InvalidArgument, "no samples")
}

type panicServer struct{ echoServer }

func (panicServer) Analyze(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	panic("boom")
}

func (echoServer) ExportClusters(context.Context, *structpb.Struct) (*wrapperspb.StringValue, error) {
	return wrapperspb.String("index,start,end,durationSec,count,severity"), nil
}

func startServer(t *testing.T, srv AnalysisServer) *AnalysisClient {
	t.Helper()
	server, err := NewServer(config.ServerConfig{Address: "127.0.0.1:0", GracefulTimeout: time.Second}, srv, nil)
	require.NoError(t, err)
	go func() { _ = server.Start() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), server.GracefulTimeout())
		defer cancel()
		server.Shutdown(ctx)
	})

	conn, err := grpc.NewClient(server.Address(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	return NewAnalysisClient(conn)
}

func TestServerRoutesMethods(t *testing.T) {
	client := startServer(t, echoServer{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	in, err := structpb.NewStruct(map[string]any{"session_id": "s-1"})
	require.NoError(t, err)

	out, err := client.Analyze(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "s-1", out.GetFields()["session_id"].GetStringValue())

	_, err = client.DetectFalseNegatives(ctx, in)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	csv, err := client.ExportClusters(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "index,start,end,durationSec,count,severity", csv.GetValue())
}

func TestServerRecoversHandlerPanic(t *testing.T) {
	client := startServer(t, panicServer{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Analyze(ctx, &structpb.Struct{})
	assert.Equal(t, codes.Internal, status.Code(err))

	csv, err := client.ExportClusters(ctx, &structpb.Struct{})
	require.NoError(t, err)
	assert.NotEmpty(t, csv.GetValue())
}
