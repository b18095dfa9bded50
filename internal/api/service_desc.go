package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "mirador.apnea.v1.ApneaAnalysis"

// Full method names.
const (
	AnalyzeMethod              = "/" + ServiceName + "/Analyze"
	DetectFalseNegativesMethod = "/" + ServiceName + "/DetectFalseNegatives"
	ExportClustersMethod       = "/" + ServiceName + "/ExportClusters"
)

// AnalysisServer is the server API of the apnea analysis service. Payloads are JSON objects
// carried in google.protobuf.Struct; see AnalysisRequestDTO.
type AnalysisServer interface {
	Analyze(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DetectFalseNegatives(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ExportClusters(context.Context, *structpb.Struct) (*wrapperspb.StringValue, error)
}

// RegisterAnalysisServer registers srv with the gRPC server.
func RegisterAnalysisServer(s grpc.ServiceRegistrar, srv AnalysisServer) {
	s.RegisterService(&AnalysisServiceDesc, srv)
}

// AnalysisServiceDesc describes the service for grpc.Server.
var AnalysisServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AnalysisServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Analyze", Handler: analyzeHandler},
		{MethodName: "DetectFalseNegatives", Handler: detectFalseNegativesHandler},
		{MethodName: "ExportClusters", Handler: exportClustersHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mirador/apnea/v1/apnea.proto",
}

func analyzeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AnalysisServer).Analyze(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AnalyzeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AnalysisServer).Analyze(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func detectFalseNegativesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AnalysisServer).DetectFalseNegatives(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: DetectFalseNegativesMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AnalysisServer).DetectFalseNegatives(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func exportClustersHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AnalysisServer).ExportClusters(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ExportClustersMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AnalysisServer).ExportClusters(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// AnalysisClient calls the analysis service.
type AnalysisClient struct {
	cc grpc.ClientConnInterface
}

// NewAnalysisClient wraps a client connection.
func NewAnalysisClient(cc grpc.ClientConnInterface) *AnalysisClient {
	return &AnalysisClient{cc: cc}
}

// Analyze runs a full analysis.
func (c *AnalysisClient) Analyze(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, AnalyzeMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// DetectFalseNegatives runs only the false-negative detector.
func (c *AnalysisClient) DetectFalseNegatives(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, DetectFalseNegativesMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ExportClusters returns the finalized clusters as CSV.
func (c *AnalysisClient) ExportClusters(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, ExportClustersMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
