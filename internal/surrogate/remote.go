package surrogate

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/nonwoven-sim/internal/vars"
)

// #region wire

// PredictMethod is the full gRPC method name served by Server.
//
// Request fields: model (string), latent (bool), observation_noise_only (bool),
// inputs (struct of numbers). Response fields: mean, variance.
const PredictMethod = "/surrogate.v1.SurrogateService/Predict"

func encodeRequest(model string, latent, noiseOnly bool, x vars.Values) (*structpb.Struct, error) {
	inputs := make(map[string]any, len(x))
	for k, v := range x {
		inputs[k] = v
	}
	return structpb.NewStruct(map[string]any{
		"model":                  model,
		"latent":                 latent,
		"observation_noise_only": noiseOnly,
		"inputs":                 inputs,
	})
}

// #endregion wire

// #region remote

// Remote calls a model hosted by a surrogate server over gRPC.
type Remote struct {
	conn  *grpc.ClientConn
	cc    grpc.ClientConnInterface
	model string
}

// DialRemote creates a client for model at addr. Without dial options the
// connection is plaintext.
func DialRemote(addr, model string, opts ...grpc.DialOption) (*Remote, error) {
	if addr == "" {
		return nil, fmt.Errorf("remote model %s: empty address", model)
	}
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Remote{conn: conn, cc: conn, model: model}, nil
}

// NewRemoteWithConn uses an existing connection. Close leaves it open.
func NewRemoteWithConn(cc grpc.ClientConnInterface, model string) *Remote {
	return &Remote{cc: cc, model: model}
}

// PredictF asks the server for the latent posterior.
func (r *Remote) PredictF(ctx context.Context, x vars.Values) (Prediction, error) {
	return r.predict(ctx, x, true, false)
}

// PredictY asks the server for the observation posterior.
func (r *Remote) PredictY(ctx context.Context, x vars.Values, observationNoiseOnly bool) (Prediction, error) {
	return r.predict(ctx, x, false, observationNoiseOnly)
}

func (r *Remote) predict(ctx context.Context, x vars.Values, latent, noiseOnly bool) (Prediction, error) {
	req, err := encodeRequest(r.model, latent, noiseOnly, x)
	if err != nil {
		return Prediction{}, fmt.Errorf("encode request: %w", err)
	}
	resp := new(structpb.Struct)
	if err := r.cc.Invoke(ctx, PredictMethod, req, resp); err != nil {
		return Prediction{}, fmt.Errorf("predict rpc: %w", err)
	}
	mean, ok := resp.GetFields()["mean"]
	if !ok {
		return Prediction{}, fmt.Errorf("predict rpc: response has no mean")
	}
	variance := resp.GetFields()["variance"]
	return Prediction{Mean: mean.GetNumberValue(), Variance: variance.GetNumberValue()}, nil
}

// Close shuts down a connection opened by DialRemote.
func (r *Remote) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

// #endregion remote

// #region server

// PredictServer is the service implemented by Server.
type PredictServer interface {
	Predict(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "surrogate.v1.SurrogateService",
	HandlerType: (*PredictServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Predict", Handler: predictHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "surrogate/v1/surrogate.proto",
}

func predictHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PredictServer).Predict(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PredictMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PredictServer).Predict(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Server exposes local models over gRPC.
type Server struct {
	mu     sync.RWMutex
	models map[string]Model
}

// NewServer serves the given models by id.
func NewServer(models map[string]Model) *Server {
	return &Server{models: models}
}

// SetModels swaps the served model set. In-flight calls finish on the old set.
func (s *Server) SetModels(models map[string]Model) {
	s.mu.Lock()
	s.models = models
	s.mu.Unlock()
}

// Register attaches the service to a gRPC server.
func (s *Server) Register(g *grpc.Server) {
	g.RegisterService(&serviceDesc, s)
}

// Predict evaluates one model.
func (s *Server) Predict(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	name := fields["model"].GetStringValue()
	s.mu.RLock()
	m, ok := s.models[name]
	s.mu.RUnlock()
	if !ok {
		return nil, status.Errorf(codes.NotFound, "unknown model %q", name)
	}
	x := make(vars.Values)
	for k, v := range fields["inputs"].GetStructValue().GetFields() {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "input %q is not a number", k)
		}
		x[k] = n.NumberValue
	}

	var (
		p   Prediction
		err error
	)
	if fields["latent"].GetBoolValue() {
		p, err = m.PredictF(ctx, x)
	} else {
		p, err = m.PredictY(ctx, x, fields["observation_noise_only"].GetBoolValue())
	}
	if err != nil {
		return nil, status.Errorf(codes.Internal, "predict %s: %v", name, err)
	}
	return structpb.NewStruct(map[string]any{"mean": p.Mean, "variance": p.Variance})
}

// #endregion server
