package core

import (
	"context"
	"sort"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/DanrwAU/zenwifi/internal/rpcdesc"
)

const (
	RegistryServiceName = "zenwifi.v1.EntityRegistry"
	registryProtoPath   = "zenwifi/v1/registry.proto"
)

// RegistryServer is the server API of the entity registry.
type RegistryServer interface {
	ListPlugins(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	DescribePlugin(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	ListEntities(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	DescribeEntity(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
}

// RegistryService provides plugin and entity discovery to clients.
type RegistryService struct {
	plugins []Plugin
	mu      sync.RWMutex
}

func NewRegistryService(plugins []Plugin) *RegistryService {
	return &RegistryService{plugins: plugins}
}

// RegisterRegistryServer describes the registry for reflection and mounts
// it on server.
func RegisterRegistryServer(server *grpc.Server, impl RegistryServer) error {
	if _, err := rpcdesc.Register(registryProtoPath, "zenwifi.v1", rpcdesc.Service{
		Name: "EntityRegistry",
		Methods: []rpcdesc.Method{
			{Name: "ListPlugins", Input: "google.protobuf.Empty", Output: "google.protobuf.Struct"},
			{Name: "DescribePlugin", Input: "google.protobuf.StringValue", Output: "google.protobuf.Struct"},
			{Name: "ListEntities", Input: "google.protobuf.Empty", Output: "google.protobuf.Struct"},
			{Name: "DescribeEntity", Input: "google.protobuf.StringValue", Output: "google.protobuf.Struct"},
		},
	}); err != nil {
		return err
	}
	server.RegisterService(&registryServiceDesc, impl)
	return nil
}

func newEmpty() *emptypb.Empty { return &emptypb.Empty{} }

func newString() *wrapperspb.StringValue { return &wrapperspb.StringValue{} }

var registryServiceDesc = grpc.ServiceDesc{
	ServiceName: RegistryServiceName,
	HandlerType: (*RegistryServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ListPlugins",
			Handler: rpcdesc.Unary("/"+RegistryServiceName+"/ListPlugins", newEmpty,
				func(ctx context.Context, srv any, req *emptypb.Empty) (proto.Message, error) {
					return srv.(RegistryServer).ListPlugins(ctx, req)
				}),
		},
		{
			MethodName: "DescribePlugin",
			Handler: rpcdesc.Unary("/"+RegistryServiceName+"/DescribePlugin", newString,
				func(ctx context.Context, srv any, req *wrapperspb.StringValue) (proto.Message, error) {
					return srv.(RegistryServer).DescribePlugin(ctx, req)
				}),
		},
		{
			MethodName: "ListEntities",
			Handler: rpcdesc.Unary("/"+RegistryServiceName+"/ListEntities", newEmpty,
				func(ctx context.Context, srv any, req *emptypb.Empty) (proto.Message, error) {
					return srv.(RegistryServer).ListEntities(ctx, req)
				}),
		},
		{
			MethodName: "DescribeEntity",
			Handler: rpcdesc.Unary("/"+RegistryServiceName+"/DescribeEntity", newString,
				func(ctx context.Context, srv any, req *wrapperspb.StringValue) (proto.Message, error) {
					return srv.(RegistryServer).DescribeEntity(ctx, req)
				}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: registryProtoPath,
}

// PluginSummary is one row of ListPlugins.
type PluginSummary struct {
	PluginID    string `json:"plugin_id"`
	DisplayName string `json:"display_name"`
	Version     string `json:"version"`
	Status      string `json:"status"`
}

// PluginDescriptor is the DescribePlugin payload.
type PluginDescriptor struct {
	PluginSummary
	Services      []string            `json:"services"`
	HealthMessage string              `json:"health_message,omitempty"`
	Dashboards    []DashboardLink     `json:"dashboards,omitempty"`
	Entities      []EntityDescription `json:"entities,omitempty"`
}

type DashboardLink struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

func (r *RegistryService) ListPlugins(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	summaries := make([]PluginSummary, 0, len(r.plugins))
	for _, p := range r.plugins {
		summaries = append(summaries, summarize(p))
	}
	return toStruct(map[string]any{"plugins": summaries})
}

func (r *RegistryService) DescribePlugin(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		manifest := p.Manifest()
		if manifest.PluginID != req.GetValue() {
			continue
		}

		descriptor := PluginDescriptor{
			PluginSummary: summarize(p),
			Services:      manifest.Services,
			HealthMessage: p.HealthMessage(),
		}
		for _, d := range p.Dashboards() {
			descriptor.Dashboards = append(descriptor.Dashboards, DashboardLink{
				Name: d.Name,
				Path: DashboardPath(manifest.PluginID, d.Name),
			})
		}
		for _, e := range p.Entities() {
			descriptor.Entities = append(descriptor.Entities, e.Description())
		}
		return toStruct(descriptor)
	}

	return nil, status.Errorf(codes.NotFound, "plugin %q not found", req.GetValue())
}

func (r *RegistryService) ListEntities(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	_ = ctx

	r.mu.RLock()
	entities := CollectEntities(r.plugins)
	r.mu.RUnlock()

	states := make([]EntityState, 0, len(entities))
	for _, e := range entities {
		states = append(states, Snapshot(e))
	}
	sort.Slice(states, func(i, j int) bool { return states[i].UniqueID < states[j].UniqueID })
	return toStruct(map[string]any{"entities": states})
}

func (r *RegistryService) DescribeEntity(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	_ = ctx

	r.mu.RLock()
	entities := CollectEntities(r.plugins)
	r.mu.RUnlock()

	for _, e := range entities {
		if e.Description().UniqueID == req.GetValue() {
			return toStruct(Snapshot(e))
		}
	}
	return nil, status.Errorf(codes.NotFound, "entity %q not found", req.GetValue())
}

func summarize(p Plugin) PluginSummary {
	manifest := p.Manifest()
	return PluginSummary{
		PluginID:    manifest.PluginID,
		DisplayName: manifest.DisplayName,
		Version:     manifest.Version,
		Status:      string(p.Health()),
	}
}

func toStruct(v any) (*structpb.Struct, error) {
	out, err := rpcdesc.Struct(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}
