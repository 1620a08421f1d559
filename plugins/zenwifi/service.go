package zenwifi

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/DanrwAU/zenwifi/internal/rate"
	"github.com/DanrwAU/zenwifi/internal/rpcdesc"
)

const (
	ThermostatServiceName = "zenwifi.v1.ThermostatService"
	thermostatProtoPath   = "zenwifi/v1/thermostat.proto"
)

// ThermostatServer is the server API of the thermostat service. Requests
// that carry several fields are protobuf Structs with snake_case keys.
type ThermostatServer interface {
	ListThermostats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetThermostat(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	SetHvacMode(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	SetTemperature(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	TurnOn(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	TurnOff(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	Refresh(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	CheckCondition(context.Context, *structpb.Struct) (*wrapperspb.BoolValue, error)
}

type service struct {
	plugin *Plugin
}

var thermostatMethods = []rpcdesc.Method{
	{Name: "ListThermostats", Input: "google.protobuf.Empty", Output: "google.protobuf.Struct"},
	{Name: "GetThermostat", Input: "google.protobuf.StringValue", Output: "google.protobuf.Struct"},
	{Name: "SetHvacMode", Input: "google.protobuf.Struct", Output: "google.protobuf.Empty"},
	{Name: "SetTemperature", Input: "google.protobuf.Struct", Output: "google.protobuf.Empty"},
	{Name: "TurnOn", Input: "google.protobuf.StringValue", Output: "google.protobuf.Empty"},
	{Name: "TurnOff", Input: "google.protobuf.StringValue", Output: "google.protobuf.Empty"},
	{Name: "Refresh", Input: "google.protobuf.Empty", Output: "google.protobuf.Struct"},
	{Name: "CheckCondition", Input: "google.protobuf.Struct", Output: "google.protobuf.BoolValue"},
}

// RegisterThermostatService describes the service for reflection and
// mounts it on server.
func RegisterThermostatService(server *grpc.Server, plugin *Plugin) error {
	if _, err := rpcdesc.Register(thermostatProtoPath, "zenwifi.v1", rpcdesc.Service{
		Name:    "ThermostatService",
		Methods: thermostatMethods,
	}); err != nil {
		return err
	}
	server.RegisterService(&thermostatServiceDesc, &service{plugin: plugin})
	return nil
}

func newEmpty() *emptypb.Empty { return &emptypb.Empty{} }

func newString() *wrapperspb.StringValue { return &wrapperspb.StringValue{} }

func newStruct() *structpb.Struct { return &structpb.Struct{} }

func fullMethod(name string) string {
	return "/" + ThermostatServiceName + "/" + name
}

var thermostatServiceDesc = grpc.ServiceDesc{
	ServiceName: ThermostatServiceName,
	HandlerType: (*ThermostatServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ListThermostats",
			Handler: rpcdesc.Unary(fullMethod("ListThermostats"), newEmpty,
				func(ctx context.Context, srv any, req *emptypb.Empty) (proto.Message, error) {
					return srv.(ThermostatServer).ListThermostats(ctx, req)
				}),
		},
		{
			MethodName: "GetThermostat",
			Handler: rpcdesc.Unary(fullMethod("GetThermostat"), newString,
				func(ctx context.Context, srv any, req *wrapperspb.StringValue) (proto.Message, error) {
					return srv.(ThermostatServer).GetThermostat(ctx, req)
				}),
		},
		{
			MethodName: "SetHvacMode",
			Handler: rpcdesc.Unary(fullMethod("SetHvacMode"), newStruct,
				func(ctx context.Context, srv any, req *structpb.Struct) (proto.Message, error) {
					return srv.(ThermostatServer).SetHvacMode(ctx, req)
				}),
		},
		{
			MethodName: "SetTemperature",
			Handler: rpcdesc.Unary(fullMethod("SetTemperature"), newStruct,
				func(ctx context.Context, srv any, req *structpb.Struct) (proto.Message, error) {
					return srv.(ThermostatServer).SetTemperature(ctx, req)
				}),
		},
		{
			MethodName: "TurnOn",
			Handler: rpcdesc.Unary(fullMethod("TurnOn"), newString,
				func(ctx context.Context, srv any, req *wrapperspb.StringValue) (proto.Message, error) {
					return srv.(ThermostatServer).TurnOn(ctx, req)
				}),
		},
		{
			MethodName: "TurnOff",
			Handler: rpcdesc.Unary(fullMethod("TurnOff"), newString,
				func(ctx context.Context, srv any, req *wrapperspb.StringValue) (proto.Message, error) {
					return srv.(ThermostatServer).TurnOff(ctx, req)
				}),
		},
		{
			MethodName: "Refresh",
			Handler: rpcdesc.Unary(fullMethod("Refresh"), newEmpty,
				func(ctx context.Context, srv any, req *emptypb.Empty) (proto.Message, error) {
					return srv.(ThermostatServer).Refresh(ctx, req)
				}),
		},
		{
			MethodName: "CheckCondition",
			Handler: rpcdesc.Unary(fullMethod("CheckCondition"), newStruct,
				func(ctx context.Context, srv any, req *structpb.Struct) (proto.Message, error) {
					return srv.(ThermostatServer).CheckCondition(ctx, req)
				}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: thermostatProtoPath,
}

// ClimateView is a thermostat as seen through its climate entity.
type ClimateView struct {
	ThermostatView
	Available bool       `json:"available"`
	HVACModes []HVACMode `json:"hvac_modes"`
}

func climateView(c *Climate) ClimateView {
	return ClimateView{
		ThermostatView: c.thermostat().View(),
		Available:      c.Available(),
		HVACModes:      c.HVACModes(),
	}
}

type modeRequest struct {
	DeviceID string `json:"device_id"`
	HVACMode string `json:"hvac_mode"`
}

type temperatureRequest struct {
	DeviceID    string   `json:"device_id"`
	Temperature *float64 `json:"temperature"`
}

type conditionRequest struct {
	DeviceID string `json:"device_id"`
	Condition
}

func (s *service) ListThermostats(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	_ = ctx

	climates := s.plugin.Climates()
	views := make([]ClimateView, 0, len(climates))
	for _, c := range climates {
		views = append(views, climateView(c))
	}
	return encode(map[string]any{
		"thermostats":         views,
		"last_update_success": s.plugin.Coordinator().LastUpdateSuccess(),
	})
}

func (s *service) GetThermostat(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	_ = ctx

	climate, err := s.plugin.Climate(req.GetValue())
	if err != nil {
		return nil, statusError("get thermostat", err)
	}
	return encode(climateView(climate))
}

func (s *service) SetHvacMode(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	var in modeRequest
	if err := rpcdesc.Decode(req, &in); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	if strings.TrimSpace(in.HVACMode) == "" {
		return nil, status.Error(codes.InvalidArgument, "hvac_mode is required")
	}
	if err := s.plugin.SetHVACMode(ctx, in.DeviceID, in.HVACMode); err != nil {
		return nil, statusError("set hvac mode", err)
	}
	return &emptypb.Empty{}, nil
}

func (s *service) SetTemperature(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	var in temperatureRequest
	if err := rpcdesc.Decode(req, &in); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	if in.Temperature == nil {
		return nil, status.Error(codes.InvalidArgument, "temperature is required")
	}
	if err := s.plugin.SetTemperature(ctx, in.DeviceID, *in.Temperature); err != nil {
		return nil, statusError("set temperature", err)
	}
	return &emptypb.Empty{}, nil
}

func (s *service) TurnOn(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	climate, err := s.plugin.Climate(req.GetValue())
	if err != nil {
		return nil, statusError("turn on", err)
	}
	if err := climate.TurnOn(ctx); err != nil {
		return nil, statusError("turn on", err)
	}
	return &emptypb.Empty{}, nil
}

func (s *service) TurnOff(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	climate, err := s.plugin.Climate(req.GetValue())
	if err != nil {
		return nil, statusError("turn off", err)
	}
	if err := climate.TurnOff(ctx); err != nil {
		return nil, statusError("turn off", err)
	}
	return &emptypb.Empty{}, nil
}

func (s *service) Refresh(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	result := map[string]any{"success": true}
	if err := s.plugin.Coordinator().Refresh(ctx); err != nil {
		result["success"] = false
		result["error"] = err.Error()
	}
	result["thermostats"] = len(s.plugin.Coordinator().Snapshot())
	return encode(result)
}

func (s *service) CheckCondition(ctx context.Context, req *structpb.Struct) (*wrapperspb.BoolValue, error) {
	_ = ctx

	var in conditionRequest
	if err := rpcdesc.Decode(req, &in); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	ok, err := s.plugin.CheckCondition(in.DeviceID, in.Condition)
	if err != nil {
		return nil, statusError("check condition", err)
	}
	return wrapperspb.Bool(ok), nil
}

func encode(v any) (*structpb.Struct, error) {
	out, err := rpcdesc.Struct(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// statusError maps client and entity errors onto gRPC codes.
func statusError(op string, err error) error {
	var rateErr rate.RateLimitError
	switch {
	case errors.Is(err, ErrUnknownThermostat):
		return status.Errorf(codes.NotFound, "%s: %v", op, err)
	case errors.Is(err, ErrTemperatureUnsupported):
		return status.Errorf(codes.FailedPrecondition, "%s: %v", op, err)
	case errors.Is(err, ErrUnsupportedMode):
		return status.Errorf(codes.InvalidArgument, "%s: %v", op, err)
	case errors.Is(err, ErrAuthentication):
		return status.Errorf(codes.Unauthenticated, "%s: %v", op, err)
	case errors.As(err, &rateErr):
		return status.Errorf(codes.ResourceExhausted, "%s: %v", op, err)
	case errors.Is(err, ErrCommunication):
		return status.Errorf(codes.Unavailable, "%s: %v", op, err)
	default:
		return status.Errorf(codes.Internal, "%s: %v", op, err)
	}
}
