// Package rpcdesc describes gRPC services whose messages are protobuf
// well-known types. It registers runtime file descriptors so server
// reflection and grpcurl can resolve the services without generated code.
package rpcdesc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/structpb"

	// Registered so their files resolve as dependencies.
	_ "google.golang.org/protobuf/types/known/emptypb"
	_ "google.golang.org/protobuf/types/known/wrapperspb"
)

// Method is one unary RPC.
type Method struct {
	Name   string
	Input  protoreflect.FullName
	Output protoreflect.FullName
}

// Service lists the RPCs of one service.
type Service struct {
	Name    string
	Methods []Method
}

var registerMu sync.Mutex

// Register builds a proto3 file at path declaring services in pkg and adds
// it to the global registry. Registering the same path again returns the
// existing descriptor.
func Register(path, pkg string, services ...Service) (protoreflect.FileDescriptor, error) {
	registerMu.Lock()
	defer registerMu.Unlock()

	if fd, err := protoregistry.GlobalFiles.FindFileByPath(path); err == nil {
		return fd, nil
	}

	file := &descriptorpb.FileDescriptorProto{
		Name:    proto.String(path),
		Package: proto.String(pkg),
		Syntax:  proto.String("proto3"),
	}
	deps := map[string]bool{}
	for _, svc := range services {
		sd := &descriptorpb.ServiceDescriptorProto{Name: proto.String(svc.Name)}
		for _, m := range svc.Methods {
			for _, name := range []protoreflect.FullName{m.Input, m.Output} {
				dep, err := fileOf(name)
				if err != nil {
					return nil, fmt.Errorf("%s.%s: %w", svc.Name, m.Name, err)
				}
				if !deps[dep] {
					deps[dep] = true
					file.Dependency = append(file.Dependency, dep)
				}
			}
			sd.Method = append(sd.Method, &descriptorpb.MethodDescriptorProto{
				Name:       proto.String(m.Name),
				InputType:  proto.String("." + string(m.Input)),
				OutputType: proto.String("." + string(m.Output)),
			})
		}
		file.Service = append(file.Service, sd)
	}

	fd, err := protodesc.NewFile(file, protoregistry.GlobalFiles)
	if err != nil {
		return nil, fmt.Errorf("build descriptor %s: %w", path, err)
	}
	if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
		return nil, fmt.Errorf("register descriptor %s: %w", path, err)
	}
	return fd, nil
}

func fileOf(name protoreflect.FullName) (string, error) {
	desc, err := protoregistry.GlobalFiles.FindDescriptorByName(name)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", name, err)
	}
	return desc.ParentFile().Path(), nil
}

// Unary adapts a typed handler to grpc.MethodHandler, running interceptors
// the way generated code does.
func Unary[Req proto.Message](fullMethod string, newReq func() Req, call func(ctx context.Context, srv any, req Req) (proto.Message, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := newReq()
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(ctx, srv, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(ctx, srv, req.(Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Struct converts any JSON-encodable value into a protobuf Struct.
func Struct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Decode converts a protobuf Struct into the JSON-tagged value out.
func Decode(in *structpb.Struct, out any) error {
	if in == nil {
		in = &structpb.Struct{}
	}
	data, err := protojson.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
