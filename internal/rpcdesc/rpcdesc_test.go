package rpcdesc

import (
	"context"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestRegisterResolvesServices(t *testing.T) {
	svc := Service{
		Name: "EchoService",
		Methods: []Method{
			{Name: "Echo", Input: "google.protobuf.StringValue", Output: "google.protobuf.Struct"},
			{Name: "Ping", Input: "google.protobuf.Empty", Output: "google.protobuf.Empty"},
		},
	}
	fd, err := Register("rpcdesc/test/echo.proto", "rpcdesc.test", svc)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if fd.Services().Len() != 1 {
		t.Fatalf("expected one service, got %d", fd.Services().Len())
	}

	desc, err := protoregistry.GlobalFiles.FindDescriptorByName("rpcdesc.test.EchoService")
	if err != nil {
		t.Fatalf("FindDescriptorByName: %v", err)
	}
	method := desc.(protoreflect.ServiceDescriptor).Methods().ByName("Echo")
	if method == nil || method.Output().FullName() != "google.protobuf.Struct" {
		t.Fatalf("unexpected method descriptor: %v", method)
	}

	again, err := Register("rpcdesc/test/echo.proto", "rpcdesc.test", svc)
	if err != nil || again != fd {
		t.Fatalf("expected existing descriptor on re-register, err=%v", err)
	}
}

func TestRegisterRejectsUnknownType(t *testing.T) {
	_, err := Register("rpcdesc/test/bad.proto", "rpcdesc.bad", Service{
		Name:    "Bad",
		Methods: []Method{{Name: "Nope", Input: "rpcdesc.Missing", Output: "google.protobuf.Empty"}},
	})
	if err == nil {
		t.Fatalf("expected error for unknown message type")
	}
}

func TestUnaryRunsInterceptor(t *testing.T) {
	handler := Unary("/rpcdesc.test.EchoService/Echo",
		func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} },
		func(_ context.Context, _ any, req *wrapperspb.StringValue) (proto.Message, error) {
			return wrapperspb.String("echo:" + req.GetValue()), nil
		})

	dec := func(v any) error {
		v.(*wrapperspb.StringValue).Value = "hi"
		return nil
	}
	var seen string
	interceptor := func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		seen = info.FullMethod
		return next(ctx, req)
	}

	out, err := handler(nil, context.Background(), dec, interceptor)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if got := out.(*wrapperspb.StringValue).GetValue(); got != "echo:hi" {
		t.Fatalf("unexpected response %q", got)
	}
	if seen != "/rpcdesc.test.EchoService/Echo" {
		t.Fatalf("interceptor saw %q", seen)
	}

	if _, err := handler(nil, context.Background(), func(any) error { return nil }, nil); err != nil {
		t.Fatalf("handler without interceptor: %v", err)
	}
}

func TestStructRoundTrip(t *testing.T) {
	type view struct {
		ID    string   `json:"id"`
		Temp  *float64 `json:"temp,omitempty"`
		Valid bool     `json:"valid"`
	}
	temp := 21.5
	s, err := Struct(view{ID: "42", Temp: &temp, Valid: true})
	if err != nil {
		t.Fatalf("Struct: %v", err)
	}
	if s.Fields["id"].GetStringValue() != "42" || s.Fields["temp"].GetNumberValue() != 21.5 {
		t.Fatalf("unexpected struct: %v", s)
	}

	var back view
	if err := Decode(s, &back); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if back.ID != "42" || back.Temp == nil || *back.Temp != 21.5 || !back.Valid {
		t.Fatalf("unexpected decoded view: %+v", back)
	}
}
