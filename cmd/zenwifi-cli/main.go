package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fullstorydev/grpcurl"
	"github.com/jhump/protoreflect/grpcreflect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/DanrwAU/zenwifi/internal/config"
	"github.com/DanrwAU/zenwifi/internal/core"
	"github.com/DanrwAU/zenwifi/internal/rpcdesc"
)

func main() {
	jsonOutput := flag.Bool("json", false, "Output JSON")
	addrFlag := flag.String("addr", "", "gRPC address (default from ZENWIFI_GRPC_ADDR or config)")
	timeout := flag.Duration("timeout", 30*time.Second, "Request timeout")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	addr := *addrFlag
	if addr == "" {
		addr = resolveAddr()
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, err := grpcurl.BlockingDial(ctx, "tcp", addr, insecure.NewCredentials())
	if err != nil {
		fatal("dial", err)
	}
	defer conn.Close()

	switch args[0] {
	case "plugins":
		pluginsCmd(ctx, conn, args[1:], *jsonOutput)
	case "entities":
		entitiesCmd(ctx, conn, args[1:], *jsonOutput)
	case "thermostats", "t":
		thermostatsCmd(ctx, conn, args[1:], *jsonOutput)
	case "services":
		servicesCmd(ctx, conn)
	case "methods":
		methodsCmd(ctx, conn, args[1:])
	case "call":
		callCmd(ctx, conn, args[1:])
	default:
		usage()
		os.Exit(2)
	}
}

func registryMethod(name string) string {
	return "/" + core.RegistryServiceName + "/" + name
}

func pluginsCmd(ctx context.Context, conn *grpc.ClientConn, args []string, jsonOutput bool) {
	out := newOutput(jsonOutput)
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	switch args[0] {
	case "list":
		var resp struct {
			Plugins []core.PluginSummary `json:"plugins"`
		}
		invokeStruct(ctx, conn, registryMethod("ListPlugins"), &emptypb.Empty{}, &resp)
		if out.json {
			out.printJSON(resp)
			return
		}
		rows := [][]string{{"ID", "NAME", "VERSION", "STATUS"}}
		for _, p := range resp.Plugins {
			rows = append(rows, []string{p.PluginID, p.DisplayName, p.Version, p.Status})
		}
		out.table(rows)
	case "describe":
		if len(args) < 2 {
			fatal("describe", fmt.Errorf("missing plugin id"))
		}
		var plugin core.PluginDescriptor
		invokeStruct(ctx, conn, registryMethod("DescribePlugin"), wrapperspb.String(args[1]), &plugin)
		if out.json {
			out.printJSON(plugin)
			return
		}
		fmt.Printf("id: %s\n", plugin.PluginID)
		fmt.Printf("name: %s\n", plugin.DisplayName)
		fmt.Printf("version: %s\n", plugin.Version)
		fmt.Printf("status: %s\n", plugin.Status)
		if plugin.HealthMessage != "" {
			fmt.Printf("health: %s\n", plugin.HealthMessage)
		}
		fmt.Println("services:")
		for _, svc := range plugin.Services {
			fmt.Printf("  - %s\n", svc)
		}
		fmt.Println("dashboards:")
		for _, dash := range plugin.Dashboards {
			fmt.Printf("  - %s (%s)\n", dash.Name, dash.Path)
		}
	default:
		usage()
		os.Exit(2)
	}
}

func entitiesCmd(ctx context.Context, conn *grpc.ClientConn, args []string, jsonOutput bool) {
	out := newOutput(jsonOutput)
	if len(args) > 0 {
		var entity core.EntityState
		invokeStruct(ctx, conn, registryMethod("DescribeEntity"), wrapperspb.String(args[0]), &entity)
		out.printJSON(entity)
		return
	}

	var resp struct {
		Entities []core.EntityState `json:"entities"`
	}
	invokeStruct(ctx, conn, registryMethod("ListEntities"), &emptypb.Empty{}, &resp)
	if out.json {
		out.printJSON(resp)
		return
	}
	rows := [][]string{{"UNIQUE_ID", "PLATFORM", "AVAILABLE", "STATE"}}
	for _, e := range resp.Entities {
		rows = append(rows, []string{e.UniqueID, string(e.Platform), fmt.Sprint(e.Available), formatState(e.State)})
	}
	out.table(rows)
}

func formatState(v any) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(v)
}

// invokeStruct calls a method that answers with a Struct and decodes it
// into out.
func invokeStruct(ctx context.Context, conn *grpc.ClientConn, method string, req any, out any) {
	resp := &structpb.Struct{}
	if err := conn.Invoke(ctx, method, req, resp); err != nil {
		fatal(method, err)
	}
	if err := rpcdesc.Decode(resp, out); err != nil {
		fatal(method, err)
	}
}

func servicesCmd(ctx context.Context, conn *grpc.ClientConn) {
	descSource := reflectionSource(ctx, conn)
	services, err := grpcurl.ListServices(descSource)
	if err != nil {
		fatal("list services", err)
	}

	for _, service := range services {
		fmt.Println(service)
	}
}

func methodsCmd(ctx context.Context, conn *grpc.ClientConn, args []string) {
	if len(args) < 1 {
		fatal("methods", fmt.Errorf("missing service name"))
	}

	descSource := reflectionSource(ctx, conn)
	methods, err := grpcurl.ListMethods(descSource, args[0])
	if err != nil {
		fatal("list methods", err)
	}

	for _, method := range methods {
		fmt.Println(method)
	}
}

func callCmd(ctx context.Context, conn *grpc.ClientConn, args []string) {
	flags := flag.NewFlagSet("call", flag.ExitOnError)
	data := flags.String("data", "", "JSON request body")
	_ = flags.Parse(args)
	remaining := flags.Args()
	if len(remaining) < 1 {
		fatal("call", fmt.Errorf("missing method (service/method)"))
	}

	method := remaining[0]
	descSource := reflectionSource(ctx, conn)

	var reader io.Reader
	if *data != "" {
		reader = strings.NewReader(*data)
	} else if isStdinTerminal() {
		reader = strings.NewReader("{}")
	} else {
		reader = os.Stdin
	}

	parser, formatter, err := grpcurl.RequestParserAndFormatter(grpcurl.FormatJSON, descSource, reader, grpcurl.FormatOptions{})
	if err != nil {
		fatal("parse request", err)
	}

	handler := grpcurl.NewDefaultEventHandler(os.Stdout, descSource, formatter, false)
	if err := grpcurl.InvokeRPC(ctx, descSource, conn, method, nil, handler, parser.Next); err != nil {
		fatal("invoke", err)
	}
	if handler.Status != nil && handler.Status.Err() != nil {
		fatal("invoke", handler.Status.Err())
	}
}

func reflectionSource(ctx context.Context, conn *grpc.ClientConn) grpcurl.DescriptorSource {
	client := grpcreflect.NewClientAuto(ctx, conn)
	return grpcurl.DescriptorSourceFromServer(ctx, client)
}

func isStdinTerminal() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return true
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

func resolveAddr() string {
	if value := os.Getenv("ZENWIFI_GRPC_ADDR"); value != "" {
		return value
	}
	for _, path := range configSearchPaths() {
		if addr := addrFromConfig(path); addr != "" {
			return addr
		}
	}
	return "localhost:9000"
}

func configSearchPaths() []string {
	paths := []string{config.DefaultPath}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		paths = append(paths, filepath.Join(home, ".config", "zenwifi", "config.yaml"))
	}
	return paths
}

func addrFromConfig(path string) string {
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	cfg, err := config.Load(path)
	if err != nil || cfg == nil {
		return ""
	}
	return dialAddr(cfg.Core.GRPCAddr)
}

// dialAddr turns a wildcard listen address into one a client can dial.
func dialAddr(listen string) string {
	for _, wildcard := range []string{"0.0.0.0:", "[::]:", ":"} {
		if strings.HasPrefix(listen, wildcard) {
			return "localhost:" + strings.TrimPrefix(listen, wildcard)
		}
	}
	return listen
}

func usage() {
	fmt.Println("zenwifi-cli [--json] [--addr host:port] <command> [args]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  plugins list")
	fmt.Println("  plugins describe <plugin_id>")
	fmt.Println("  entities [unique_id]")
	fmt.Println("  thermostats <command>   (see zenwifi-cli thermostats)")
	fmt.Println("  services")
	fmt.Println("  methods <service>")
	fmt.Println("  call <service/method> --data '{}' (or pipe JSON via stdin)")
}

func fatal(action string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", action, err)
	os.Exit(1)
}
