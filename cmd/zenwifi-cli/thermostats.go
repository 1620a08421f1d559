package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/DanrwAU/zenwifi/plugins/zenwifi"
)

func thermostatMethod(name string) string {
	return "/" + zenwifi.ThermostatServiceName + "/" + name
}

func thermostatsCmd(ctx context.Context, conn *grpc.ClientConn, args []string, jsonOutput bool) {
	out := newOutput(jsonOutput)
	if len(args) == 0 {
		args = []string{"list"}
	}

	switch args[0] {
	case "list", "ls":
		resp := listThermostats(ctx, conn)
		if out.json {
			out.printJSON(resp)
			return
		}
		out.table(thermostatRows(resp.Thermostats))
	case "get":
		requireArgs(args, 2, "get <thermostat>")
		id := resolveArg(ctx, conn, args[1])
		var view zenwifi.ClimateView
		invokeStruct(ctx, conn, thermostatMethod("GetThermostat"), wrapperspb.String(id), &view)
		if out.json {
			out.printJSON(view)
			return
		}
		out.table(thermostatRows([]zenwifi.ClimateView{view}))
	case "mode":
		requireArgs(args, 3, "mode <thermostat> <off|heat|cool>")
		id := resolveArg(ctx, conn, args[1])
		req, err := structpb.NewStruct(map[string]any{"device_id": id, "hvac_mode": args[2]})
		if err != nil {
			fatal("mode", err)
		}
		invokeEmpty(ctx, conn, thermostatMethod("SetHvacMode"), req)
		done(out, map[string]any{"device_id": id, "hvac_mode": args[2], "status": "ok"}, fmt.Sprintf("ok: %s -> %s", args[1], args[2]))
	case "set":
		requireArgs(args, 3, "set <thermostat> <temp>")
		temp, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			fatal("set", fmt.Errorf("invalid temperature %q", args[2]))
		}
		id := resolveArg(ctx, conn, args[1])
		req, err := structpb.NewStruct(map[string]any{"device_id": id, "temperature": temp})
		if err != nil {
			fatal("set", err)
		}
		invokeEmpty(ctx, conn, thermostatMethod("SetTemperature"), req)
		done(out, map[string]any{"device_id": id, "temperature": temp, "status": "ok"}, fmt.Sprintf("ok: %s -> %.1f°C", args[1], temp))
	case "on", "off":
		requireArgs(args, 2, args[0]+" <thermostat>")
		id := resolveArg(ctx, conn, args[1])
		method := "TurnOn"
		if args[0] == "off" {
			method = "TurnOff"
		}
		invokeEmpty(ctx, conn, thermostatMethod(method), wrapperspb.String(id))
		done(out, map[string]any{"device_id": id, "action": args[0], "status": "ok"}, fmt.Sprintf("ok: %s %s", args[1], args[0]))
	case "refresh":
		var resp struct {
			Success     bool   `json:"success"`
			Error       string `json:"error,omitempty"`
			Thermostats int    `json:"thermostats"`
		}
		invokeStruct(ctx, conn, thermostatMethod("Refresh"), &emptypb.Empty{}, &resp)
		if out.json {
			out.printJSON(resp)
			return
		}
		if !resp.Success {
			fatal("refresh", fmt.Errorf("%s", resp.Error))
		}
		fmt.Printf("ok: %d thermostats\n", resp.Thermostats)
	case "check":
		requireArgs(args, 3, "check <thermostat> <condition> [above] [below]")
		id := resolveArg(ctx, conn, args[1])
		fields := map[string]any{"device_id": id, "type": args[2]}
		if len(args) > 3 && args[3] != "-" {
			fields["above"] = parseBound("above", args[3])
		}
		if len(args) > 4 && args[4] != "-" {
			fields["below"] = parseBound("below", args[4])
		}
		req, err := structpb.NewStruct(fields)
		if err != nil {
			fatal("check", err)
		}
		resp := &wrapperspb.BoolValue{}
		if err := conn.Invoke(ctx, thermostatMethod("CheckCondition"), req, resp); err != nil {
			fatal("check", err)
		}
		if out.json {
			out.printJSON(map[string]any{"device_id": id, "condition": args[2], "result": resp.GetValue()})
			return
		}
		fmt.Println(resp.GetValue())
	default:
		thermostatsUsage()
		os.Exit(2)
	}
}

type thermostatList struct {
	Thermostats       []zenwifi.ClimateView `json:"thermostats"`
	LastUpdateSuccess bool                  `json:"last_update_success"`
}

func listThermostats(ctx context.Context, conn *grpc.ClientConn) thermostatList {
	var resp thermostatList
	invokeStruct(ctx, conn, thermostatMethod("ListThermostats"), &emptypb.Empty{}, &resp)
	return resp
}

// resolveArg lets users address thermostats by loose name.
func resolveArg(ctx context.Context, conn *grpc.ClientConn, input string) string {
	id, err := resolveThermostat(input, listThermostats(ctx, conn).Thermostats)
	if err != nil {
		fatal("resolve", err)
	}
	return id
}

func thermostatRows(views []zenwifi.ClimateView) [][]string {
	rows := [][]string{{"ID", "NAME", "MODE", "ACTION", "CURRENT", "TARGET", "AVAILABLE"}}
	for _, v := range views {
		rows = append(rows, []string{
			v.ID,
			v.Name,
			string(v.HVACMode),
			string(v.HVACAction),
			formatTemp(v.CurrentTemperature),
			formatTemp(v.TargetTemperature),
			strconv.FormatBool(v.Available),
		})
	}
	return rows
}

func invokeEmpty(ctx context.Context, conn *grpc.ClientConn, method string, req any) {
	if err := conn.Invoke(ctx, method, req, &emptypb.Empty{}); err != nil {
		fatal(method, err)
	}
}

func done(out outputMode, result map[string]any, text string) {
	if out.json {
		out.printJSON(result)
		return
	}
	fmt.Println(text)
}

func parseBound(name, raw string) float64 {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		fatal("check", fmt.Errorf("invalid %s %q", name, raw))
	}
	return v
}

func requireArgs(args []string, n int, usageLine string) {
	if len(args) < n {
		fatal(args[0], fmt.Errorf("usage: zenwifi-cli thermostats %s", usageLine))
	}
}

func thermostatsUsage() {
	fmt.Println("zenwifi-cli thermostats <command>")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  list")
	fmt.Println("  get <thermostat>")
	fmt.Println("  mode <thermostat> <off|heat|cool>")
	fmt.Println("  set <thermostat> <temp>")
	fmt.Println("  on <thermostat>")
	fmt.Println("  off <thermostat>")
	fmt.Println("  refresh")
	fmt.Println("  check <thermostat> <condition> [above|-] [below|-]")
}
