// Package znp provides shell commands for the coprocessor subsystems and
// the sample applications.
package znp

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/znp.go/pkg/apps/network"
	"github.com/robotalks/znp.go/pkg/cli/sh"
	"github.com/robotalks/znp.go/pkg/config"
	"github.com/robotalks/znp.go/pkg/znp/af"
	"github.com/robotalks/znp.go/pkg/znp/sys"
)

// Defaults of the send command.
const (
	sendSrcEndpoint byte   = 1
	sendCluster     uint16 = af.ClusterOnOff
)

var sendTransID atomic.Uint32

// newDataRequest builds the request of one send, each with its own
// transaction id so the DataConfirm can be matched.
func newDataRequest(addr uint16, ep byte, words []string) *af.DataRequest {
	return &af.DataRequest{
		DstAddr:     addr,
		DstEndpoint: ep,
		SrcEndpoint: sendSrcEndpoint,
		ClusterID:   sendCluster,
		TransID:     byte(sendTransID.Add(1)),
		Radius:      af.DefaultRadius,
		Data:        []byte(strings.Join(words, " ")),
	}
}

func parseUint(s string, bits int) (uint64, error) {
	return strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, bits)
}

type hexUint16 uint16

func (v hexUint16) String() string {
	return fmt.Sprintf("0x%04x", uint16(v))
}

func (v hexUint16) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

type hexUint64 uint64

func (v hexUint64) String() string {
	return fmt.Sprintf("%016x", uint64(v))
}

func (v hexUint64) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

var (
	// PingCmd pings the coprocessor.
	PingCmd = ishell.Cmd{
		Name: "ping",
		Help: "",
		Func: sh.MustBeConnected(func(c *ishell.Context, conn *sh.Conn) {
			caps, err := conn.Link.SYS.Ping(conn.Ctx)
			if err != nil {
				c.Err(err)
				return
			}
			sh.Output(c, hexUint16(caps))
		}),
	}

	// VersionCmd queries the firmware version.
	VersionCmd = ishell.Cmd{
		Name:    "version",
		Aliases: []string{"ver"},
		Help:    "",
		Func: sh.MustBeConnected(func(c *ishell.Context, conn *sh.Conn) {
			ver, err := conn.Link.SYS.Version(conn.Ctx)
			if err != nil {
				c.Err(err)
				return
			}
			sh.Output(c, ver)
		}),
	}

	// ResetCmd resets the coprocessor.
	ResetCmd = ishell.Cmd{
		Name: "reset",
		Help: "[hard]",
		Func: sh.MustBeConnected(func(c *ishell.Context, conn *sh.Conn) {
			resetType := sys.ResetSoft
			if len(c.Args) > 0 && c.Args[0] == "hard" {
				resetType = sys.ResetHard
			}
			if err := conn.Link.SYS.ResetReq(conn.Ctx, resetType); err != nil {
				c.Err(err)
				return
			}
			sh.Output(c, "OK")
		}),
	}

	// ExtAddrCmd prints the IEEE address.
	ExtAddrCmd = ishell.Cmd{
		Name: "extaddr",
		Help: "",
		Func: sh.MustBeConnected(func(c *ishell.Context, conn *sh.Conn) {
			addr, err := conn.Link.SYS.GetExtAddr(conn.Ctx)
			if err != nil {
				c.Err(err)
				return
			}
			sh.Output(c, hexUint64(addr))
		}),
	}

	// InfoCmd prints the device info.
	InfoCmd = ishell.Cmd{
		Name: "info",
		Help: "",
		Func: sh.MustBeConnected(func(c *ishell.Context, conn *sh.Conn) {
			info, err := conn.Link.UTIL.GetDeviceInfo(conn.Ctx)
			if err != nil {
				c.Err(err)
				return
			}
			sh.Output(c, info)
		}),
	}

	// NvReadCmd reads an NV item.
	NvReadCmd = ishell.Cmd{
		Name: "nv.read",
		Help: "ID(hex) [OFFSET]",
		Func: sh.MustBeConnected(func(c *ishell.Context, conn *sh.Conn) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("ID required"))
				return
			}
			id, err := parseUint(c.Args[0], 16)
			if err != nil {
				c.Err(fmt.Errorf("invalid ID: %w", err))
				return
			}
			var offset uint64
			if len(c.Args) > 1 {
				if offset, err = strconv.ParseUint(c.Args[1], 10, 8); err != nil {
					c.Err(fmt.Errorf("invalid OFFSET: %w", err))
					return
				}
			}
			value, err := conn.Link.SYS.OsalNvRead(conn.Ctx, uint16(id), byte(offset))
			if err != nil {
				c.Err(err)
				return
			}
			sh.Output(c, fmt.Sprintf("% x", value))
		}),
	}

	// StartCmd starts or joins the network.
	StartCmd = ishell.Cmd{
		Name: "start",
		Help: "[coordinator|router|end-device] [CHANNEL] [new]",
		Func: sh.MustBeConnected(func(c *ishell.Context, conn *sh.Conn) {
			conf := sh.ShellFrom(c).Config.Network
			for _, arg := range c.Args {
				switch arg {
				case config.Coordinator, config.Router, config.EndDevice:
					conf.DeviceType = arg
				case "new":
					conf.NewNetwork = true
				default:
					ch, err := strconv.Atoi(arg)
					if err != nil || ch < 11 || ch > 26 {
						c.Err(fmt.Errorf("invalid argument %q", arg))
						return
					}
					conf.Channel = ch
				}
			}
			res, err := network.NewStarter(conn.Link, conf).Start(conn.Ctx)
			if err != nil {
				c.Err(err)
				return
			}
			sh.Output(c, struct {
				State    string    `json:"state"`
				Startup  string    `json:"startup"`
				IEEEAddr hexUint64 `json:"ieee_addr"`
			}{res.State.String(), res.Startup.String(), hexUint64(res.IEEEAddr)})
		}),
	}

	// TopologyCmd walks the network.
	TopologyCmd = ishell.Cmd{
		Name:    "topology",
		Aliases: []string{"topo"},
		Help:    "",
		Func: sh.MustBeConnected(func(c *ishell.Context, conn *sh.Conn) {
			topo, err := conn.Walker.Walk(conn.Ctx)
			if err != nil {
				c.Err(err)
				return
			}
			if sh.ShellFrom(c).OutputJSON {
				sh.Output(c, topo)
				return
			}
			var w strings.Builder
			topo.WriteTo(&w)
			c.Print(w.String())
		}),
	}

	// SendCmd sends a text message to an endpoint.
	SendCmd = ishell.Cmd{
		Name: "send",
		Help: "ADDR(hex) ENDPOINT MESSAGE...",
		Func: sh.MustBeConnected(func(c *ishell.Context, conn *sh.Conn) {
			if len(c.Args) < 3 {
				c.Err(fmt.Errorf("ADDR, ENDPOINT and MESSAGE required"))
				return
			}
			addr, err := parseUint(c.Args[0], 16)
			if err != nil {
				c.Err(fmt.Errorf("invalid ADDR: %w", err))
				return
			}
			ep, err := strconv.ParseUint(c.Args[1], 10, 8)
			if err != nil {
				c.Err(fmt.Errorf("invalid ENDPOINT: %w", err))
				return
			}
			req := newDataRequest(uint16(addr), byte(ep), c.Args[2:])
			if err = conn.Link.AF.DataRequest(conn.Ctx, req); err != nil {
				c.Err(err)
				return
			}
			sh.Output(c, fmt.Sprintf("sent, trans id %d", req.TransID))
		}),
	}

	// NodesCmd lists announced devices.
	NodesCmd = ishell.Cmd{
		Name: "nodes",
		Help: "",
		Func: sh.MustBeConnected(func(c *ishell.Context, conn *sh.Conn) {
			nodes := conn.Link.Session.Nodes()
			if sh.ShellFrom(c).OutputJSON {
				sh.Output(c, nodes)
				return
			}
			for _, n := range nodes {
				c.Printf("%04x %016x caps 0x%02x seen %s\n",
					n.NwkAddr, n.IEEEAddr, n.Capabilities, n.SeenAt.Format("15:04:05"))
			}
		}),
	}
)

func init() {
	sh.AddCmds(
		&PingCmd,
		&VersionCmd,
		&ResetCmd,
		&ExtAddrCmd,
		&InfoCmd,
		&NvReadCmd,
		&StartCmd,
		&TopologyCmd,
		&SendCmd,
		&NodesCmd,
	)
}
