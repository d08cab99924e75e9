package sh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/znp.go/pkg/apps/topology"
	"github.com/robotalks/znp.go/pkg/config"
	"github.com/robotalks/znp.go/pkg/znp/af"
	"github.com/robotalks/znp.go/pkg/znp/host"
	"github.com/robotalks/znp.go/pkg/znp/mt"
	"github.com/robotalks/znp.go/pkg/znp/transport"
)

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	AutoConnect bool

	Shell  *ishell.Shell
	Config *config.Config
	Conn   *Conn
}

// Conn is a started link.
type Conn struct {
	Ctx    context.Context
	Cancel func()
	Target string
	Link   *host.Link
	Walker *topology.Walker
}

const (
	shellKey          = "$shell"
	unconnectedPrompt = "[none] > "
)

var (
	// ErrNotConnected is reported by commands requiring a link.
	ErrNotConnected = errors.New("not connected")

	commands = []*ishell.Cmd{
		&ConnectCmd,
		&DisconnectCmd,
		&StateCmd,
		&PortsCmd,
	}
)

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell.
func New(conf *config.Config) *Shell {
	s := &Shell{
		Interactive: true,
		Shell:       ishell.New(),
		Config:      conf,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unconnectedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeConnected wraps command func requires a connection.
func MustBeConnected(fn func(c *ishell.Context, conn *Conn)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		conn := ShellFrom(c).Conn
		if conn == nil {
			c.Err(ErrNotConnected)
			return
		}
		fn(c, conn)
	}
}

// Output prints v as JSON in JSON mode, otherwise as text.
func Output(c *ishell.Context, v interface{}) {
	if ShellFrom(c).OutputJSON {
		out, err := json.Marshal(v)
		if err != nil {
			c.Err(err)
			return
		}
		c.Println(string(out))
		return
	}
	switch val := v.(type) {
	case fmt.Stringer:
		c.Println(val.String())
	case string:
		c.Println(val)
	default:
		c.Printf("%+v\n", val)
	}
}

// Connect opens and starts a link to target, the configured device if empty.
func (s *Shell) Connect(target string) error {
	opts := host.OptionsFrom(s.Config)
	if target != "" {
		opts.Target = target
	}
	link, err := host.Open(opts)
	if err != nil {
		return err
	}
	conn := &Conn{Target: opts.Target, Link: link}
	if conn.Walker, err = topology.NewWalker(link); err != nil {
		link.Close()
		return err
	}
	incoming := &af.Callbacks{
		DataConfirm: func(ctx context.Context, cf *af.DataConfirm) mt.Status {
			if cf.Status != mt.StatusSuccess {
				s.Shell.Printf("\ntrans id %d to ep %d failed with status 0x%02x\n",
					cf.TransID, cf.Endpoint, byte(cf.Status))
			}
			return mt.StatusSuccess
		},
		IncomingMsg: func(ctx context.Context, m *af.IncomingMsg) mt.Status {
			s.Shell.Printf("\nmessage from %04x ep %d cluster %04x: %q\n",
				m.SrcAddr, m.SrcEndpoint, m.ClusterID, m.Data)
			return mt.StatusSuccess
		},
	}
	if err = link.Register(mt.SubsystemAF, incoming.Table()); err != nil {
		link.Close()
		return err
	}
	conn.Ctx, conn.Cancel = context.WithCancel(context.Background())
	if err = link.Start(conn.Ctx); err != nil {
		conn.Cancel()
		link.Close()
		return err
	}
	s.Disconnect()
	s.Conn = conn
	s.Shell.SetPrompt(fmt.Sprintf("%s > ", conn.Target))
	return nil
}

// Disconnect closes the current link.
func (s *Shell) Disconnect() {
	if s.Conn != nil {
		s.Conn.Cancel()
		s.Conn.Link.Close()
		s.Conn = nil
		s.Shell.SetPrompt(unconnectedPrompt)
	}
}

// Run connects if AutoConnect is set, then processes args as one command,
// or runs interactively.
func (s *Shell) Run(args ...string) error {
	if s.AutoConnect {
		if s.Interactive {
			s.Shell.Printf("Connecting %s ...\n", s.Config.Device)
		}
		if err := s.Connect(""); err != nil {
			return fmt.Errorf("connect %q failed: %w", s.Config.Device, err)
		}
	}
	defer s.Disconnect()

	if len(args) > 0 {
		return s.Shell.Process(args...)
	}
	if s.Interactive {
		s.Shell.Run()
		return nil
	}
	return errors.New("command expected")
}

var (
	// ConnectCmd connects a coprocessor.
	ConnectCmd = ishell.Cmd{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "[TARGET]",
		Func: func(c *ishell.Context) {
			var target string
			if len(c.Args) > 0 {
				target = c.Args[0]
			}
			if err := ShellFrom(c).Connect(target); err != nil {
				c.Err(err)
			}
		},
	}

	// DisconnectCmd disconnects current coprocessor.
	DisconnectCmd = ishell.Cmd{
		Name:    "disconnect",
		Aliases: []string{"d"},
		Help:    "",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Disconnect()
		},
	}

	// StateCmd prints the device state and link counters.
	StateCmd = ishell.Cmd{
		Name: "state",
		Help: "",
		Func: MustBeConnected(func(c *ishell.Context, conn *Conn) {
			state := conn.Link.Session.State()
			Output(c, struct {
				State       string `json:"state"`
				Description string `json:"description"`
				Mailbox     int    `json:"mailbox"`
				Stats       any    `json:"stats"`
			}{
				State:       state.String(),
				Description: state.Description(),
				Mailbox:     conn.Link.Dispatcher.Mailbox.Len(),
				Stats:       conn.Link.Dispatcher.Stats(),
			})
		}),
	}

	// PortsCmd lists serial ports.
	PortsCmd = ishell.Cmd{
		Name: "ports",
		Help: "",
		Func: func(c *ishell.Context) {
			ports, err := transport.SerialPorts()
			if err != nil {
				c.Err(err)
				return
			}
			if ShellFrom(c).OutputJSON {
				Output(c, ports)
				return
			}
			for _, port := range ports {
				c.Println(port)
			}
		},
	}
)
