package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/muurk/blufi/internal/blufi"
	"github.com/muurk/blufi/internal/logging"
	"github.com/muurk/blufi/internal/protocol"
	"github.com/muurk/blufi/internal/ui"
)

func init() {
	rootCmd.AddCommand(shellCmd)
}

// shellCmd keeps one session open for interactive use
var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive console on one device session",
	Long: `Open a session and read commands from an interactive console.

The session, its sequence numbers and key stay alive between commands,
which makes the console useful for poking at firmware behavior.`,
	RunE: runShell,
}

func runShell(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	s, err := openSession(ctx)
	if err != nil {
		return fail("Connect", err)
	}
	defer s.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "blufi> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	con := newConsole(s.Client, rl.Stdout())
	con.help()
	for {
		line, err := rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			return nil
		}
		if !con.exec(ctx, line) {
			return nil
		}
	}
}

// console runs shell commands against a client.
type console struct {
	c   *blufi.Client
	out io.Writer
}

func newConsole(c *blufi.Client, out io.Writer) *console {
	con := &console{c: c, out: out}
	c.OnCustomData(func(b []byte) {
		fmt.Fprintf(out, "<< custom %s  %s\n", logging.HexDump(b), logging.ASCIIDump(b))
	})
	c.OnError(func(code protocol.ErrorCode) {
		fmt.Fprintf(out, "<< error %s (%d)\n", code, uint8(code))
	})
	return con
}

// exec runs one line. It returns false when the console should exit.
func (con *console) exec(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return true
	}
	cmd, args := strings.ToLower(parts[0]), parts[1:]

	switch cmd {
	case "help", "?":
		con.help()

	case "state":
		fmt.Fprintf(con.out, "state=%s secured=%t\n", con.c.State(), con.c.Secured())

	case "negotiate", "neg":
		con.report(con.c.NegotiateSecurity(ctx), "secured")

	case "version", "v":
		v, err := con.c.RequestVersion(ctx)
		con.report(err, "version "+v.String())

	case "status", "s":
		st, err := con.c.RequestDeviceStatus(ctx)
		con.report(err, fmt.Sprintf("op_mode=%s sta_connected=%t softap_conn=%d",
			st.OpMode, st.StaConnected(), st.SoftAPConn))

	case "scan":
		entries, err := con.c.RequestDeviceScan(ctx, 0)
		if con.report(err, fmt.Sprintf("%d access point(s)", len(entries))) {
			tbl := ui.NewTable("SSID", "RSSI")
			for _, e := range entries {
				tbl.AddRow(e.SSID, strconv.Itoa(int(e.RSSI)))
			}
			fmt.Fprintln(con.out, tbl.Render())
		}

	case "provision", "wifi":
		if len(args) != 2 {
			fmt.Fprintln(con.out, "usage: provision <ssid> <password>")
			break
		}
		con.report(con.c.PostStaWifiInfo(ctx, blufi.Credentials{SSID: args[0], Password: args[1]}), "credentials sent")

	case "mode":
		if len(args) != 1 {
			fmt.Fprintln(con.out, "usage: mode <null|sta|softap|sta+softap>")
			break
		}
		mode, err := protocol.ParseOpMode(args[0])
		if err != nil {
			fmt.Fprintln(con.out, err)
			break
		}
		con.report(con.c.PostDeviceMode(ctx, mode), "op mode "+mode.String())

	case "send":
		con.report(con.c.PostCustomData(ctx, []byte(strings.Join(args, " "))), "sent")

	case "sendhex":
		b, err := hex.DecodeString(strings.Join(args, ""))
		if err != nil {
			fmt.Fprintf(con.out, "invalid hex: %v\n", err)
			break
		}
		con.report(con.c.PostCustomData(ctx, b), "sent")

	case "limit":
		if len(args) != 1 {
			fmt.Fprintln(con.out, "usage: limit <bytes>  (0 clears)")
			break
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			fmt.Fprintf(con.out, "invalid limit: %v\n", err)
			break
		}
		con.c.SetPostPackageLengthLimit(n)
		fmt.Fprintln(con.out, "ok")

	case "notify":
		switch {
		case len(args) == 1 && args[0] == "on":
			con.report(con.c.StartNotify(), "notifications on")
		case len(args) == 1 && args[0] == "off":
			con.report(con.c.StopNotify(), "notifications off")
		default:
			fmt.Fprintln(con.out, "usage: notify <on|off>")
		}

	case "disconnect":
		con.report(con.c.RequestDisconnectWifi(ctx), "disconnect requested")

	case "close":
		con.report(con.c.RequestCloseConnection(ctx), "close requested")
		return false

	case "quit", "exit", "q":
		return false

	default:
		fmt.Fprintf(con.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return true
}

// report prints err or the success text and reports whether err was nil.
func (con *console) report(err error, ok string) bool {
	if err != nil {
		fmt.Fprintf(con.out, "%s %v\n", ui.FailureMarker, err)
		return false
	}
	fmt.Fprintf(con.out, "%s %s\n", ui.SuccessMarker, ok)
	return true
}

func (con *console) help() {
	fmt.Fprintln(con.out, `
Commands:
  state                      - Show session state
  negotiate                  - Run the key exchange again
  version                    - Request protocol version
  status                     - Request Wi-Fi state
  scan                       - Request a Wi-Fi scan
  provision <ssid> <pass>    - Send station credentials
  mode <mode>                - Set op mode (null, sta, softap, sta+softap)
  send <text>                - Send custom data
  sendhex <hex>              - Send custom data given as hex
  limit <bytes>              - Override the package length (0 clears)
  notify <on|off>            - Toggle notifications
  disconnect                 - Ask the device to leave its AP
  close                      - Ask the device to drop the link and exit
  quit                       - Exit`)
}
