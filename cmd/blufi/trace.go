package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/muurk/blufi/internal/capture"
	"github.com/muurk/blufi/internal/logging"
	"github.com/muurk/blufi/internal/protocol"
	"github.com/muurk/blufi/internal/ui"
)

var traceSession string

func init() {
	traceCmd.Flags().StringVar(&traceSession, "session", "", "Only show frames of this session ID")
	rootCmd.AddCommand(traceCmd)
}

// traceCmd prints a capture file
var traceCmd = &cobra.Command{
	Use:   "trace <file>",
	Short: "Print frames recorded with --capture",
	Long: `Print the frames of a capture file written with --capture.

Headers are always shown. Payloads of encrypted frames are shown as
<encrypted>; the session key is never stored.`,
	Example: `  blufi provision HomeNetwork --capture session.cbor
  blufi trace session.cbor`,
	Args: cobra.ExactArgs(1),
	RunE: runTrace,
}

func runTrace(cmd *cobra.Command, args []string) error {
	r, err := capture.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer r.Close()
	r.FilterSession(traceSession)

	tbl := ui.NewTable("TIME", "SESSION", "DIR", "TYPE", "SEQ", "FLAGS", "LEN", "PAYLOAD")
	n := 0
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("capture record %d: %w", n+1, err)
		}
		n++
		tbl.AddRow(traceRow(rec)...)
	}
	if n == 0 {
		fmt.Println("No frames recorded.")
		return nil
	}
	fmt.Println(tbl.Render())
	fmt.Printf("\n%d frame(s)\n", n)
	return nil
}

const tracePayloadBytes = 16

func traceRow(rec capture.Record) []string {
	session := rec.SessionID
	if len(session) > 8 {
		session = session[:8]
	}
	row := []string{rec.Timestamp.Format("15:04:05.000"), session, rec.Direction.String()}

	raw := rec.Frame
	if len(raw) < protocol.HeaderLength {
		return append(row, "malformed", "", "", strconv.Itoa(len(raw)), logging.HexDump(raw))
	}
	fc := raw[1]
	row = append(row,
		protocol.TypeName(protocol.PackageOf(raw[0]), protocol.SubtypeOf(raw[0])),
		strconv.Itoa(int(raw[2])),
		frameFlags(fc),
		strconv.Itoa(int(raw[3])),
	)

	if fc&protocol.FrameCtrlEncrypted != 0 {
		return append(row, "<encrypted>")
	}
	f, err := protocol.Decode(raw, nil)
	if err != nil && f == nil {
		return append(row, "! "+err.Error())
	}
	payload := f.Payload
	suffix := ""
	if len(payload) > tracePayloadBytes {
		payload, suffix = payload[:tracePayloadBytes], "..."
	}
	cell := logging.HexDump(payload) + suffix
	if err != nil {
		cell += " (bad checksum)"
	}
	return append(row, cell)
}

func frameFlags(fc byte) string {
	var flags []string
	for _, f := range []struct {
		bit  byte
		name string
	}{
		{protocol.FrameCtrlEncrypted, "enc"},
		{protocol.FrameCtrlChecksum, "crc"},
		{protocol.FrameCtrlRequireAck, "ack"},
		{protocol.FrameCtrlFragmented, "frag"},
	} {
		if fc&f.bit != 0 {
			flags = append(flags, f.name)
		}
	}
	if len(flags) == 0 {
		return "-"
	}
	return strings.Join(flags, ",")
}
