package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"

	"github.com/spf13/cobra"

	"github.com/zsiec/tspes/internal/tsgen"
)

type genOptions struct {
	output   string
	pid      string
	streamID string
	units    int
	size     int
	noisePID string
	drop     int
	seed     uint64
}

func newGenCmd() *cobra.Command {
	var o genOptions

	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Write a synthetic transport stream for testing",
		Long: `Gen writes a transport stream carrying --units PES packets of --size
random bytes on --pid, optionally interleaved with packets of a second PID and
with every --drop'th packet of the selected PID removed to provoke loss.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runGen(o)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.output, "output", "o", "synthetic.ts", "output transport stream")
	f.StringVar(&o.pid, "pid", envOr("TSPES_PID", "136"), "PID carrying the PES packets (env TSPES_PID)")
	f.StringVar(&o.streamID, "stream-id", "0xC0", "PES stream ID")
	f.IntVar(&o.units, "units", 10, "number of PES packets")
	f.IntVar(&o.size, "size", 1000, "payload bytes per PES packet")
	f.StringVar(&o.noisePID, "noise-pid", "", "interleave one packet of this PID after every packet")
	f.IntVar(&o.drop, "drop", 0, "drop every Nth packet of the selected PID (0 keeps all)")
	f.Uint64Var(&o.seed, "seed", 1, "payload random seed")

	return cmd
}

func runGen(o genOptions) error {
	pid, err := parsePID(o.pid)
	if err != nil {
		return err
	}
	streamID, err := parseStreamID(o.streamID)
	if err != nil {
		return err
	}
	if o.size < 0 || o.size > 0xFFFF-3 {
		return fmt.Errorf("size %d out of range [0, %d]", o.size, 0xFFFF-3)
	}

	var noise []byte
	if o.noisePID != "" {
		npid, err := parsePID(o.noisePID)
		if err != nil {
			return err
		}
		if npid == pid {
			return fmt.Errorf("noise PID equals the selected PID %d", pid)
		}
		noise = tsgen.NewMuxer().Packetize(npid, tsgen.BuildPES(0xBD, make([]byte, 100)))[0]
	}

	f, err := os.Create(o.output)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer f.Close()
	bw := bufio.NewWriter(f)

	rng := rand.New(rand.NewPCG(o.seed, o.seed))
	mux := tsgen.NewMuxer()
	var written, dropped, n int
	for range o.units {
		data := make([]byte, o.size)
		for i := range data {
			data[i] = byte(rng.UintN(256))
		}
		for _, pkt := range mux.Packetize(pid, tsgen.BuildPES(streamID, data)) {
			n++
			if o.drop > 0 && n%o.drop == 0 {
				dropped++
				continue
			}
			if _, err := bw.Write(pkt); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			written++
			if noise != nil {
				if _, err := bw.Write(noise); err != nil {
					return fmt.Errorf("write output: %w", err)
				}
			}
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	slog.Info("stream generated",
		"output", o.output,
		"pid", pid,
		"stream_id", fmt.Sprintf("0x%02X", streamID),
		"units", o.units,
		"packets", written,
		"dropped", dropped,
	)
	return f.Close()
}
