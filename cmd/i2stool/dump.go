package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"audiobus.dev/capture"
	"github.com/spf13/cobra"
)

var dumpCmd = &cobra.Command{
	Use:   "dump FILE",
	Short: "Summarize a capture file",
	Long: `Print the header of a capture file and a summary of its records. With
--verbose, every record is listed with its sequence number, time and the
start of its data.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		return dump(cmd.OutOrStdout(), bufio.NewReader(f), verbose)
	},
}

func init() {
	rootCmd.AddCommand(dumpCmd)
}

func dump(w io.Writer, r io.Reader, records bool) error {
	cr, err := capture.NewReader(r)
	if err != nil {
		return err
	}
	h := cr.Header
	fmt.Fprintf(w, "%s capture: %d byte blocks, %s frame clock, %d bit, %d channels\n",
		h.Dir, h.BlockSize, h.FrameClock, h.WordSize, h.Channels)
	var (
		n, size, gaps int
		tagged        int
		prev          uint32
		first, last   time.Time
	)
	for {
		rec, err := cr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("record %d: %w", n, err)
		}
		t := rec.Timestamp()
		if n == 0 {
			first = t
		} else if rec.Seq != prev+1 {
			gaps++
		}
		if _, ok, err := parseBlock(rec.Data); ok && err == nil {
			tagged++
		}
		if records {
			head := rec.Data[:min(len(rec.Data), 16)]
			fmt.Fprintf(w, "%8d %s % x\n", rec.Seq, t.Format(time.RFC3339Nano), head)
		}
		prev, last = rec.Seq, t
		size += len(rec.Data)
		n++
	}
	fmt.Fprintf(w, "%d records (%d tagged), %d bytes, %d sequence gaps, span %s\n",
		n, tagged, size, gaps, last.Sub(first))
	return nil
}
