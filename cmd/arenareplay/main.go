// arenareplay 校验并重放比赛回放文件
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"zonearena/replay"
)

type summary struct {
	Match     string  `json:"match"`
	Version   uint64  `json:"version"`
	TickRate  int     `json:"tickRate"`
	Records   uint64  `json:"records"`
	FinalTick uint64  `json:"finalTick"`
	Hash      string  `json:"hash"`
	Phase     string  `json:"phase"`
	Winner    uint8   `json:"winner"`
	Reason    string  `json:"reason,omitempty"`
	Scores    []int64 `json:"scores"`
	Events    int     `json:"events"`
}

func main() {
	var (
		events  bool
		verbose bool
	)
	flag.BoolVar(&events, "events", false, "print every replayed event")
	flag.BoolVar(&verbose, "v", false, "log trigger activity")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <file.zarp>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	if err := run(flag.Arg(0), events, verbose); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(path string, events, verbose bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	log := zap.NewNop().Sugar()
	if verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		defer func() { _ = l.Sync() }()
		log = l.Sugar()
	}

	r, err := replay.NewReader(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	res, err := replay.Play(r, log)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	if events {
		for _, ev := range res.Events {
			fmt.Printf("%6d %-18s zone=%d team=%d entity=%d %s\n", ev.Tick, ev.Kind, ev.Zone, ev.Team, ev.Entity, ev.Detail)
		}
	}
	h := r.Header()
	m := res.State.Match()
	out := summary{
		Match:     h.Match,
		Version:   h.Version,
		TickRate:  h.TickRate,
		Records:   res.Records,
		FinalTick: res.State.Tick(),
		Hash:      fmt.Sprintf("%016x", res.State.Hash()),
		Phase:     m.Phase.String(),
		Winner:    uint8(m.Winner),
		Reason:    m.Reason,
		Scores:    res.State.Scores(),
		Events:    len(res.Events),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
