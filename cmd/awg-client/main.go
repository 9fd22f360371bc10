// awg-client exercises a running awg-host from the command line: liveness
// checks, preset uploads, and a timed hotswap stress loop approximating
// the camera-driven rearrangement cycle.
//
// Usage:
//
//	awg-client -addr localhost:3281 <command> [options]
//
// Commands:
//
//	ping          Liveness check
//	info          Card product name and status
//	status        Driver status snapshot
//	upload        Compile and upload a preset program
//	hotswap       Timed hotswap loop against the rearrangement preset
//	stop-start    Restart playback from the entry step
//	step          Read the live sequencer step
//	close         Release the card
//
// Examples:
//
//	awg-client -addr localhost:3281 upload -preset rt_spec_analyser_rearr_hotswap
//	awg-client -addr localhost:3281 hotswap -n 100
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"time"

	"spectrum-awg-host/pkg/intent"
	"spectrum-awg-host/pkg/rpcserver"
)

func main() {
	addr := flag.String("addr", "localhost:3281", "AWG host address")
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}
	command := flag.Arg(0)
	args := flag.Args()[1:]

	client, err := rpcserver.Dial(*addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	if err := run(client, command, args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(client *rpcserver.Client, command string, args []string) error {
	switch command {
	case "ping":
		start := time.Now()
		if err := client.Ping(); err != nil {
			return err
		}
		fmt.Printf("pong (%.1f ms)\n", time.Since(start).Seconds()*1e3)
		return nil

	case "info":
		product, status, err := client.PrintCardInfo()
		if err != nil {
			return err
		}
		fmt.Printf("Product: %s\nStatus:  %s\n", product, status)
		return nil

	case "status":
		st, err := client.GetStatus()
		if err != nil {
			return err
		}
		fmt.Printf("state:             %s\n", st.State)
		fmt.Printf("serial number:     %d\n", st.SerialNumber)
		fmt.Printf("setup profile:     %s\n", st.SetupProfile)
		fmt.Printf("simulation:        %v\n", st.Simulation)
		fmt.Printf("sample rate:       %g Hz\n", st.SampleRateHz)
		if st.CurrentHash != "" {
			fmt.Printf("program:           %s\n", st.ProgramName)
			fmt.Printf("hash:              %s\n", st.CurrentHash)
		}
		if st.SessionID != "" {
			fmt.Printf("session:           %s\n", st.SessionID)
			fmt.Printf("resident segments: %d\n", st.ResidentSegments)
		}
		return nil

	case "upload":
		fs := flag.NewFlagSet("upload", flag.ExitOnError)
		preset := fs.String("preset", "rt_spec_analyser_rearr_hotswap", "Preset program name")
		force := fs.Bool("force", false, "Upload even if the digest is unchanged")
		fs.Parse(args)

		start := time.Now()
		hash, err := client.CompileUploadPreset(*preset, *force)
		if err != nil {
			return err
		}
		fmt.Printf("uploaded %s in %.1f ms, hash %s\n", *preset, time.Since(start).Seconds()*1e3, hash)
		return nil

	case "hotswap":
		fs := flag.NewFlagSet("hotswap", flag.ExitOnError)
		n := fs.Int("n", 20, "Number of hotswap iterations")
		segment := fs.String("segment", "rearrange", "Segment to patch")
		channel := fs.String("channel", "H", "Logical channel to patch")
		seed := fs.Int64("seed", 0, "Random seed (0: time-based)")
		fs.Parse(args)
		return hotswapLoop(client, *segment, *channel, *n, *seed)

	case "stop-start":
		if err := client.StopStartCard(); err != nil {
			return err
		}
		fmt.Println("card restarted")
		return nil

	case "step":
		step, err := client.CurrentStep()
		if err != nil {
			return err
		}
		fmt.Printf("current step: %d\n", step)
		return nil

	case "close":
		if err := client.CloseCard(); err != nil {
			return err
		}
		fmt.Println("card closed")
		return nil

	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// hotswapLoop uploads the rearrangement preset and then patches the
// remap segment repeatedly with random target selections, reporting
// per-iteration wall time the way the rearrangement shot budget is
// measured.
func hotswapLoop(client *rpcserver.Client, segment, channel string, n int, seed int64) error {
	preset := intent.PresetRearrangeHotswap()
	hash, err := client.CompileUpload(preset, false)
	if err != nil {
		return err
	}
	fmt.Printf("baseline uploaded, hash %s\n", hash)

	var op *intent.ChannelOp
	for i := range preset.Segments {
		if preset.Segments[i].Name != segment {
			continue
		}
		for j := range preset.Segments[i].Ops {
			if preset.Segments[i].Ops[j].Channel == channel && preset.Segments[i].Ops[j].Kind == intent.OpRemap {
				op = &preset.Segments[i].Ops[j]
			}
		}
	}
	if op == nil {
		return fmt.Errorf("no remap operation on %s/%s in preset", segment, channel)
	}
	defSize := len(preset.Definitions[op.Definition])
	width := len(op.SrcIndices)

	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	var total, worst time.Duration
	for i := 0; i < n; i++ {
		src := randomSelection(rng, defSize, width)
		start := time.Now()
		if err := client.HotswapRemapSrc(segment, channel, src); err != nil {
			return fmt.Errorf("iteration %d (src %v): %w", i, src, err)
		}
		elapsed := time.Since(start)
		total += elapsed
		if elapsed > worst {
			worst = elapsed
		}
		fmt.Printf("  #%-3d src=%v  %.2f ms\n", i, src, elapsed.Seconds()*1e3)
	}
	fmt.Printf("%d hotswaps: mean %.2f ms, worst %.2f ms\n",
		n, total.Seconds()/float64(n)*1e3, worst.Seconds()*1e3)
	return nil
}

// randomSelection picks width distinct indices from [0, size) in strictly
// increasing order, like a camera picking which loaded traps survive.
func randomSelection(rng *rand.Rand, size, width int) []int {
	picked := rng.Perm(size)[:width]
	sort.Ints(picked)
	return picked
}
