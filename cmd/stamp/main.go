// Command stamp runs the serial stamping pipeline on a local file, without
// the API server or a database.
//
//	stamp -in card.pdf -template "KM-{0001}" -copies 3 -out ./out
//	stamp -in card.pdf -template "{98}" -copies 5 -merged -x 40 -y 40 -out .
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/Shimizu-Technology/serial-stamp-api/internal/serial"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/services/qr"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/services/stamp"
)

func main() {
	var (
		in          = flag.String("in", "", "template PDF")
		template    = flag.String("template", "", "serial template, e.g. KM-{0001}")
		copies      = flag.Int("copies", 1, "number of copies")
		merged      = flag.Bool("merged", false, "write one merged PDF instead of a zip")
		x           = flag.Float64("x", 0, "stamp X in points from the left edge (with -y)")
		y           = flag.Float64("y", 0, "stamp Y in points from the bottom edge (with -x)")
		out         = flag.String("out", ".", "output directory")
		policy      = flag.String("policy", string(stamp.PolicyFixed), "placement policy: fixed or per-page")
		concurrency = flag.Int("concurrency", 1, "archive copies built in parallel")
	)
	flag.Parse()
	log.SetFlags(0)

	if *in == "" || *template == "" {
		flag.Usage()
		os.Exit(2)
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["x"] != set["y"] {
		log.Fatal("❌ -x and -y must be given together")
	}

	job := job{
		in:          *in,
		template:    *template,
		copies:      *copies,
		merged:      *merged,
		out:         *out,
		policy:      *policy,
		concurrency: *concurrency,
	}
	if set["x"] {
		job.override = &stamp.Point{X: *x, Y: *y}
	}

	if err := job.run(); err != nil {
		log.Fatalf("❌ %v", err)
	}
}

// job is one command line invocation.
type job struct {
	in, template, out, policy string
	copies, concurrency       int
	merged                    bool
	override                  *stamp.Point
}

func (j job) run() error {
	tmpl, err := serial.Parse(j.template)
	if err != nil {
		return err
	}
	policy, err := stamp.ParsePolicy(j.policy)
	if err != nil {
		return err
	}

	src, err := os.ReadFile(j.in)
	if err != nil {
		return fmt.Errorf("%w: %v", stamp.ErrMissingInputFile, err)
	}

	opts := stamp.DefaultOptions()
	opts.Policy = policy
	opts.Concurrency = j.concurrency
	pipeline := stamp.New(qr.NewEncoder(), opts)

	req := stamp.Request{
		Source:   src,
		Template: tmpl,
		Copies:   j.copies,
		Mode:     stamp.ModeArchive,
		Override: j.override,
	}
	if j.merged {
		req.Mode = stamp.ModeMerged
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	art, err := pipeline.Run(ctx, req, stamp.ObserverFunc(func(done, total int, s string) {
		log.Printf("%d/%d %s", done, total, s)
	}))
	if err != nil {
		return err
	}

	for _, w := range art.Warnings {
		log.Printf("⚠️  %v", w)
	}

	if err := os.MkdirAll(j.out, 0o755); err != nil {
		return err
	}
	name := strings.NewReplacer("/", "-", `\`, "-").Replace(art.Filename)
	dest := filepath.Join(j.out, name)
	if err := os.WriteFile(dest, art.Data, 0o644); err != nil {
		return err
	}
	log.Printf("✅ Wrote %s (%d copies, %d pages each)", dest, len(art.Serials), art.PageCount)
	return nil
}
