package cmd

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/agentic-research/cominavi/internal/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Download and prepare the catalog, printing progress",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			o, err := a.start(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = o.Close() }()

			p := &progressPrinter{w: cmd.OutOrStdout()}
			cancel := o.Subscribe(p.print)
			r, err := o.Wait(ctx)
			cancel()
			p.stop()
			if err != nil {
				return err
			}
			if r.State == syncer.Failed {
				return fmt.Errorf("sync failed [%s]: %s", r.Code, r.Message)
			}
			ix, err := o.Index()
			if err != nil {
				return err
			}
			g := o.Catalog()
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d days, %d circles, %d images\n",
				g.Name, len(g.Days), ix.Len(), ix.ImageCount())
			return nil
		})
	},
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove the cached files and markers of the instance",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(_ context.Context, a *app) error {
			unlock, err := a.resolver.Lock(a.instance)
			if err != nil {
				return err
			}
			defer func() { _ = unlock() }()
			if err := a.resolver.CleanAll(a.instance); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleaned instance %s\n", a.instance)
			return nil
		})
	},
}

// progressPrinter writes a line per state or stage change and per whole
// download percent.
type progressPrinter struct {
	mu      sync.Mutex
	w       io.Writer
	last    syncer.Readiness
	percent int
	started bool
	stopped bool
}

// stop drops callbacks still in flight so the caller can write to w.
func (p *progressPrinter) stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
}

func (p *progressPrinter) print(r syncer.Readiness) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	if p.started && r.State == p.last.State && r.Stage == p.last.Stage {
		if r.State != syncer.Downloading || int(r.Fraction*100) == p.percent {
			return
		}
	}
	p.started = true
	p.last = r
	p.percent = int(r.Fraction * 100)
	fmt.Fprintln(p.w, r.String())
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(cleanCmd)
}
