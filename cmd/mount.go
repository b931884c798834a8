package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentic-research/cominavi/internal/config"
	"github.com/agentic-research/cominavi/internal/graph"
	"github.com/agentic-research/cominavi/internal/nfsmount"
	"github.com/agentic-research/cominavi/internal/syncer"
)

var (
	mountListen string
	mountPrint  bool
)

var mountCmd = &cobra.Command{
	Use:   "mount [mountpoint]",
	Short: "Sync the catalog and expose it as a read-only NFS filesystem",
	Long: "Serves the catalog tree (catalog.json, days/, circles/) over NFSv3.\n" +
		"The tree is empty until the sync completes; _status.json reports progress.\n" +
		"With a mountpoint the share is mounted there and unmounted on exit.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			o, err := a.start(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = o.Close() }()

			tree := graph.NewHotSwapGraph(graph.NewMemoryStore())
			cancel := o.Subscribe(swapOnReady(o, tree, a.log))
			defer cancel()

			addr := mountListen
			if addr == "" {
				addr = a.cfg.NFSListen()
			}
			srv, err := nfsmount.NewServer(nfsmount.NewGraphFS(tree, statusJSON(o)), addr, a.log)
			if err != nil {
				return err
			}
			defer func() { _ = srv.Close() }()

			if len(args) == 0 {
				mountArgs, err := nfsmount.MountArgs(srv.Port(), "<mountpoint>")
				if err == nil && mountPrint {
					fmt.Fprintln(cmd.OutOrStdout(), strings.Join(mountArgs, " "))
				}
				a.log.Info("nfs: ready, mount it to browse", "port", srv.Port())
				<-ctx.Done()
				return nil
			}

			mountpoint := args[0]
			if err := nfsmount.Mount(srv.Port(), mountpoint); err != nil {
				return err
			}
			a.log.Info("nfs: mounted", "mountpoint", mountpoint)
			<-ctx.Done()
			if err := nfsmount.Unmount(mountpoint); err != nil {
				a.log.Warn("nfs: unmount", "mountpoint", mountpoint, "err", err)
				return err
			}
			return nil
		})
	},
}

// swapOnReady replaces the served tree with the catalog tree once the run is
// ready.
func swapOnReady(o *syncer.Orchestrator, tree *graph.HotSwapGraph, log *slog.Logger) func(syncer.Readiness) {
	return func(r syncer.Readiness) {
		if r.State != syncer.Ready {
			return
		}
		ix, err := o.Index()
		if err != nil {
			log.Error("nfs: catalog tree", "err", err)
			return
		}
		res := o.Resolver()
		store, err := graph.BuildCatalogTree(graph.TreeSource{
			Graph:    o.Catalog(),
			Index:    ix,
			Images:   res.FS(),
			ImageDir: res.CircleImagesDir(o.InstanceID()),
			ModTime:  time.Now(),
		})
		if err != nil {
			log.Error("nfs: catalog tree", "err", err)
			return
		}
		tree.Swap(store)
		log.Info("nfs: catalog tree ready", "nodes", store.Len())
	}
}

func statusJSON(o *syncer.Orchestrator) nfsmount.StatusFunc {
	return func() []byte {
		data, err := json.MarshalIndent(o.Current(), "", "  ")
		if err != nil {
			return []byte(`{"state":"unknown"}` + "\n")
		}
		return append(data, '\n')
	}
}

func init() {
	mountCmd.Flags().StringVar(&mountListen, "listen", "", "NFS listen address (default "+config.DefaultNFS+")")
	mountCmd.Flags().BoolVar(&mountPrint, "print-mount", true, "Print the mount command when no mountpoint is given")
	rootCmd.AddCommand(mountCmd)
}
