package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agentic-research/cominavi/internal/snapshot"
	"github.com/agentic-research/cominavi/internal/syncer"
)

var (
	searchJSON   bool
	searchGroups bool
	outputPath   string
)

var searchCmd = &cobra.Command{
	Use:   "search [keywords...]",
	Short: "Search circles by pen name, circle name or description",
	Long: "Search circles whose pen name, circle name or description contains every keyword.\n" +
		"Matching is case-sensitive. With no keywords every circle is listed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			o, err := syncReady(ctx, a)
			if err != nil {
				return err
			}
			defer func() { _ = o.Close() }()

			circles, err := o.SearchCircles(strings.Join(args, " "))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if searchGroups {
				groups, err := o.BlockGroups(circles)
				if err != nil {
					return err
				}
				if searchJSON {
					return writeJSON(out, groups)
				}
				for _, g := range groups {
					fmt.Fprintf(out, "[%s] %d circles\n", g.Block.Name, len(g.Circles))
					if err := writeCircles(out, g.Circles); err != nil {
						return err
					}
				}
				return nil
			}
			if searchJSON {
				return writeJSON(out, circles)
			}
			return writeCircles(out, circles)
		})
	},
}

var circleImageCmd = &cobra.Command{
	Use:   "circle-image <circle-id>",
	Short: "Write a circle cut image (PNG)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid circle id %q", args[0])
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			o, err := syncReady(ctx, a)
			if err != nil {
				return err
			}
			defer func() { _ = o.Close() }()

			data, err := o.CircleImage(ctx, id)
			if err != nil {
				return fmt.Errorf("circle %d: %w", id, err)
			}
			return writeOutput(cmd.OutOrStdout(), data)
		})
	},
}

var floorMapCmd = &cobra.Command{
	Use:   "floor-map <base|genre> <day> <area>",
	Short: "Write a hall floor map image (PNG), e.g. floor-map base 1 E123",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		layer, err := syncer.ParseFloorLayer(args[0])
		if err != nil {
			return err
		}
		day, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid day %q", args[1])
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			o, err := syncReady(ctx, a)
			if err != nil {
				return err
			}
			defer func() { _ = o.Close() }()

			img, err := o.FloorMap(ctx, layer, day, args[2])
			if err != nil {
				return fmt.Errorf("floor map %s: %w", syncer.FloorMapName(layer, day, args[2]), err)
			}
			return writeOutput(cmd.OutOrStdout(), img.Image)
		})
	},
}

func writeCircles(w io.Writer, circles []snapshot.Circle) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDAY\tBLOCK\tSPACE\tCIRCLE\tPEN NAME")
	for _, c := range circles {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			c.ID, intOr(c.Day), intOr(c.BlockID), space(c), strOr(c.CircleName), strOr(c.PenName))
	}
	return tw.Flush()
}

func space(c snapshot.Circle) string {
	if c.SpaceNo == nil {
		return "-"
	}
	s := fmt.Sprintf("%02d", *c.SpaceNo)
	if c.SpaceNoSub != nil {
		if *c.SpaceNoSub == 0 {
			s += "a"
		} else {
			s += "b"
		}
	}
	return s
}

func intOr(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}

func strOr(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeOutput writes data to --output, or to w when unset or "-".
func writeOutput(w io.Writer, data []byte) error {
	if outputPath == "" || outputPath == "-" {
		_, err := w.Write(data)
		return err
	}
	return os.WriteFile(outputPath, data, 0o644)
}

func init() {
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "Print JSON instead of a table")
	searchCmd.Flags().BoolVar(&searchGroups, "groups", false, "Group results by block")
	circleImageCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file (default stdout)")
	floorMapCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file (default stdout)")

	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(circleImageCmd)
	rootCmd.AddCommand(floorMapCmd)
}
