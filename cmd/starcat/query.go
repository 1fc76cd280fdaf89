package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/franz/starcat/internal/query"
	"github.com/franz/starcat/internal/util"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

var nearCmd = &cobra.Command{
	Use:   "near",
	Short: "List stars within a radius of a camera position",
	Long: `List stars brighter than the magnitude limit that lie strictly within
--radius parsecs of the camera position (--x, --y, --z, in parsecs).

Results are ordered by distance from the camera, then by magnitude, and
capped at --limit. The records are written to stdout as a JSON array; the
source that served them (store, fallback or none) is logged to stderr.`,
	RunE: runNear,
}

var brightCmd = &cobra.Command{
	Use:   "bright",
	Short: "List every star brighter than a magnitude limit",
	Long: `List every star brighter than --mag-limit, brightest first, as a JSON
array on stdout.`,
	RunE: runBright,
}

func init() {
	rootCmd.AddCommand(nearCmd)
	rootCmd.AddCommand(brightCmd)

	nearCmd.Flags().Float64("x", 0, "camera x (pc)")
	nearCmd.Flags().Float64("y", 0, "camera y (pc)")
	nearCmd.Flags().Float64("z", 0, "camera z (pc)")
	nearCmd.Flags().Float64("radius", 1000, "maximum distance from camera (pc, exclusive)")
	nearCmd.Flags().Int("limit", 50000, "maximum number of stars")
	nearCmd.Flags().Float64("mag-limit", 15, "faintest magnitude (exclusive)")
	nearCmd.Flags().Bool("compact", false, "write JSON without indentation")

	brightCmd.Flags().Float64("mag-limit", 6.5, "faintest magnitude (exclusive)")
	brightCmd.Flags().Bool("compact", false, "write JSON without indentation")
}

func runNear(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	setupLogging()

	x, _ := cmd.Flags().GetFloat64("x")
	y, _ := cmd.Flags().GetFloat64("y")
	z, _ := cmd.Flags().GetFloat64("z")
	radius, _ := cmd.Flags().GetFloat64("radius")
	limit, _ := cmd.Flags().GetInt("limit")
	magLimit, _ := cmd.Flags().GetFloat64("mag-limit")
	compact, _ := cmd.Flags().GetBool("compact")

	engine, err := newEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	res, err := engine.Near(ctx, query.NearParams{
		X: x, Y: y, Z: z,
		MaxDistance:    radius,
		MaxResults:     limit,
		MagnitudeLimit: magLimit,
	})
	if err != nil {
		return fmt.Errorf("near query failed: %w", err)
	}

	util.InfoLog("%s stars within %g pc of (%g, %g, %g) from %s",
		util.FormatCount(int64(len(res.Stars))), radius, x, y, z, res.Source)
	return writeResult(os.Stdout, res, compact)
}

func runBright(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	setupLogging()

	magLimit, _ := cmd.Flags().GetFloat64("mag-limit")
	compact, _ := cmd.Flags().GetBool("compact")

	engine, err := newEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	res, err := engine.Bright(ctx, magLimit)
	if err != nil {
		return fmt.Errorf("bright query failed: %w", err)
	}

	util.InfoLog("%s stars brighter than %s from %s",
		util.FormatCount(int64(len(res.Stars))), util.FormatMagnitude(magLimit), res.Source)
	return writeResult(os.Stdout, res, compact)
}

// writeResult writes the result's records as a JSON array
func writeResult(w io.Writer, res *query.Result, compact bool) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	if !compact {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(res.Stars); err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return bw.Flush()
}
