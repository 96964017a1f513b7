package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/bnema/drmcursor/internal/display"
	"github.com/bnema/drmcursor/internal/ui"
	"github.com/spf13/cobra"
)

var planesCmd = &cobra.Command{
	Use:   "planes",
	Short: "List CRTCs and planes of the device",
	Long: `List the CRTCs and planes of the DRM device with the details used to pick
a cursor plane: type, the CRTCs it can feed and whether it scans out
ARGB8888 linear or AFBC buffers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dc, err := display.Open(cfg.Device, cfg)
		if err != nil {
			return err
		}
		defer dc.Close()

		return printPlanes(cmd, dc)
	},
}

func init() {
	planesCmd.Flags().Bool("json", false, "print JSON")
	rootCmd.AddCommand(planesCmd)
}

type planesReport struct {
	Device string              `json:"device"`
	CRTCs  []display.CRTC      `json:"crtcs"`
	Planes []display.PlaneInfo `json:"planes"`
}

func printPlanes(cmd *cobra.Command, dc *display.Context) error {
	out := cmd.OutOrStdout()
	report := planesReport{Device: cfg.Device, CRTCs: dc.CRTCs, Planes: dc.DescribePlanes()}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Fprintln(out, ui.HeaderStyle.Render("CRTCs on "+report.Device))
	fmt.Fprintln(out, ui.RenderCRTCs(report.CRTCs))
	fmt.Fprintln(out)
	fmt.Fprintln(out, ui.HeaderStyle.Render("Planes"))
	fmt.Fprintln(out, ui.RenderPlanes(report.Planes))
	return nil
}
