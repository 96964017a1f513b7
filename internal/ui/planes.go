package ui

import (
	"fmt"

	"github.com/bnema/drmcursor/internal/display"
	"github.com/bnema/drmcursor/internal/drm"
)

// RenderPlanes renders the plane inventory of a device.
func RenderPlanes(planes []display.PlaneInfo) string {
	if len(planes) == 0 {
		return MutedStyle.Render("No planes found")
	}

	rows := make([][]string, 0, len(planes))
	for _, p := range planes {
		rows = append(rows, []string{
			fmt.Sprint(p.ID),
			p.TypeName,
			fmt.Sprintf("%#x", p.PossibleCrtcs),
			crtcString(p.CurrentCrtc),
			yesNo(p.CanLinear),
			yesNo(p.CanAFBC),
		})
	}

	return newTable().
		Headers("PLANE", "TYPE", "CRTCS", "IN USE", drm.FourCCString(drm.FormatARGB8888), "AFBC").
		Rows(rows...).
		String()
}

// RenderCRTCs renders the discovered CRTCs.
func RenderCRTCs(crtcs []display.CRTC) string {
	rows := make([][]string, 0, len(crtcs))
	for _, c := range crtcs {
		mode := "off"
		if c.Width > 0 && c.Height > 0 {
			mode = fmt.Sprintf("%dx%d", c.Width, c.Height)
		}
		prefer := "-"
		if c.PreferPlane != 0 {
			prefer = fmt.Sprint(c.PreferPlane)
		}
		rows = append(rows, []string{
			fmt.Sprint(c.ID),
			fmt.Sprint(c.Pipe),
			mode,
			prefer,
			yesNo(c.Blocked),
		})
	}

	return newTable().
		Headers("CRTC", "PIPE", "MODE", "PREFER", "BLOCKED").
		Rows(rows...).
		String()
}

func crtcString(id uint32) string {
	if id == 0 {
		return "-"
	}
	return fmt.Sprint(id)
}

func yesNo(b bool) string {
	if b {
		return SuccessStyle.Render(IconSuccess)
	}
	return MutedStyle.Render("-")
}
