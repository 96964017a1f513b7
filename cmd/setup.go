package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bnema/drmcursor/internal/config"
	"github.com/bnema/drmcursor/internal/display"
	"github.com/bnema/drmcursor/internal/logger"
	"github.com/bnema/drmcursor/internal/ui"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Write the drmcursor configuration interactively",
	Long: `Ask for the cursor settings and write them to the configuration file.

Planes found on the device are offered as preferred plane; the file can be
edited by hand later, one key=value per line.`,
	RunE: runSetup,
}

func init() {
	setupCmd.Flags().Bool("defaults", false, "write the current settings without asking")
	rootCmd.AddCommand(setupCmd)
}

// setupAnswers holds the form fields; numeric fields are edited as text.
type setupAnswers struct {
	Debug        bool
	Hide         bool
	AllowOverlay bool
	PreferAFBC   bool
	Atomic       bool
	Backend      string
	PreferPlane  uint32
	MaxFPS       string
	NumSurfaces  string
	Blocklist    string
}

func newSetupAnswers(c *config.Config) *setupAnswers {
	blocked := make([]string, len(c.CrtcBlocklist))
	for i, id := range c.CrtcBlocklist {
		blocked[i] = strconv.FormatUint(uint64(id), 10)
	}
	return &setupAnswers{
		Debug:        c.Debug,
		Hide:         c.Hide,
		AllowOverlay: c.AllowOverlay,
		PreferAFBC:   c.PreferAFBC,
		Atomic:       c.Atomic,
		Backend:      c.Backend,
		PreferPlane:  c.PreferPlane,
		MaxFPS:       strconv.Itoa(c.MaxFPS),
		NumSurfaces:  strconv.Itoa(c.NumSurfaces),
		Blocklist:    strings.Join(blocked, ","),
	}
}

func intInRange(lo, hi int) func(string) error {
	return func(s string) error {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("not a number")
		}
		if n < lo || n > hi {
			return fmt.Errorf("must be between %d and %d", lo, hi)
		}
		return nil
	}
}

func validIDList(s string) error {
	_, err := config.ParseIDList(s)
	return err
}

func (a *setupAnswers) form(planes []display.PlaneInfo) *huh.Form {
	planeOptions := []huh.Option[uint32]{huh.NewOption("automatic", uint32(0))}
	for _, p := range planes {
		if !p.CanLinear && !p.CanAFBC {
			continue
		}
		label := fmt.Sprintf("%d (%s, crtcs %#x)", p.ID, p.TypeName, p.PossibleCrtcs)
		planeOptions = append(planeOptions, huh.NewOption(label, p.ID))
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Conversion backend").
				Options(
					huh.NewOption("GPU (EGL/GLES)", config.BackendEGL),
					huh.NewOption("CPU copy", config.BackendCPU),
				).
				Value(&a.Backend),
			huh.NewSelect[uint32]().
				Title("Preferred plane").
				Options(planeOptions...).
				Value(&a.PreferPlane),
			huh.NewConfirm().
				Title("Use overlay planes when no cursor plane is free?").
				Value(&a.AllowOverlay),
			huh.NewConfirm().
				Title("Prefer AFBC when the plane supports it?").
				Value(&a.PreferAFBC),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Maximum updates per second").
				Value(&a.MaxFPS).
				Validate(intInRange(1, 1000)),
			huh.NewInput().
				Title("Render surfaces per output").
				Value(&a.NumSurfaces).
				Validate(intInRange(1, config.MaxSurfaces)),
			huh.NewInput().
				Title("CRTCs to leave alone").
				Description("Comma separated CRTC ids").
				Value(&a.Blocklist).
				Validate(validIDList),
			huh.NewConfirm().
				Title("Use atomic commits?").
				Value(&a.Atomic),
			huh.NewConfirm().
				Title("Enable debug logging?").
				Value(&a.Debug),
		),
	)
}

// apply copies the answers into c.
func (a *setupAnswers) apply(c *config.Config) error {
	fps, err := strconv.Atoi(strings.TrimSpace(a.MaxFPS))
	if err != nil {
		return fmt.Errorf("max-fps: %w", err)
	}
	surfaces, err := strconv.Atoi(strings.TrimSpace(a.NumSurfaces))
	if err != nil {
		return fmt.Errorf("num-surfaces: %w", err)
	}
	blocked, err := config.ParseIDList(a.Blocklist)
	if err != nil {
		return fmt.Errorf("crtc-blocklist: %w", err)
	}

	c.Debug = a.Debug
	c.Hide = a.Hide
	c.AllowOverlay = a.AllowOverlay
	c.PreferAFBC = a.PreferAFBC
	c.Atomic = a.Atomic
	c.Backend = a.Backend
	c.PreferPlane = a.PreferPlane
	c.MaxFPS = fps
	c.NumSurfaces = surfaces
	c.CrtcBlocklist = blocked
	return nil
}

func runSetup(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, ui.FormatSetupHeader("drmcursor setup"))

	answers := newSetupAnswers(cfg)
	if skip, _ := cmd.Flags().GetBool("defaults"); !skip {
		var planes []display.PlaneInfo
		if dc, err := display.Open(cfg.Device, cfg); err == nil {
			planes = dc.DescribePlanes()
			dc.Close()
		} else {
			logger.Warn("cannot list planes", "device", cfg.Device, "error", err)
		}

		if err := answers.form(planes).Run(); err != nil {
			return fmt.Errorf("setup cancelled: %w", err)
		}
	}

	updated := *cfg
	if err := answers.apply(&updated); err != nil {
		return err
	}
	if err := config.Save(&updated, configPath); err != nil {
		fmt.Fprintln(out, ui.FormatSetupResult(false, "Write configuration", err.Error()))
		return err
	}
	fmt.Fprintln(out, ui.FormatSetupResult(true, "Write configuration", configPath))
	return nil
}
