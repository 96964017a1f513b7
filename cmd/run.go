package cmd

import (
	"context"
	"fmt"
	"image/color"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bnema/drmcursor/internal/cursor"
	"github.com/bnema/drmcursor/internal/display"
	"github.com/bnema/drmcursor/internal/drm"
	"github.com/bnema/drmcursor/internal/logger"
	"github.com/bnema/drmcursor/internal/sprite"
	"github.com/bnema/drmcursor/internal/ui"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Show a test cursor and move it across the screen",
	Long: `Create a cursor image in a dumb buffer, show it on a CRTC and move it
diagonally until interrupted. With --tui the state of every output is shown
live.`,
	RunE: runDemo,
}

var runOpts struct {
	crtc     uint32
	size     int
	interval time.Duration
	pattern  string
	tui      bool
}

func init() {
	f := runCmd.Flags()
	f.Uint32Var(&runOpts.crtc, "crtc", 0, "CRTC id, 0 for the first connected one")
	f.IntVar(&runOpts.size, "size", 64, "cursor size in pixels")
	f.DurationVar(&runOpts.interval, "interval", 100*time.Millisecond, "time between moves")
	f.StringVar(&runOpts.pattern, "pattern", "arrow", "cursor image (arrow or gradient)")
	f.BoolVar(&runOpts.tui, "tui", false, "show live output status")
	f.Uint32("prefer-plane", 0, "plane to try first")
	f.String("log-file", "", "log to this file")

	for _, name := range []string{"prefer-plane", "log-file"} {
		if err := viper.BindPFlag(name, f.Lookup(name)); err != nil {
			panic(err)
		}
	}
	rootCmd.AddCommand(runCmd)
}

// fillCursor draws the demo image into buf.
func fillCursor(buf *drm.DumbBuffer, pattern string) error {
	switch pattern {
	case "arrow":
		img := sprite.Arrow(int(buf.Width), color.White)
		sprite.WriteARGB8888(buf.Data, int(buf.Pitch), img)
	case "gradient":
		w, h := int(buf.Width), int(buf.Height)
		for y := 0; y < h; y++ {
			row := buf.Data[y*int(buf.Pitch):]
			for x := 0; x < w; x++ {
				// translucent red/green ramp
				row[x*4+0] = 0
				row[x*4+1] = byte(y)
				row[x*4+2] = byte(x * 2)
				row[x*4+3] = 0x4f
			}
		}
	default:
		return fmt.Errorf("unknown pattern %q", pattern)
	}
	return nil
}

func runDemo(cmd *cobra.Command, args []string) error {
	if runOpts.size <= 0 {
		return fmt.Errorf("invalid cursor size %d", runOpts.size)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dc, err := display.Open(cfg.Device, cfg)
	if err != nil {
		return err
	}
	defer dc.Close()

	m := cursor.NewManager(dc)
	defer m.Close()

	size := uint32(runOpts.size)
	buf, err := dc.Device.CreateDumb(size, size, 32)
	if err != nil {
		return fmt.Errorf("create cursor buffer: %w", err)
	}
	defer dc.Device.DestroyDumb(buf)

	if err := fillCursor(buf, runOpts.pattern); err != nil {
		return err
	}

	if err := m.SetCursor(runOpts.crtc, buf.Handle, runOpts.size, runOpts.size); err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	logger.Info("cursor shown", "crtc", runOpts.crtc, "handle", buf.Handle, "size", runOpts.size)

	var wg conc.WaitGroup
	wg.Go(func() {
		if err := logger.WatchDebugFlag(ctx, logger.DebugFlagFile); err != nil {
			logger.Debug("debug flag not watched", "error", err)
		}
	})
	wg.Go(func() {
		moveLoop(ctx, m, runOpts.crtc, runOpts.interval)
	})
	defer wg.Wait()

	if !runOpts.tui {
		<-ctx.Done()
		return nil
	}
	return runStatusUI(ctx, stop, m)
}

// moveLoop moves the cursor along the diagonal until ctx is done.
func moveLoop(ctx context.Context, m *cursor.Manager, crtcID uint32, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		pos := i % 1024
		if err := m.MoveCursor(crtcID, pos, pos); err != nil {
			logger.Warn("move cursor", "crtc", crtcID, "error", err)
		}
	}
}

// programWriter turns log lines into activity messages of the status UI.
type programWriter struct {
	p *tea.Program
}

func (w programWriter) Write(b []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimSpace(string(b)), "\n") {
		if line == "" {
			continue
		}
		t := ui.MessageInfo
		switch {
		case strings.Contains(line, "ERRO"):
			t = ui.MessageError
		case strings.Contains(line, "WARN"):
			t = ui.MessageWarning
		}
		w.p.Send(ui.LogLineMsg{Type: t, Content: line})
	}
	return len(b), nil
}

func runStatusUI(ctx context.Context, stop context.CancelFunc, m *cursor.Manager) error {
	model := ui.NewStatusModel(cfg.Device, m.Status, 250*time.Millisecond)
	p := tea.NewProgram(model, tea.WithContext(ctx), tea.WithAltScreen())

	logger.SetOutput(programWriter{p: p})
	defer logger.SetOutput(nil)

	_, err := p.Run()
	// quitting the UI stops the demo
	stop()
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("status UI: %w", err)
	}
	return nil
}
