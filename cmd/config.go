package cmd

import (
	"fmt"

	"github.com/bnema/drmcursor/internal/ui"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the drmcursor configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Show the configuration after applying defaults, the configuration file,
environment overrides and command-line flags.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		plain, _ := cmd.Flags().GetBool("plain")

		if plain {
			for _, kv := range cfg.Pairs() {
				fmt.Fprintf(out, "%s=%s\n", kv[0], kv[1])
			}
			return nil
		}

		rows := make([][]string, 0, len(cfg.Pairs())+1)
		for _, kv := range cfg.Pairs() {
			rows = append(rows, []string{kv[0], kv[1]})
		}
		rows = append(rows, []string{"device", cfg.Device})

		t := table.New().
			Border(lipgloss.RoundedBorder()).
			BorderStyle(ui.TableBorderStyle).
			StyleFunc(func(row, col int) lipgloss.Style {
				switch {
				case row == table.HeaderRow:
					return ui.TableHeaderStyle
				case col == 0:
					return ui.TableCellStyle.Foreground(ui.ColorInfo)
				default:
					return ui.TableCellStyle
				}
			}).
			Headers("KEY", "VALUE").
			Rows(rows...)

		fmt.Fprintln(out, ui.SubtleStyle.Render("Config file: "+configPath))
		fmt.Fprintln(out, t.String())
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file path",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), configPath)
	},
}

func init() {
	configShowCmd.Flags().Bool("plain", false, "print key=value lines")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}
