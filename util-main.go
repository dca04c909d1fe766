package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BKSalman/buddaraysh/common/ipc"
	"github.com/BKSalman/buddaraysh/config"
	"github.com/BKSalman/buddaraysh/util"
	"github.com/ThomasT75/uinput"
	"github.com/adrg/xdg"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	colorHeader = lipgloss.Color("39")
	colorKey    = lipgloss.Color("86")
	colorText   = lipgloss.Color("252")
	colorSubtle = lipgloss.Color("241")
	colorActive = lipgloss.Color("82")

	toolCmd = &cobra.Command{
		Use:   "tool",
		Short: "Tools for figuring out configurations of a running compositor",
		Long: `In tool mode, buddaraysh talks to a running compositor over its control socket.
The compositor is picked by --socket, the socket_name of the config or $WAYLAND_DISPLAY.`,
	}

	toolOutputsCmd = &cobra.Command{
		Use:   "outputs",
		Short: "List available outputs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := toolRequest(cmd, ipc.Request{Kind: ipc.KindOutputs, Outputs: &ipc.OutputRequest{}})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"NAME", "MAKE", "MODEL", "POSITION", "SIZE", "REFRESH", "SCALE", "STATE", "WORKSPACE"},
				outputRows(resp.Outputs),
				-1,
			))
			return nil
		},
	}

	toolModesCmd = &cobra.Command{
		Use:   "modes <output>",
		Short: "List available modes for an output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := toolRequest(cmd, ipc.Request{
				Kind:    ipc.KindOutputs,
				Outputs: &ipc.OutputRequest{IncludeModes: true, TargetOutput: args[0]},
			})
			if err != nil {
				return err
			}
			rows := modeRows(resp.Outputs, args[0])
			if len(rows) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Output %s reports no modes\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Modes for output %s:\n", args[0])
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"SIZE", "REFRESH", "STATUS"}, rows, 2))
			return nil
		},
	}

	toolSurfacesCmd = &cobra.Command{
		Use:   "surfaces",
		Short: "List the surfaces of every client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := toolRequest(cmd, ipc.Request{Kind: ipc.KindSurfaces})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "CLIENT", "ROLE", "TITLE", "APP", "GEOMETRY", "WORKSPACE", "VISIBLE"},
				surfaceRows(resp.Surfaces),
				-1,
			))
			return nil
		},
	}

	toolSeatCmd = &cobra.Command{
		Use:   "seat",
		Short: "Show pointer and keyboard state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := toolRequest(cmd, ipc.Request{Kind: ipc.KindSeat})
			if err != nil {
				return err
			}
			if resp.Seat == nil {
				return errors.New("compositor sent no seat state")
			}
			s := resp.Seat
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"KEY", "VALUE"}, [][]string{
				{"cursor", fmt.Sprintf("%.1f, %.1f", s.CursorX, s.CursorY)},
				{"cursor mode", s.CursorMode},
				{"pointer focus", strconv.FormatUint(uint64(s.PointerFocus), 10)},
				{"keyboard focus", strconv.FormatUint(uint64(s.KeyboardFocus), 10)},
				{"modifiers", fmt.Sprintf("%#x", s.Modifiers)},
			}, -1))
			return nil
		},
	}

	toolActionCmd = &cobra.Command{
		Use:   "action <name> [arg]",
		Short: "Run an action: spawn [cmd], quit, workspace <n>, close, focus-next",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := toolRequest(cmd, ipc.Request{
				Kind:   ipc.KindAction,
				Action: args[0],
				Arg:    strings.Join(args[1:], " "),
			})
			if err != nil {
				return err
			}
			if resp.Message != "" {
				fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
			}
			return nil
		},
	}

	toolInjectCmd = &cobra.Command{
		Use:   "inject",
		Short: "Drive a virtual pointer through uinput",
		Long: `Creates a virtual mouse through /dev/uinput and moves it, which the direct backend
picks up like any other pointer. Needs write access to /dev/uinput.`,
		Args: cobra.NoArgs,
		RunE: runInject,
	}
)

func init() {
	toolInjectCmd.Flags().Int32("dx", 100, "Horizontal distance to move")
	toolInjectCmd.Flags().Int32("dy", 0, "Vertical distance to move")
	toolInjectCmd.Flags().Int("steps", 10, "Number of motion events the distance is split into")
	toolInjectCmd.Flags().String("click", "none", "Button to click after moving: none, left, right")
	toolInjectCmd.Flags().Int32("wheel", 0, "Vertical wheel clicks after moving")
	toolInjectCmd.Flags().String("device", "/dev/uinput", "The uinput device node")

	toolCmd.AddCommand(toolOutputsCmd)
	toolCmd.AddCommand(toolModesCmd)
	toolCmd.AddCommand(toolSurfacesCmd)
	toolCmd.AddCommand(toolSeatCmd)
	toolCmd.AddCommand(toolActionCmd)
	toolCmd.AddCommand(toolInjectCmd)
}

// controlSocket finds the control socket of the compositor serving the configured wayland socket
func controlSocket(conf *config.Config) (string, error) {
	name := conf.SocketName
	if name == "" {
		name = os.Getenv("WAYLAND_DISPLAY")
	}
	if name == "" {
		return "", errors.New("no compositor selected: set --socket or WAYLAND_DISPLAY")
	}
	return ipc.SocketPath(xdg.RuntimeDir, name), nil
}

func toolRequest(cmd *cobra.Command, req ipc.Request) (ipc.Response, error) {
	conf, err := loadConfig(cmd)
	if err != nil {
		return ipc.Response{}, err
	}
	path, err := controlSocket(conf)
	if err != nil {
		return ipc.Response{}, err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()
	logrus.WithFields(logrus.Fields{"socket": path, "kind": req.Kind}).Debugln("Sending control request")
	return ipc.Send(ctx, path, req)
}

func outputRows(resp *ipc.OutputResponse) [][]string {
	if resp == nil {
		return nil
	}
	rows := make([][]string, 0, len(resp.Outputs))
	for _, o := range resp.Outputs {
		rows = append(rows, []string{
			o.Name,
			o.Make,
			o.Model,
			fmt.Sprintf("%d,%d", o.X, o.Y),
			fmt.Sprintf("%dx%d", o.Width, o.Height),
			formatRefresh(o.Refresh),
			strconv.Itoa(o.Scale),
			o.State,
			strconv.Itoa(o.Workspace),
		})
	}
	return rows
}

func modeRows(resp *ipc.OutputResponse, name string) [][]string {
	if resp == nil {
		return nil
	}
	if _, ok := util.First(resp.Outputs, func(o ipc.OutputInfo) bool { return o.Name == name }); !ok {
		return nil
	}
	var rows [][]string
	for _, m := range resp.OutputModes[name] {
		rows = append(rows, []string{
			fmt.Sprintf("%dx%d", m.Width, m.Height),
			formatRefresh(m.RefreshRate),
			strings.TrimSpace(strings.Trim(modeNote(m), " ()")),
		})
	}
	return rows
}

func formatRefresh(mhz int) string {
	if mhz <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.2f Hz", float64(mhz)/1000)
}

func surfaceRows(surfaces []ipc.SurfaceInfo) [][]string {
	rows := make([][]string, 0, len(surfaces))
	for _, s := range surfaces {
		role := s.Role
		if s.Legacy {
			role += " (X11)"
		}
		visible := ""
		if s.Visible {
			visible = "◀"
		}
		rows = append(rows, []string{
			strconv.FormatUint(uint64(s.ID), 10),
			strconv.FormatUint(s.Client, 10),
			role,
			s.Title,
			s.AppID,
			fmt.Sprintf("%dx%d+%d+%d", s.Width, s.Height, s.X, s.Y),
			strconv.Itoa(s.Workspace),
			visible,
		})
	}
	return rows
}

// renderTable draws rows below headers. Non-empty cells of markCol get highlighted
func renderTable(headers []string, rows [][]string, markCol int) string {
	if len(rows) == 0 {
		return lipgloss.NewStyle().Foreground(colorSubtle).Render("Nothing to show")
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorSubtle)).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return lipgloss.NewStyle().Foreground(colorHeader).Bold(true).Padding(0, 1)
			case col == markCol && row >= 0 && row < len(rows) && rows[row][col] != "":
				return lipgloss.NewStyle().Foreground(colorActive).Bold(true).Padding(0, 1)
			case col == 0:
				return lipgloss.NewStyle().Foreground(colorKey).Bold(true).Padding(0, 1)
			default:
				return lipgloss.NewStyle().Foreground(colorText).Padding(0, 1)
			}
		}).
		Headers(headers...).
		Rows(rows...)
	return t.String()
}

func runInject(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	dx, _ := flags.GetInt32("dx")
	dy, _ := flags.GetInt32("dy")
	steps, _ := flags.GetInt("steps")
	click, _ := flags.GetString("click")
	wheel, _ := flags.GetInt32("wheel")
	device, _ := flags.GetString("device")
	if steps < 1 {
		return fmt.Errorf("steps must be at least 1, got %d", steps)
	}
	if click != "none" && click != "left" && click != "right" {
		return fmt.Errorf("unknown button %q", click)
	}

	mouse, err := uinput.CreateMouse(device, []byte("buddaraysh virtual pointer"))
	if err != nil {
		return fmt.Errorf("failed to create virtual mouse: %w", err)
	}
	defer mouse.Close()
	// udev needs a moment before the new device shows up for the compositor
	time.Sleep(500 * time.Millisecond)

	for i, step := range splitDistance(dx, dy, steps) {
		if err := mouse.Move(step[0], step[1]); err != nil {
			return fmt.Errorf("motion %d: %w", i, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	switch click {
	case "left":
		if err := mouse.LeftPress(); err != nil {
			return err
		}
		if err := mouse.LeftRelease(); err != nil {
			return err
		}
	case "right":
		if err := mouse.RightPress(); err != nil {
			return err
		}
		if err := mouse.RightRelease(); err != nil {
			return err
		}
	}
	if wheel != 0 {
		if err := mouse.Wheel(false, wheel); err != nil {
			return err
		}
	}
	logrus.WithFields(logrus.Fields{"dx": dx, "dy": dy, "click": click, "wheel": wheel}).Infoln("Injected pointer input")
	return nil
}

// splitDistance cuts a motion into steps that add up to exactly dx, dy
func splitDistance(dx, dy int32, steps int) [][2]int32 {
	out := make([][2]int32, steps)
	var sentX, sentY int32
	for i := range steps {
		x := dx * int32(i+1) / int32(steps)
		y := dy * int32(i+1) / int32(steps)
		out[i] = [2]int32{x - sentX, y - sentY}
		sentX, sentY = x, y
	}
	return out
}
