package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"curator/internal/daemonctl"
	"curator/internal/ipc"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the curator daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.EnsureStarted(
				ctx.socketPath(),
				exe,
				daemonLaunchOptions(ctx),
				10*time.Second,
			)
			if err != nil {
				return err
			}

			if result.Launched {
				fmt.Fprintln(stdout, "Daemon not running, launching...")
			}

			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintln(stdout, "Daemon started")
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			case daemonctl.StartStateRequested:
				if strings.TrimSpace(result.Message) != "" {
					fmt.Fprintln(stdout, result.Message)
					return nil
				}
				fmt.Fprintln(stdout, "Start request sent")
			}
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the curator daemon (completely terminates the process)",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(ctx.socketPath(), ctx.configValue(), 5*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if !result.StopAcknowledged {
				fmt.Fprintln(stdout, "Stop request sent")
			} else {
				fmt.Fprintln(stdout, "Stopping daemon engines...")
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Stopping daemon process (pid %d)...\n", result.PID)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, pipeline, and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			statusResp, err := daemonctl.BuildStatusSnapshot(cmd.Context(), ctx.socketPath(), cfg)
			if err != nil {
				return err
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			for _, line := range renderSectionHeader("System Status", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, line := range systemLines(statusResp, cfg != nil && cfg.Notifications.NtfyTopic != "") {
				fmt.Fprintln(stdout, renderStatusLine(line.label, line.kind, line.detail, colorize))
			}
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Dependencies", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, dep := range statusResp.Dependencies {
				if dep.Available {
					fmt.Fprintln(stdout, renderStatusLine(dep.Name, statusOK, fmt.Sprintf("Ready (command: %s)", dep.Command), colorize))
					continue
				}
				kind := statusError
				if dep.Optional {
					kind = statusWarn
				}
				fmt.Fprintln(stdout, renderStatusLine(dep.Name, kind, dep.Detail, colorize))
			}

			if len(statusResp.StepHealth) > 0 {
				fmt.Fprintln(stdout)
				for _, line := range renderSectionHeader("Step Health", colorize) {
					fmt.Fprintln(stdout, line)
				}
				for _, step := range statusResp.StepHealth {
					if step.Ready {
						fmt.Fprintln(stdout, renderStatusLine(step.Name, statusOK, "Ready", colorize))
					} else {
						fmt.Fprintln(stdout, renderStatusLine(step.Name, statusWarn, step.Detail, colorize))
					}
				}
			}

			fmt.Fprintln(stdout)
			for _, line := range renderSectionHeader("Job Queues", colorize) {
				fmt.Fprintln(stdout, line)
			}
			rows := buildQueueRows(statusResp.Queues)
			if len(rows) == 0 {
				fmt.Fprintln(stdout, "No jobs recorded")
				return nil
			}
			table := renderTable(
				[]string{"Queue", "Queued", "Running", "Done", "Dead"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
			)
			fmt.Fprintln(stdout, table)
			return nil
		},
	}

	return []*cobra.Command{startCmd, stopCmd, statusCmd}
}

type statusLine struct {
	label  string
	kind   statusKind
	detail string
}

func systemLines(resp *ipc.StatusResponse, notifyConfigured bool) []statusLine {
	lines := make([]statusLine, 0, 4)
	if resp.Running {
		lines = append(lines, statusLine{"Curator", statusOK, fmt.Sprintf("Running (pid %d)", resp.PID)})
		if resp.Poll.Running {
			lines = append(lines, statusLine{"Poll Engine", statusOK,
				fmt.Sprintf("Active (cycle %d, %d scanned, %d advanced)", resp.Poll.Cycles, resp.Poll.LastScanned, resp.Poll.LastAdvanced)})
		} else {
			detail := "Idle"
			if resp.Poll.StopReason != "" {
				detail = fmt.Sprintf("Idle (%s)", resp.Poll.StopReason)
			}
			lines = append(lines, statusLine{"Poll Engine", statusInfo, detail})
		}
		if resp.Poll.LastError != "" {
			lines = append(lines, statusLine{"Last Error", statusWarn, resp.Poll.LastError})
		}
	} else {
		lines = append(lines, statusLine{"Curator", statusWarn, "Not running (run `curator start`)"})
	}
	if notifyConfigured {
		lines = append(lines, statusLine{"Notifications", statusOK, "Configured"})
	} else {
		lines = append(lines, statusLine{"Notifications", statusInfo, "Not configured"})
	}
	return lines
}

func buildQueueRows(depths []ipc.QueueDepth) [][]string {
	rows := make([][]string, 0, len(depths))
	for _, depth := range depths {
		rows = append(rows, []string{
			depth.Queue,
			strconv.Itoa(depth.Queued),
			strconv.Itoa(depth.Running),
			strconv.Itoa(depth.Done),
			strconv.Itoa(depth.Dead),
		})
	}
	return rows
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func daemonLaunchOptions(ctx *commandContext) daemonctl.LaunchOptions {
	opts := daemonctl.LaunchOptions{}
	if ctx.socketFlag != nil {
		if socket := strings.TrimSpace(*ctx.socketFlag); socket != "" {
			opts.SocketPath = socket
		}
	}
	if ctx.configFlag != nil {
		if config := strings.TrimSpace(*ctx.configFlag); config != "" {
			opts.ConfigPath = config
		}
	}
	return opts
}
