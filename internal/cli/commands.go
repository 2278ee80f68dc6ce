// Package cli implements the interactive operator console that runs next to
// the status listener.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/energizer-project/pingcache/internal/db"
	"github.com/energizer-project/pingcache/internal/events"
	"github.com/energizer-project/pingcache/internal/motd"
	"github.com/energizer-project/pingcache/internal/server"
)

const actor = "console"

// errQuit ends the command loop.
var errQuit = errors.New("quit")

// Options are the console's collaborators. Manager, In and Out are
// required.
type Options struct {
	Manager *server.Manager
	Audit   *db.AuditLog
	Bus     *events.EventBus
	In      io.Reader
	Out     io.Writer
	// OnQuit is called when the operator types quit.
	OnQuit func()
}

// CLI provides an interactive command-line interface.
type CLI struct {
	manager *server.Manager
	audit   *db.AuditLog
	bus     *events.EventBus
	in      io.Reader
	out     io.Writer
	onQuit  func()
}

// NewCLI creates a new CLI handler.
func NewCLI(opts Options) *CLI {
	return &CLI{
		manager: opts.Manager,
		audit:   opts.Audit,
		bus:     opts.Bus,
		in:      opts.In,
		out:     opts.Out,
		onQuit:  opts.OnQuit,
	}
}

// Start runs the command loop until ctx is cancelled, the input ends or
// the operator quits.
func (c *CLI) Start(ctx context.Context) error {
	fmt.Fprintln(c.out, "\npingcache console ready. Type 'help' for available commands.")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		fmt.Fprint(c.out, "pingcache> ")
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			err := c.Execute(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
		}
	}
}

// Execute runs one command line.
func (c *CLI) Execute(ctx context.Context, line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(parts[0]), parts[1:]

	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "holders":
		c.printHolders()
	case "reload":
		return c.cmdReload(ctx)
	case "maintenance", "m":
		return c.cmdMaintenance(ctx, args)
	case "whitelist", "wl":
		return c.cmdWhitelist(ctx, args)
	case "shutdown":
		return c.cmdShutdown(ctx, args)
	case "players":
		return c.cmdPlayers(ctx, args)
	case "audit":
		return c.cmdAudit(args)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down pingcache...")
		if c.bus != nil {
			c.bus.Emit(ctx, events.New(events.EventShutdown, "cli", nil))
		}
		if c.onQuit != nil {
			c.onQuit()
		}
		return errQuit
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, `
  status                         Show installed content and occupancy
  holders                        List every pre-encoded response
  reload                         Re-read config.json and rebuild content
  maintenance [on|off|toggle]    Show or switch maintenance mode
  whitelist list                 List the maintenance kick whitelist
  whitelist add <ip|cidr> [note] Allow an address to join in maintenance
  whitelist remove <ip|cidr>     Remove a whitelist entry
  shutdown [on|off|toggle]       Show or switch the shutdown scheduler
  players <n>                    Set the static player count
  audit [n]                      Show the last n admin actions
  quit                           Stop pingcache
  help                           Show this help message`)
}

func (c *CLI) newTable(header ...string) *tablewriter.Table {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

func (c *CLI) printStatus() {
	st := c.manager.Status()

	fmt.Fprintln(c.out)
	fmt.Fprintf(c.out, "  Generation:   %d (built %s)\n", st.Generation, formatTime(st.BuiltAt))
	fmt.Fprintf(c.out, "  Maintenance:  %v\n", st.Maintenance)
	fmt.Fprintf(c.out, "  Draining:     %v\n", st.ShutdownScheduled)
	fmt.Fprintf(c.out, "  Players:      %d reported, %d/%d shown (%s)\n",
		st.Occupancy.Reported, st.Occupancy.Online, st.Occupancy.Max, st.PlayerSource)
	fmt.Fprintf(c.out, "  Last update:  %s every %s\n", formatTime(st.LastUpdate), st.UpdateRate)
	fmt.Fprintf(c.out, "  Whitelist:    %d entries\n", st.Whitelist)
	fmt.Fprintf(c.out, "  Problems:     %d\n", st.Problems)
	fmt.Fprintln(c.out)

	tw := c.newTable("Set", "Generators", "Domains", "Variants", "Holders", "Bytes", "Protocol")
	for _, stats := range []motd.SetStats{st.Default, st.MaintenanceSet} {
		protocolCol := "hidden"
		if stats.ShowProtocol {
			protocolCol = "client"
		}
		tw.Append([]string{
			stats.Name,
			strconv.Itoa(stats.Generators),
			strconv.Itoa(stats.Domains),
			strconv.Itoa(stats.Variants),
			strconv.Itoa(stats.Holders),
			strconv.Itoa(stats.Bytes),
			protocolCol,
		})
	}
	tw.Render()
	fmt.Fprintln(c.out)
}

func (c *CLI) printHolders() {
	tw := c.newTable("Set", "Generator", "Era", "Bytes", "Online", "Max")
	for _, h := range c.manager.Holders() {
		tw.Append([]string{
			h.Set,
			h.Generator,
			h.Era,
			strconv.Itoa(h.Size),
			strconv.Itoa(h.Online),
			strconv.Itoa(h.Max),
		})
	}
	tw.Render()
}

func (c *CLI) cmdReload(ctx context.Context) error {
	if err := c.manager.Reload(ctx, actor); err != nil {
		return err
	}
	st := c.manager.Status()
	fmt.Fprintf(c.out, "Content reloaded: generation %d, %d holders\n",
		st.Generation, st.Default.Holders+st.MaintenanceSet.Holders)
	return nil
}

func (c *CLI) cmdMaintenance(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprintf(c.out, "Maintenance mode is %s\n", onOff(c.manager.Maintenance()))
		return nil
	}

	var (
		enabled bool
		err     error
	)
	switch strings.ToLower(args[0]) {
	case "on":
		enabled = true
		err = c.manager.SetMaintenance(ctx, true, actor)
	case "off":
		err = c.manager.SetMaintenance(ctx, false, actor)
	case "toggle":
		enabled, err = c.manager.ToggleMaintenance(ctx, actor)
	default:
		return fmt.Errorf("usage: maintenance [on|off|toggle]")
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Maintenance mode is %s\n", onOff(enabled))
	return nil
}

func (c *CLI) cmdShutdown(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprintf(c.out, "Shutdown scheduler is %s\n", onOff(c.manager.ShutdownScheduled()))
		return nil
	}

	var (
		enabled bool
		err     error
	)
	switch strings.ToLower(args[0]) {
	case "on":
		enabled = true
		err = c.manager.SetShutdownScheduled(ctx, true, actor)
	case "off":
		err = c.manager.SetShutdownScheduled(ctx, false, actor)
	case "toggle":
		enabled, err = c.manager.ToggleShutdownScheduled(ctx, actor)
	default:
		return fmt.Errorf("usage: shutdown [on|off|toggle]")
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Shutdown scheduler is %s\n", onOff(enabled))
	return nil
}

func (c *CLI) cmdWhitelist(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: whitelist list|add|remove")
	}

	switch strings.ToLower(args[0]) {
	case "list", "ls":
		entries, err := c.manager.Whitelist()
		if err != nil {
			return err
		}
		tw := c.newTable("Entry", "Source", "Note", "Added")
		for _, e := range entries {
			tw.Append([]string{e.Entry, e.Source, e.Note, formatTime(e.CreatedAt)})
		}
		tw.Render()

	case "add":
		if len(args) < 2 {
			return fmt.Errorf("usage: whitelist add <ip|cidr> [note]")
		}
		added, err := c.manager.AddWhitelist(ctx, args[1], strings.Join(args[2:], " "), actor)
		if err != nil {
			return err
		}
		if added {
			fmt.Fprintf(c.out, "Added %s to the whitelist\n", args[1])
		} else {
			fmt.Fprintf(c.out, "%s is already whitelisted\n", args[1])
		}

	case "remove", "rm":
		if len(args) < 2 {
			return fmt.Errorf("usage: whitelist remove <ip|cidr>")
		}
		removed, err := c.manager.RemoveWhitelist(ctx, args[1], actor)
		if err != nil {
			return err
		}
		if removed {
			fmt.Fprintf(c.out, "Removed %s from the whitelist\n", args[1])
		} else {
			fmt.Fprintf(c.out, "%s is not whitelisted\n", args[1])
		}

	default:
		return fmt.Errorf("usage: whitelist list|add|remove")
	}
	return nil
}

func (c *CLI) cmdPlayers(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: players <count>")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 {
		return fmt.Errorf("invalid count: %s", args[0])
	}

	occ, err := c.manager.SetPlayers(ctx, n, actor)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Players set to %d, showing %d/%d\n", n, occ.Online, occ.Max)
	return nil
}

func (c *CLI) cmdAudit(args []string) error {
	if c.audit == nil {
		return fmt.Errorf("audit log not available")
	}
	limit := 20
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid count: %s", args[0])
		}
		limit = n
	}

	entries, err := c.audit.Recent(limit)
	if err != nil {
		return err
	}
	tw := c.newTable("Time", "Actor", "Action", "Detail")
	for _, e := range entries {
		tw.Append([]string{formatTime(e.CreatedAt), e.Actor, e.Action, e.Detail})
	}
	tw.Render()
	return nil
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
