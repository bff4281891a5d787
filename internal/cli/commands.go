// Package cli implements the operator console read from standard input.
// Built-in table views cover players, levels and bans; every other line is
// run as a server command by the console sender.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"

	"github.com/cubeforge-project/cubeforge/internal/config"
	"github.com/cubeforge-project/cubeforge/internal/server"
	"github.com/cubeforge-project/cubeforge/internal/util"
)

// CLI provides the interactive command-line interface.
type CLI struct {
	cfg    *config.Config
	game   *server.Server
	in     io.Reader
	out    io.Writer
	logger zerolog.Logger
}

// NewCLI creates a console reading lines from in and writing to out.
func NewCLI(cfg *config.Config, game *server.Server, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		cfg:    cfg,
		game:   game,
		in:     in,
		out:    out,
		logger: util.ComponentLogger("cli"),
	}
}

// Start reads commands until ctx is cancelled or the input ends.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "Console ready. Type 'help' for available commands.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			c.logger.Warn().Err(err).Msg("console input failed")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := c.Execute(line); err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
		}
	}
}

// Execute processes a single console line.
func (c *CLI) Execute(line string) error {
	line = strings.TrimPrefix(strings.TrimSpace(line), "/")
	if line == "" {
		return nil
	}
	parts := strings.Fields(line)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()
		return c.runGameCommand("help")
	case "status":
		c.printStatus()
	case "list", "players":
		c.printPlayers()
	case "levels":
		c.printLevels()
	case "bans":
		return c.printBans()
	case "lag":
		c.printLag()
	case "setconfig":
		return c.cmdSetConfig(args)
	case "quit", "exit":
		fmt.Fprintln(c.out, "Shutting down...")
		c.game.RequestStop()
	default:
		return c.runGameCommand(line)
	}
	return nil
}

func (c *CLI) runGameCommand(line string) error {
	c.game.RunCommand(c.game.NewConsoleSender(c.out), line)
	return nil
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, "Console commands:")
	fmt.Fprintln(c.out, "  status              Server summary")
	fmt.Fprintln(c.out, "  list                Connected players")
	fmt.Fprintln(c.out, "  levels              Loaded levels")
	fmt.Fprintln(c.out, "  bans                Ban list")
	fmt.Fprintln(c.out, "  lag                 Tick lag statistics")
	fmt.Fprintln(c.out, "  setconfig <k> <v>   Update a server setting")
	fmt.Fprintln(c.out, "  quit                Stop the server")
	fmt.Fprintln(c.out, "Server commands:")
}

func (c *CLI) newTable(header ...string) *tablewriter.Table {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

func (c *CLI) printStatus() {
	st := c.game.Status()
	tw := c.newTable("Name", "Players", "Levels", "Ticks", "Uptime")
	tw.Append([]string{
		st.Name,
		fmt.Sprintf("%d/%d", st.Players, st.MaxPlayers),
		strconv.Itoa(st.Levels),
		strconv.FormatUint(st.Ticks, 10),
		st.Uptime,
	})
	tw.Render()
}

func (c *CLI) printPlayers() {
	players := c.game.Players()
	if len(players) == 0 {
		fmt.Fprintln(c.out, "No players connected.")
		return
	}
	sort.Slice(players, func(i, j int) bool { return players[i].ID < players[j].ID })

	tw := c.newTable("ID", "Name", "State", "Level", "Rank", "Software", "IP", "Online")
	for _, p := range players {
		tw.Append([]string{
			strconv.Itoa(p.ID),
			p.Name,
			p.State,
			p.Level,
			strconv.Itoa(p.Rank),
			p.Software,
			p.IP,
			time.Since(p.ConnectedAt).Round(time.Second).String(),
		})
	}
	tw.Render()
}

func (c *CLI) printLevels() {
	tw := c.newTable("Name", "Size", "Players", "Entities", "Weather", "Unsaved")
	for _, l := range c.game.Levels() {
		tw.Append([]string{
			l.Name,
			fmt.Sprintf("%dx%dx%d", l.SizeX, l.SizeY, l.SizeZ),
			strconv.Itoa(l.Players),
			strconv.Itoa(l.Entities),
			l.Weather,
			strconv.FormatBool(l.Dirty),
		})
	}
	tw.Render()
}

func (c *CLI) printBans() error {
	bans, err := c.game.Bans()
	if err != nil {
		return err
	}
	if len(bans) == 0 {
		fmt.Fprintln(c.out, "No bans.")
		return nil
	}
	tw := c.newTable("Name", "IP", "Reason", "Since")
	for _, b := range bans {
		tw.Append([]string{b.Name, b.IP, b.Reason, b.CreatedAt.Format("2006-01-02 15:04")})
	}
	tw.Render()
	return nil
}

func (c *CLI) printLag() {
	stats := c.game.LagMonitor().Stats()
	tw := c.newTable("Ticks", "Long ticks", "Last hour", "Max (ms)", "Avg (ms)")
	tw.Append([]string{
		strconv.FormatUint(stats.TotalTicks, 10),
		strconv.Itoa(stats.LongTicks),
		strconv.Itoa(stats.EventsThisHour),
		fmt.Sprintf("%.1f", stats.MaxDuration),
		fmt.Sprintf("%.1f", stats.AvgDuration),
	})
	tw.Render()
}

func (c *CLI) cmdSetConfig(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: setconfig <key> <value>")
	}

	key := args[0]
	raw := strings.Join(args[1:], " ")
	var value interface{} = raw
	if n, err := strconv.Atoi(raw); err == nil {
		value = n
	} else if b, err := strconv.ParseBool(raw); err == nil {
		value = b
	}

	previous := c.cfg.GetServer()
	if err := c.cfg.UpdateServerField(key, value); err != nil {
		return err
	}
	if result := config.Validate(c.cfg); !result.IsValid() {
		c.cfg.SetServer(previous)
		return result.Err()
	}
	if err := c.cfg.Save(); err != nil {
		return err
	}

	fmt.Fprintf(c.out, "Config updated: %s = %v\n", key, value)
	return nil
}
