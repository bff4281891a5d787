package server

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cubeforge-project/cubeforge/internal/db"
	"github.com/cubeforge-project/cubeforge/internal/plugin"
	"github.com/cubeforge-project/cubeforge/internal/protocol"
	"github.com/cubeforge-project/cubeforge/internal/world"
)

const (
	vanillaNote = "&bNOTE: &eYou are running a vanilla client, so you will not be able to see these changes."
	featureNote = "&bNOTE: &eYour client does not support this feature, so you will not be able to see this change."
)

// ConsoleSender runs commands on behalf of the operator console. It has
// every rank.
type ConsoleSender struct {
	out    io.Writer
	logger zerolog.Logger
}

// NewConsoleSender writes command output to out without colour codes, or
// to the log when out is nil.
func (s *Server) NewConsoleSender(out io.Writer) *ConsoleSender {
	return &ConsoleSender{out: out, logger: s.logger.With().Str("sender", "console").Logger()}
}

func (c *ConsoleSender) Name() string       { return "@" }
func (c *ConsoleSender) HasRank(_ int) bool { return true }

func (c *ConsoleSender) SendMessage(msg string) {
	msg = protocol.StripColorCodes(msg)
	if c.out == nil {
		c.logger.Info().Msg(msg)
		return
	}
	fmt.Fprintln(c.out, msg)
}

// RunCommand runs a command line (without the leading slash) for sender
// and reports failures to it.
func (s *Server) RunCommand(sender plugin.Sender, line string) plugin.CommandResult {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		sender.SendMessage("&cUnknown command - type /help for a list of commands")
		return plugin.NoSuchCommand
	}
	name, args := fields[0], fields[1:]

	var cmd *plugin.Command
	commands := s.Commands()
	for i := range commands {
		if commands[i].Matches(name) {
			cmd = &commands[i]
			break
		}
	}
	if cmd == nil {
		sender.SendMessage("&cUnknown command - type /help for a list of commands")
		return plugin.NoSuchCommand
	}

	result, err := plugin.NoPermission, error(nil)
	if sender.HasRank(cmd.RequiredRank) {
		result, err = runCommand(cmd, sender, args)
	}

	switch result {
	case plugin.InvalidArguments:
		sender.SendMessage("Usage: " + cmd.UsageLine())
	case plugin.NoPermission:
		sender.SendMessage("&cInsufficient permissions!")
		s.logger.Warn().Str("sender", sender.Name()).Str("command", cmd.Name).
			Msg("Command denied, insufficient permissions")
	case plugin.Error:
		msg := "unknown error"
		if err != nil {
			msg = err.Error()
		}
		sender.SendMessage("&cAn error occurred running this command: " + msg)
		s.logger.Error().Err(err).Str("sender", sender.Name()).Str("command", cmd.Name).Msg("Command failed")
	}
	return result
}

func runCommand(cmd *plugin.Command, sender plugin.Sender, args []string) (result plugin.CommandResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = plugin.Error, fmt.Errorf("panic: %v", r)
		}
	}()
	result, err = cmd.Execute(sender, args)
	if err != nil {
		result = plugin.Error
	}
	return result, err
}

func (s *Server) builtinCommands() []plugin.Command {
	return []plugin.Command{
		{Name: "help", Aliases: []string{"h", "?"}, Description: "Shows this help message", Usage: "/<command> [command]", Execute: s.cmdHelp},
		{Name: "position", Aliases: []string{"pos"}, Description: "Shows you your current position", Usage: "/<command>", Execute: s.cmdPosition},
		{Name: "leave", Description: "Disconnects you from the server", Usage: "/<command>", Execute: s.cmdLeave},
		{Name: "reload", Description: "Reloads the server", Usage: "/<command>", RequiredRank: db.RankOperator, Execute: s.cmdReload},
		{Name: "level", Aliases: []string{"lvl"}, Description: "Do level-related things", Usage: "/<command> <list|reload|create|goto|weather|textures|property> <args>", Execute: s.cmdLevel},
		{Name: "elist", Description: "Show a list of entities currently in the server", Usage: "/<command>", RequiredRank: db.RankOperator, Execute: s.cmdEntityList},
		{Name: "clear", Description: "Clears your hotbar", Usage: "/<command>", Execute: s.cmdClear},
		{Name: "local", Aliases: []string{"lc"}, Description: "Switches your chat mode to local", Usage: "/<command>", Execute: s.cmdLocal},
		{Name: "global", Aliases: []string{"gc"}, Description: "Switches your chat mode to global", Usage: "/<command>", Execute: s.cmdGlobal},
		{Name: "model", Aliases: []string{"m"}, Description: "Changes your model", Usage: "/<command> <model>", Execute: s.cmdModel},
		{Name: "stop", Description: "Stops the server", Usage: "/<command>", RequiredRank: db.RankOperator, Execute: s.cmdStop},
		{Name: "op", Description: "Elevates a player's rank", Usage: "/<command> <user>", RequiredRank: db.RankOperator, Execute: s.cmdOp},
		{Name: "deop", Description: "De-elevates a player's rank", Usage: "/<command> <user>", RequiredRank: db.RankOperator, Execute: s.cmdDeop},
		{Name: "say", Description: "Sends a global message to everyone", Usage: "/<command> <message>", RequiredRank: db.RankOperator, Execute: s.cmdSay},
		{Name: "kick", Description: "Disconnects a player from the server", Usage: "/<command> <name> [reason]", RequiredRank: db.RankOperator, Execute: s.cmdKick},
		{Name: "ban", Description: "Bans a player from the server", Usage: "/<command> <name> [reason]", RequiredRank: db.RankOperator, Execute: s.cmdBan},
		{Name: "pardon", Aliases: []string{"unban"}, Description: "Un-bans a player from the server", Usage: "/<command> <name>", RequiredRank: db.RankOperator, Execute: s.cmdPardon},
		{Name: "tp", Aliases: []string{"teleport"}, Description: "Teleports you to a player or a position", Usage: "/<command> <player> | <x> <y> <z>", RequiredRank: db.RankOperator, Execute: s.cmdTeleport},
	}
}

func notOnline(sender plugin.Sender, name string) (plugin.CommandResult, error) {
	sender.SendMessage(fmt.Sprintf("&cPlayer %s is not online or doesn't exist!", name))
	return plugin.Success, nil
}

func (s *Server) cmdHelp(sender plugin.Sender, args []string) (plugin.CommandResult, error) {
	for _, c := range s.Commands() {
		if len(args) > 0 {
			if c.Matches(args[0]) {
				sender.SendMessage(fmt.Sprintf("/%s - %s", c.Name, c.Description))
				sender.SendMessage("Usage: " + c.UsageLine())
				break
			}
			continue
		}
		sender.SendMessage(fmt.Sprintf("/%s - %s", c.Name, c.Description))
	}
	return plugin.Success, nil
}

func (s *Server) cmdPosition(sender plugin.Sender, _ []string) (plugin.CommandResult, error) {
	p, ok := sender.(*Player)
	if !ok || p.Entity() == nil {
		return plugin.Success, nil
	}
	pos := p.Entity().Position()
	sender.SendMessage(fmt.Sprintf("&ePosition: &cX &e%v, &aY &e%v, &9Z &e%v", pos.X, pos.Y, pos.Z))
	return plugin.Success, nil
}

func (s *Server) cmdLeave(sender plugin.Sender, _ []string) (plugin.CommandResult, error) {
	if p, ok := sender.(*Player); ok {
		p.Disconnect("See ya!")
	}
	return plugin.Success, nil
}

func (s *Server) cmdReload(sender plugin.Sender, _ []string) (plugin.CommandResult, error) {
	sender.SendMessage("&eReloading...")
	if err := s.Reload(); err != nil {
		return plugin.Error, err
	}
	sender.SendMessage("&aReload complete")
	return plugin.Success, nil
}

func (s *Server) cmdLevel(sender plugin.Sender, args []string) (plugin.CommandResult, error) {
	if len(args) == 0 {
		return plugin.InvalidArguments, nil
	}
	p, isPlayer := sender.(*Player)
	sub, rest := strings.ToLower(args[0]), args[1:]

	switch sub {
	case "list":
		infos := s.Levels()
		names := make([]string, len(infos))
		for i, info := range infos {
			names[i] = info.Name
		}
		sender.SendMessage("&eLevels: &f" + strings.Join(names, ", "))

	case "reload":
		if !isPlayer || p.Level() == nil {
			return plugin.Success, nil
		}
		sender.SendMessage("&eReloading current level...")
		p.transferLevel(p.Level())

	case "create":
		if !sender.HasRank(db.RankOperator) {
			return plugin.NoPermission, nil
		}
		if len(rest) < 4 {
			return plugin.InvalidArguments, nil
		}
		var size [3]int
		for i := range size {
			v, err := strconv.Atoi(rest[i+1])
			if err != nil {
				return plugin.InvalidArguments, nil
			}
			size[i] = v
		}
		name := rest[0]
		sender.SendMessage(fmt.Sprintf("&eCreating level %s, please wait...", name))
		_, err := s.CreateLevel(name, size[0], size[1], size[2])
		switch {
		case errors.Is(err, ErrLevelExists):
			sender.SendMessage(fmt.Sprintf("&cLevel %s already exists!", name))
		case errors.Is(err, ErrInvalidLevel):
			return plugin.InvalidArguments, nil
		case err != nil:
			return plugin.Error, err
		default:
			sender.SendMessage(fmt.Sprintf("&aLevel %s created successfully!", name))
		}

	case "goto":
		if !isPlayer {
			return plugin.Success, nil
		}
		if len(rest) < 1 {
			return plugin.InvalidArguments, nil
		}
		switch err := s.SendPlayerToLevel(p, rest[0]); {
		case errors.Is(err, ErrNoSuchLevel):
			sender.SendMessage("&cThat level does not exist!")
		case errors.Is(err, ErrAlreadyInLevel):
			sender.SendMessage("&cYou are already in this level!")
		case err != nil:
			return plugin.Error, err
		}

	case "weather", "textures", "property":
		if !sender.HasRank(db.RankOperator) {
			return plugin.NoPermission, nil
		}
		if !isPlayer || p.Level() == nil {
			return plugin.Success, nil
		}
		return s.changeEnvironment(p, sub, rest)

	default:
		return plugin.InvalidArguments, nil
	}
	return plugin.Success, nil
}

// changeEnvironment applies a weather, texture or property change to the
// player's level.
func (s *Server) changeEnvironment(p *Player, what string, args []string) (plugin.CommandResult, error) {
	l := p.Level()
	switch what {
	case "weather":
		if len(args) < 1 {
			return plugin.InvalidArguments, nil
		}
		if !p.Supports(protocol.ExtEnvWeatherType) {
			p.SendMessage(vanillaNote)
		}
		w, ok := world.ParseWeather(args[0])
		if !ok {
			p.SendMessage("&cUnknown weather type! Use clear, raining or snowing")
			return plugin.Success, nil
		}
		if err := l.SetWeather(w); err != nil {
			return plugin.Error, err
		}
		s.notifyLevelWeather(l)

	case "textures":
		if len(args) < 1 {
			return plugin.InvalidArguments, nil
		}
		if !p.Supports(protocol.ExtEnvMapAspect) {
			p.SendMessage(vanillaNote)
		}
		if err := l.SetTextures(args[0]); err != nil {
			p.SendMessage("&cThat is not a valid texture pack URL!")
			return plugin.Success, nil
		}
		s.notifyLevelTextures(l)

	case "property":
		if len(args) < 2 {
			return plugin.InvalidArguments, nil
		}
		if !p.Supports(protocol.ExtEnvMapAspect) {
			p.SendMessage(vanillaNote)
		}
		v, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return plugin.InvalidArguments, nil
		}
		prop, err := l.SetProperty(args[0], v)
		if errors.Is(err, world.ErrUnknownProp) {
			names := make([]string, 0, 10)
			for _, ep := range world.EnvProperties() {
				names = append(names, ep.String())
			}
			p.SendMessage("&cUnknown property! Valid properties: " + strings.Join(names, ", "))
			return plugin.Success, nil
		}
		if err != nil {
			p.SendMessage("&c" + err.Error())
			return plugin.Success, nil
		}
		s.notifyLevelProperty(l, prop)
	}
	return plugin.Success, nil
}

func (s *Server) cmdEntityList(sender plugin.Sender, _ []string) (plugin.CommandResult, error) {
	list := func(label string, entities []*world.Entity) {
		var b strings.Builder
		b.WriteString("&eEntities in " + label + ": ")
		for _, e := range entities {
			fmt.Fprintf(&b, "%s (%d) ", e.Name(), e.ID())
		}
		sender.SendMessage(b.String())
	}

	if p, ok := sender.(*Player); ok && p.Level() != nil {
		l := p.Level()
		list(fmt.Sprintf("level %q", l.Name()), l.Entities())
	}
	var all []*world.Entity
	for _, l := range s.loadedLevels() {
		all = append(all, l.Entities()...)
	}
	list("server", all)
	return plugin.Success, nil
}

func (s *Server) cmdClear(sender plugin.Sender, _ []string) (plugin.CommandResult, error) {
	p, ok := sender.(*Player)
	if !ok {
		return plugin.Success, nil
	}
	if !p.Supports(protocol.ExtSetHotbar) {
		sender.SendMessage("&cYour client doesn't support this!")
		return plugin.Success, nil
	}
	for i := uint8(0); i < 9; i++ {
		p.SetHotbar(world.Air, i)
	}
	return plugin.Success, nil
}

func (s *Server) cmdLocal(sender plugin.Sender, _ []string) (plugin.CommandResult, error) {
	if p, ok := sender.(*Player); ok && p.SetLocalChat(true) {
		sender.SendMessage("&eYou are now chatting locally")
	}
	return plugin.Success, nil
}

func (s *Server) cmdGlobal(sender plugin.Sender, _ []string) (plugin.CommandResult, error) {
	if p, ok := sender.(*Player); ok && p.SetLocalChat(false) {
		sender.SendMessage("&eYou are now chatting globally")
	}
	return plugin.Success, nil
}

func (s *Server) cmdModel(sender plugin.Sender, args []string) (plugin.CommandResult, error) {
	p, ok := sender.(*Player)
	if !ok {
		return plugin.Success, nil
	}
	if len(args) < 1 {
		return plugin.InvalidArguments, nil
	}
	if err := p.SetModel(args[0]); err != nil {
		return plugin.Error, err
	}
	if !p.Supports(protocol.ExtChangeModel) {
		sender.SendMessage(featureNote)
	}
	return plugin.Success, nil
}

func (s *Server) cmdStop(sender plugin.Sender, _ []string) (plugin.CommandResult, error) {
	s.logger.Info().Str("by", sender.Name()).Msg("Stop requested")
	s.RequestStop()
	return plugin.Success, nil
}

func (s *Server) cmdOp(sender plugin.Sender, args []string) (plugin.CommandResult, error) {
	if len(args) < 1 {
		return plugin.InvalidArguments, nil
	}
	target, ok := s.Player(args[0])
	if !ok {
		return notOnline(sender, args[0])
	}
	if err := target.SetRank(db.RankOperator); err != nil {
		return plugin.Error, err
	}
	sender.SendMessage("&aOpped " + target.Name())
	return plugin.Success, nil
}

func (s *Server) cmdDeop(sender plugin.Sender, args []string) (plugin.CommandResult, error) {
	if len(args) < 1 {
		return plugin.InvalidArguments, nil
	}
	target, ok := s.Player(args[0])
	if !ok {
		return notOnline(sender, args[0])
	}
	if plugin.Sender(target) == sender {
		sender.SendMessage("&cYou can't de-op yourself!")
		return plugin.Success, nil
	}
	if err := target.SetRank(db.RankDefault); err != nil {
		return plugin.Error, err
	}
	sender.SendMessage("&aDe-opped " + target.Name())
	return plugin.Success, nil
}

func (s *Server) cmdSay(sender plugin.Sender, args []string) (plugin.CommandResult, error) {
	if len(args) == 0 {
		return plugin.InvalidArguments, nil
	}
	s.Broadcast(fmt.Sprintf("[%s] %s", sender.Name(), strings.Join(args, " ")))
	return plugin.Success, nil
}

func (s *Server) cmdKick(sender plugin.Sender, args []string) (plugin.CommandResult, error) {
	if len(args) < 1 {
		return plugin.InvalidArguments, nil
	}
	target, ok := s.Player(args[0])
	if !ok {
		return notOnline(sender, args[0])
	}
	reason := "You were kicked from the server!"
	if len(args) > 1 {
		reason = strings.Join(args[1:], " ")
	}
	target.Disconnect(reason)
	sender.SendMessage("&aKicked " + target.Name())
	return plugin.Success, nil
}

func (s *Server) cmdBan(sender plugin.Sender, args []string) (plugin.CommandResult, error) {
	if len(args) < 1 {
		return plugin.InvalidArguments, nil
	}
	reason := "You are permanently banned!"
	if len(args) > 1 {
		reason = strings.Join(args[1:], " ")
	}
	name := args[0]
	if target, ok := s.Player(name); ok {
		name = target.Name()
	}
	added, err := s.BanPlayer(name, reason, sender.Name())
	if err != nil {
		return plugin.Error, err
	}
	if !added {
		sender.SendMessage("&cThat player is already banned (and is somehow still online)!")
		return plugin.Success, nil
	}
	sender.SendMessage("&aBanned " + name)
	return plugin.Success, nil
}

func (s *Server) cmdPardon(sender plugin.Sender, args []string) (plugin.CommandResult, error) {
	if len(args) < 1 {
		return plugin.InvalidArguments, nil
	}
	removed, err := s.PardonPlayer(args[0])
	if err != nil {
		return plugin.Error, err
	}
	if !removed {
		sender.SendMessage("&cThat player isn't banned!")
		return plugin.Success, nil
	}
	sender.SendMessage("&aPardoned " + args[0])
	return plugin.Success, nil
}

func (s *Server) cmdTeleport(sender plugin.Sender, args []string) (plugin.CommandResult, error) {
	p, ok := sender.(*Player)
	if !ok || p.Entity() == nil {
		return plugin.Success, nil
	}
	switch len(args) {
	case 1:
		target, ok := s.Player(args[0])
		if !ok || target.Entity() == nil {
			return notOnline(sender, args[0])
		}
		if tl := target.Level(); tl != nil && tl != p.Level() {
			if err := p.sendToLevel(tl); err != nil {
				return plugin.Error, err
			}
		}
		p.Teleport(target.Entity().Position())
	case 3:
		var c [3]float64
		for i, a := range args {
			v, err := strconv.ParseFloat(a, 64)
			if err != nil {
				return plugin.InvalidArguments, nil
			}
			c[i] = v
		}
		cur := p.Entity().Position()
		p.Teleport(world.Position{X: c[0], Y: c[1], Z: c[2], Yaw: cur.Yaw, Pitch: cur.Pitch})
	default:
		return plugin.InvalidArguments, nil
	}
	return plugin.Success, nil
}
