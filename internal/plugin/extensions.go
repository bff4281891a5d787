package plugin

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cubeforge-project/cubeforge/internal/protocol"
	"github.com/cubeforge-project/cubeforge/internal/world"
)

// DefaultClickDistance is the reach of a client that was never told
// otherwise, in blocks.
const DefaultClickDistance = 3.75

// MessageAnnouncement is the MessageTypes slot in the centre of the screen.
const MessageAnnouncement int8 = 100

// ExtensionsPlugin exposes CPE features as commands and greets players.
type ExtensionsPlugin struct {
	host Host
}

var (
	_ Plugin          = (*ExtensionsPlugin)(nil)
	_ LoginHook       = (*ExtensionsPlugin)(nil)
	_ CommandProvider = (*ExtensionsPlugin)(nil)
)

func NewExtensionsPlugin() *ExtensionsPlugin { return &ExtensionsPlugin{} }

func (e *ExtensionsPlugin) Name() string { return "Extensions" }

func (e *ExtensionsPlugin) Load(host Host) error {
	e.host = host
	return nil
}

func (e *ExtensionsPlugin) Unload() { e.host = nil }

// OnLogin greets the player and resets the click distance.
func (e *ExtensionsPlugin) OnLogin(p Player) Result {
	p.SendTypedMessage("Welcome to the server!", MessageAnnouncement)
	p.SetClickDistance(DefaultClickDistance)
	return Allow()
}

func (e *ExtensionsPlugin) Commands() []Command {
	return []Command{
		{
			Name:        "extensions",
			Aliases:     []string{"exts"},
			Description: "Lists the protocol extensions in use",
			Usage:       "/<command>",
			Execute:     e.listExtensions,
		},
		{
			Name:        "clickdistance",
			Aliases:     []string{"cd"},
			Description: "Changes how far away you can reach blocks",
			Usage:       "/<command> [distance]",
			Execute:     e.clickDistance,
		},
		{
			Name:        "hold",
			Description: "Puts a block in your hand",
			Usage:       "/<command> <block> [lock]",
			Execute:     e.hold,
		},
	}
}

func formatExtensions(exts []protocol.Extension) string {
	if len(exts) == 0 {
		return "none"
	}
	names := make([]string, len(exts))
	for i, ext := range exts {
		names[i] = ext.String()
	}
	return strings.Join(names, ", ")
}

func (e *ExtensionsPlugin) listExtensions(s Sender, args []string) (CommandResult, error) {
	if p, ok := s.(Player); ok {
		s.SendMessage("&eYour client supports: &f" + formatExtensions(p.Extensions()))
	}
	if e.host != nil {
		s.SendMessage("&eServer supports: &f" + formatExtensions(e.host.Extensions()))
	}
	return Success, nil
}

func (e *ExtensionsPlugin) clickDistance(s Sender, args []string) (CommandResult, error) {
	p, ok := s.(Player)
	if !ok {
		return Success, nil
	}
	distance := DefaultClickDistance
	if len(args) > 0 {
		v, err := strconv.ParseFloat(args[0], 64)
		if err != nil || v < 0 {
			return InvalidArguments, nil
		}
		distance = v
	}
	if !p.SetClickDistance(distance) {
		s.SendMessage("&cYour client doesn't support this!")
		return Success, nil
	}
	s.SendMessage(fmt.Sprintf("&eClick distance set to %g", distance))
	return Success, nil
}

func (e *ExtensionsPlugin) hold(s Sender, args []string) (CommandResult, error) {
	p, ok := s.(Player)
	if !ok {
		return Success, nil
	}
	if len(args) < 1 {
		return InvalidArguments, nil
	}
	block, ok := world.ParseBlock(args[0])
	if !ok {
		s.SendMessage(fmt.Sprintf("&cUnknown block %s", args[0]))
		return Success, nil
	}
	lock := len(args) > 1 && (args[1] == "1" || strings.EqualFold(args[1], "true"))
	if !p.HoldBlock(block, lock) {
		s.SendMessage("&cYour client doesn't support this!")
	}
	return Success, nil
}
