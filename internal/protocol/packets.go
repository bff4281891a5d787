// Package protocol implements the Classic protocol version 7 wire format and
// the CPE extension packets. All multi-byte values are big-endian and every
// packet starts with its one-byte ID; there is no length prefix, so a
// receiver finds packet boundaries from the fixed field widths alone.
package protocol

import "fmt"

// Version is the only protocol version the server speaks.
const Version = 7

// CPESupportByte is the handshake support byte sent by extension-aware clients.
const CPESupportByte = 0x42

// SelfID is the entity id a connection uses to refer to its own player.
const SelfID = 255

// Packet IDs.
const (
	IDHandshake      byte = 0x00
	IDPing           byte = 0x01
	IDLevelInit      byte = 0x02
	IDLevelChunk     byte = 0x03
	IDLevelEnd       byte = 0x04
	IDSetBlockClient byte = 0x05 // client -> server edit
	IDSetBlockServer byte = 0x06 // server -> client block update
	IDAddPlayer      byte = 0x07
	IDPlayerPosition byte = 0x08
	IDPosRotUpdate   byte = 0x09 // legacy delta packets
	IDPosUpdate      byte = 0x0A
	IDRotUpdate      byte = 0x0B
	IDRemovePlayer   byte = 0x0C
	IDMessage        byte = 0x0D
	IDDisconnect     byte = 0x0E
	IDSetRank        byte = 0x0F

	IDExtInfo  byte = 0x10
	IDExtEntry byte = 0x11

	IDClickDistance           byte = 0x12
	IDCustomBlockSupportLevel byte = 0x13
	IDHoldThis                byte = 0x14
	IDExtAddPlayerName        byte = 0x16
	IDExtRemovePlayerName     byte = 0x18
	IDSetBlockPermission      byte = 0x1C
	IDChangeModel             byte = 0x1D
	IDEnvSetWeatherType       byte = 0x1F
	IDHackControl             byte = 0x20
	IDExtAddEntity2           byte = 0x21
	IDPlayerClicked           byte = 0x22
	IDSetMapEnvURL            byte = 0x28
	IDSetMapEnvProperty       byte = 0x29
	IDSetHotbar               byte = 0x2D
	IDDefineModel             byte = 0x32
	IDDefineModelPart         byte = 0x33
	IDUndefineModel           byte = 0x34
)

// Extension is a CPE extension name and version.
type Extension struct {
	Name    string `json:"name"`
	Version uint32 `json:"version"`
}

func (e Extension) String() string {
	return fmt.Sprintf("%s v%d", e.Name, e.Version)
}

// Extensions the server knows how to speak.
var (
	ExtClickDistance    = Extension{"ClickDistance", 1}
	ExtCustomBlocks     = Extension{"CustomBlocks", 1}
	ExtHeldBlock        = Extension{"HeldBlock", 1}
	ExtPlayerList       = Extension{"ExtPlayerList", 2}
	ExtChangeModel      = Extension{"ChangeModel", 1}
	ExtEnvWeatherType   = Extension{"EnvWeatherType", 1}
	ExtEnvMapAspect     = Extension{"EnvMapAspect", 2}
	ExtHackControl      = Extension{"HackControl", 1}
	ExtMessageTypes     = Extension{"MessageTypes", 1}
	ExtLongerMessages   = Extension{"LongerMessages", 1}
	ExtFullCP437        = Extension{"FullCP437", 1}
	ExtBlockPermissions = Extension{"BlockPermissions", 1}
	ExtSetHotbar        = Extension{"SetHotbar", 1}
	ExtPlayerClick      = Extension{"PlayerClick", 1}
	ExtCustomModels     = Extension{"CustomModels", 2}
)

// DefaultExtensions is the list advertised by a default configuration.
var DefaultExtensions = []Extension{
	ExtClickDistance, ExtCustomBlocks, ExtHeldBlock, ExtPlayerList, ExtChangeModel,
	ExtEnvWeatherType, ExtEnvMapAspect, ExtHackControl, ExtMessageTypes,
	ExtLongerMessages, ExtFullCP437, ExtBlockPermissions, ExtSetHotbar, ExtPlayerClick,
}

// extensionPackets lists the packet IDs each extension brings into a catalog.
var extensionPackets = map[Extension][]byte{
	ExtClickDistance:    {IDClickDistance},
	ExtCustomBlocks:     {IDCustomBlockSupportLevel},
	ExtHeldBlock:        {IDHoldThis},
	ExtPlayerList:       {IDExtAddPlayerName, IDExtRemovePlayerName, IDExtAddEntity2},
	ExtChangeModel:      {IDChangeModel},
	ExtEnvWeatherType:   {IDEnvSetWeatherType},
	ExtEnvMapAspect:     {IDSetMapEnvURL, IDSetMapEnvProperty},
	ExtHackControl:      {IDHackControl},
	ExtBlockPermissions: {IDSetBlockPermission},
	ExtSetHotbar:        {IDSetHotbar},
	ExtPlayerClick:      {IDPlayerClicked},
	ExtCustomModels:     {IDDefineModel, IDDefineModelPart, IDUndefineModel},
}

// KnownExtension reports whether the server implements ext.
func KnownExtension(ext Extension) bool {
	if _, ok := extensionPackets[ext]; ok {
		return true
	}
	switch ext {
	case ExtMessageTypes, ExtLongerMessages, ExtFullCP437:
		return true
	}
	return false
}
