package protocol

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// PacketSpec is the ordered field table of one packet ID.
type PacketSpec struct {
	ID     byte
	Name   string
	Fields []Field
	Size   int // payload width, excluding the ID byte
}

// Registration binds a packet ID to its name and constructor.
type Registration struct {
	ID   byte
	Name string
	New  func() Packet
}

type entry struct {
	spec PacketSpec
	new  func() Packet
}

func newEntry(r Registration) (*entry, error) {
	p := r.New()
	if p.ID() != r.ID {
		return nil, fmt.Errorf("packet %s declares id 0x%02X, registered as 0x%02X", r.Name, p.ID(), r.ID)
	}
	s := &schema{}
	p.Marshal(s)
	size := 0
	for _, f := range s.fields {
		size += f.Type.Size()
	}
	return &entry{
		spec: PacketSpec{ID: r.ID, Name: r.Name, Fields: s.fields, Size: size},
		new:  r.New,
	}, nil
}

var registrations = []Registration{
	{IDHandshake, "Handshake", func() Packet { return &Handshake{} }},
	{IDPing, "Ping", func() Packet { return &Ping{} }},
	{IDLevelInit, "LevelInit", func() Packet { return &LevelInit{} }},
	{IDLevelChunk, "LevelChunk", func() Packet { return &LevelChunk{} }},
	{IDLevelEnd, "LevelEnd", func() Packet { return &LevelEnd{} }},
	{IDSetBlockClient, "SetBlockClient", func() Packet { return &SetBlockClient{} }},
	{IDSetBlockServer, "SetBlockServer", func() Packet { return &SetBlockServer{} }},
	{IDAddPlayer, "AddPlayer", func() Packet { return &AddPlayer{} }},
	{IDPlayerPosition, "PlayerPosition", func() Packet { return &PlayerPosition{} }},
	{IDPosRotUpdate, "PosRotUpdate", func() Packet { return &PosRotUpdate{} }},
	{IDPosUpdate, "PosUpdate", func() Packet { return &PosUpdate{} }},
	{IDRotUpdate, "RotUpdate", func() Packet { return &RotUpdate{} }},
	{IDRemovePlayer, "RemovePlayer", func() Packet { return &RemovePlayer{} }},
	{IDMessage, "Message", func() Packet { return &Message{} }},
	{IDDisconnect, "Disconnect", func() Packet { return &Disconnect{} }},
	{IDSetRank, "SetRank", func() Packet { return &SetRank{} }},
	{IDExtInfo, "ExtInfo", func() Packet { return &ExtInfo{} }},
	{IDExtEntry, "ExtEntry", func() Packet { return &ExtEntry{} }},
	{IDClickDistance, "ClickDistance", func() Packet { return &ClickDistance{} }},
	{IDCustomBlockSupportLevel, "CustomBlockSupportLevel", func() Packet { return &CustomBlockSupportLevel{} }},
	{IDHoldThis, "HoldThis", func() Packet { return &HoldThis{} }},
	{IDExtAddPlayerName, "ExtAddPlayerName", func() Packet { return &ExtAddPlayerName{} }},
	{IDExtRemovePlayerName, "ExtRemovePlayerName", func() Packet { return &ExtRemovePlayerName{} }},
	{IDSetBlockPermission, "SetBlockPermission", func() Packet { return &SetBlockPermission{} }},
	{IDChangeModel, "ChangeModel", func() Packet { return &ChangeModel{} }},
	{IDEnvSetWeatherType, "EnvSetWeatherType", func() Packet { return &EnvSetWeatherType{} }},
	{IDHackControl, "HackControl", func() Packet { return &HackControl{} }},
	{IDExtAddEntity2, "ExtAddEntity2", func() Packet { return &ExtAddEntity2{} }},
	{IDPlayerClicked, "PlayerClicked", func() Packet { return &PlayerClicked{} }},
	{IDSetMapEnvURL, "SetMapEnvUrl", func() Packet { return &SetMapEnvURL{} }},
	{IDSetMapEnvProperty, "SetMapEnvProperty", func() Packet { return &SetMapEnvProperty{} }},
	{IDSetHotbar, "SetHotbar", func() Packet { return &SetHotbar{} }},
	{IDDefineModel, "DefineModel", func() Packet { return &DefineModel{} }},
	{IDDefineModelPart, "DefineModelPart", func() Packet { return &DefineModelPart{} }},
	{IDUndefineModel, "UndefineModel", func() Packet { return &UndefineModel{} }},
}

// table holds every known packet; catalogs select from it.
var table = make(map[byte]*entry, len(registrations))

var vanillaCatalog, negotiationCatalog *Catalog

func init() {
	for _, r := range registrations {
		e, err := newEntry(r)
		if err != nil {
			panic(err)
		}
		table[r.ID] = e
	}
	vanillaCatalog = buildCatalog("vanilla", nil,
		IDHandshake, IDPing, IDLevelInit, IDLevelChunk, IDLevelEnd, IDSetBlockClient,
		IDSetBlockServer, IDAddPlayer, IDPlayerPosition, IDPosRotUpdate, IDPosUpdate,
		IDRotUpdate, IDRemovePlayer, IDMessage, IDDisconnect, IDSetRank)
	negotiationCatalog = vanillaCatalog.with("negotiation", IDExtInfo, IDExtEntry, IDCustomBlockSupportLevel)
}

// Spec returns the field table of a known packet ID, regardless of catalog.
func Spec(id byte) (PacketSpec, bool) {
	e, ok := table[id]
	if !ok {
		return PacketSpec{}, false
	}
	return e.spec, true
}

// Catalog is an immutable set of packet IDs a connection may exchange.
// Derive new catalogs with ForExtensions or Extend; never mutate one that a
// connection already holds.
type Catalog struct {
	name       string
	entries    [256]*entry
	extensions []Extension
}

func buildCatalog(name string, base *Catalog, ids ...byte) *Catalog {
	c := &Catalog{name: name}
	if base != nil {
		c.entries = base.entries
		c.extensions = append([]Extension(nil), base.extensions...)
	}
	for _, id := range ids {
		c.entries[id] = table[id]
	}
	return c
}

func (c *Catalog) with(name string, ids ...byte) *Catalog {
	return buildCatalog(name, c, ids...)
}

// Vanilla is the catalog of clients that did not signal CPE support.
func Vanilla() *Catalog { return vanillaCatalog }

// Negotiation is the catalog used while extension entries are exchanged.
func Negotiation() *Catalog { return negotiationCatalog }

// Name identifies the catalog variant in logs.
func (c *Catalog) Name() string { return c.name }

// Extensions returns the extensions this catalog was built for.
func (c *Catalog) Extensions() []Extension {
	return append([]Extension(nil), c.extensions...)
}

// Lookup returns the field table for id if the catalog contains it.
func (c *Catalog) Lookup(id byte) (PacketSpec, bool) {
	e := c.entries[id]
	if e == nil {
		return PacketSpec{}, false
	}
	return e.spec, true
}

// Has reports whether id may be exchanged under this catalog.
func (c *Catalog) Has(id byte) bool {
	return c.entries[id] != nil
}

// ForExtensions returns a new catalog adding the packets of every known
// extension in exts. Unknown extensions contribute nothing.
func (c *Catalog) ForExtensions(exts []Extension) *Catalog {
	var ids []byte
	known := make([]Extension, 0, len(exts))
	for _, ext := range exts {
		if !KnownExtension(ext) {
			continue
		}
		known = append(known, ext)
		ids = append(ids, extensionPackets[ext]...)
	}
	n := buildCatalog("cpe:"+extensionKey(known), c, ids...)
	n.extensions = append(n.extensions, known...)
	return n
}

// Extend returns a new catalog with additional packet IDs. Redefining an ID
// already present is an error: connected clients rely on fixed layouts.
func (c *Catalog) Extend(regs ...Registration) (*Catalog, error) {
	n := buildCatalog(c.name+"+ext", c)
	for _, r := range regs {
		if n.entries[r.ID] != nil {
			return nil, fmt.Errorf("packet id 0x%02X already defined as %s", r.ID, n.entries[r.ID].spec.Name)
		}
		e, err := newEntry(r)
		if err != nil {
			return nil, err
		}
		n.entries[r.ID] = e
	}
	return n, nil
}

// Specs lists every packet of the catalog in ID order.
func (c *Catalog) Specs() []PacketSpec {
	var out []PacketSpec
	for _, e := range c.entries {
		if e != nil {
			out = append(out, e.spec)
		}
	}
	return out
}

func extensionKey(exts []Extension) string {
	parts := make([]string, len(exts))
	for i, e := range exts {
		parts[i] = fmt.Sprintf("%s:%d", e.Name, e.Version)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

// CatalogCache hands out one shared catalog per distinct extension set, so
// connections with the same capabilities hold the same immutable value.
type CatalogCache struct {
	mu       sync.Mutex
	base     *Catalog
	variants map[string]*Catalog
}

// NewCatalogCache creates a cache deriving variants from base.
func NewCatalogCache(base *Catalog) *CatalogCache {
	return &CatalogCache{base: base, variants: make(map[string]*Catalog)}
}

// For returns the catalog for the given negotiated extensions.
func (cc *CatalogCache) For(exts []Extension) *Catalog {
	key := extensionKey(exts)
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if c, ok := cc.variants[key]; ok {
		return c
	}
	c := cc.base.ForExtensions(exts)
	cc.variants[key] = c
	return c
}

// Len returns the number of cached variants.
func (cc *CatalogCache) Len() int {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return len(cc.variants)
}
