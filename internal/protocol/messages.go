package protocol

// Packet is a typed packet. Marshal walks the fields in wire order; the
// same method drives encoding, decoding and the catalog's field table.
type Packet interface {
	ID() byte
	Marshal(io IO)
}

// Handshake is sent by the client to log in and echoed by the server on
// success. Name and Key carry the username and verification token from the
// client, and the server name and MOTD on the way back.
type Handshake struct {
	ProtocolVersion uint8
	Name            string
	Key             string
	SupportByte     uint8
}

func (*Handshake) ID() byte { return IDHandshake }
func (p *Handshake) Marshal(io IO) {
	io.UByte("protocolVersion", &p.ProtocolVersion)
	io.String("name", &p.Name)
	io.String("extra", &p.Key)
	io.UByte("supportByte", &p.SupportByte)
}

type Ping struct{}

func (*Ping) ID() byte     { return IDPing }
func (*Ping) Marshal(_ IO) {}

type LevelInit struct{}

func (*LevelInit) ID() byte     { return IDLevelInit }
func (*LevelInit) Marshal(_ IO) {}

// LevelChunk carries one 1024-byte slice of the compressed level blob.
type LevelChunk struct {
	ChunkLength     uint16
	ChunkData       [ByteArraySize]byte
	PercentComplete uint8
}

func (*LevelChunk) ID() byte { return IDLevelChunk }
func (p *LevelChunk) Marshal(io IO) {
	io.UShort("chunkLength", &p.ChunkLength)
	io.ByteArray("chunkData", &p.ChunkData)
	io.UByte("percentComplete", &p.PercentComplete)
}

type LevelEnd struct {
	SizeX, SizeY, SizeZ uint16
}

func (*LevelEnd) ID() byte { return IDLevelEnd }
func (p *LevelEnd) Marshal(io IO) {
	io.UShort("sizeX", &p.SizeX)
	io.UShort("sizeY", &p.SizeY)
	io.UShort("sizeZ", &p.SizeZ)
}

// SetBlockClient is a block edit request. Mode 0 destroys, 1 places.
type SetBlockClient struct {
	X, Y, Z   uint16
	Mode      uint8
	BlockType uint8
}

const (
	ModeDestroy uint8 = 0
	ModePlace   uint8 = 1
)

func (*SetBlockClient) ID() byte { return IDSetBlockClient }
func (p *SetBlockClient) Marshal(io IO) {
	io.UShort("posX", &p.X)
	io.UShort("posY", &p.Y)
	io.UShort("posZ", &p.Z)
	io.UByte("mode", &p.Mode)
	io.UByte("blockType", &p.BlockType)
}

type SetBlockServer struct {
	X, Y, Z   uint16
	BlockType uint8
}

func (*SetBlockServer) ID() byte { return IDSetBlockServer }
func (p *SetBlockServer) Marshal(io IO) {
	io.UShort("posX", &p.X)
	io.UShort("posY", &p.Y)
	io.UShort("posZ", &p.Z)
	io.UByte("blockType", &p.BlockType)
}

type AddPlayer struct {
	PlayerID   uint8
	PlayerName string
	X, Y, Z    float64
	Yaw, Pitch float64
}

func (*AddPlayer) ID() byte { return IDAddPlayer }
func (p *AddPlayer) Marshal(io IO) {
	io.UByte("playerID", &p.PlayerID)
	io.String("playerName", &p.PlayerName)
	io.Coordinate("posX", &p.X)
	io.Coordinate("posY", &p.Y)
	io.Coordinate("posZ", &p.Z)
	io.Angle("yaw", &p.Yaw)
	io.Angle("pitch", &p.Pitch)
}

// PlayerPosition is an absolute position, sent by clients every frame and by
// the server for movement and teleports.
type PlayerPosition struct {
	PlayerID   uint8
	X, Y, Z    float64
	Yaw, Pitch float64
}

func (*PlayerPosition) ID() byte { return IDPlayerPosition }
func (p *PlayerPosition) Marshal(io IO) {
	io.UByte("playerID", &p.PlayerID)
	io.Coordinate("posX", &p.X)
	io.Coordinate("posY", &p.Y)
	io.Coordinate("posZ", &p.Z)
	io.Angle("yaw", &p.Yaw)
	io.Angle("pitch", &p.Pitch)
}

type PosRotUpdate struct {
	PlayerID               int8
	DeltaX, DeltaY, DeltaZ int8
	DeltaYaw, DeltaPitch   float64
}

func (*PosRotUpdate) ID() byte { return IDPosRotUpdate }
func (p *PosRotUpdate) Marshal(io IO) {
	io.Byte("playerID", &p.PlayerID)
	io.Byte("deltaX", &p.DeltaX)
	io.Byte("deltaY", &p.DeltaY)
	io.Byte("deltaZ", &p.DeltaZ)
	io.Angle("deltaYaw", &p.DeltaYaw)
	io.Angle("deltaPitch", &p.DeltaPitch)
}

type PosUpdate struct {
	PlayerID               int8
	DeltaX, DeltaY, DeltaZ int8
}

func (*PosUpdate) ID() byte { return IDPosUpdate }
func (p *PosUpdate) Marshal(io IO) {
	io.Byte("playerID", &p.PlayerID)
	io.Byte("deltaX", &p.DeltaX)
	io.Byte("deltaY", &p.DeltaY)
	io.Byte("deltaZ", &p.DeltaZ)
}

type RotUpdate struct {
	PlayerID             int8
	DeltaYaw, DeltaPitch float64
}

func (*RotUpdate) ID() byte { return IDRotUpdate }
func (p *RotUpdate) Marshal(io IO) {
	io.Byte("playerID", &p.PlayerID)
	io.Angle("deltaYaw", &p.DeltaYaw)
	io.Angle("deltaPitch", &p.DeltaPitch)
}

type RemovePlayer struct {
	PlayerID int8
}

func (*RemovePlayer) ID() byte { return IDRemovePlayer }
func (p *RemovePlayer) Marshal(io IO) {
	io.Byte("playerID", &p.PlayerID)
}

// Message is a chat line. From clients with LongerMessages a non-zero type
// marks a partial message; to clients with MessageTypes it selects the
// screen area.
type Message struct {
	MessageType int8
	Message     string
}

func (*Message) ID() byte { return IDMessage }
func (p *Message) Marshal(io IO) {
	io.Byte("messageType", &p.MessageType)
	io.UntrimmedString("message", &p.Message)
}

type Disconnect struct {
	Reason string
}

func (*Disconnect) ID() byte { return IDDisconnect }
func (p *Disconnect) Marshal(io IO) {
	io.String("reason", &p.Reason)
}

type SetRank struct {
	Rank uint8
}

func (*SetRank) ID() byte { return IDSetRank }
func (p *SetRank) Marshal(io IO) {
	io.UByte("rank", &p.Rank)
}

type ExtInfo struct {
	Software       string
	ExtensionCount uint16
}

func (*ExtInfo) ID() byte { return IDExtInfo }
func (p *ExtInfo) Marshal(io IO) {
	io.String("software", &p.Software)
	io.UShort("extensionCount", &p.ExtensionCount)
}

type ExtEntry struct {
	ExtName string
	Version uint32
}

func (*ExtEntry) ID() byte { return IDExtEntry }
func (p *ExtEntry) Marshal(io IO) {
	io.String("extName", &p.ExtName)
	io.UInt("version", &p.Version)
}

type ClickDistance struct {
	Distance float64
}

func (*ClickDistance) ID() byte { return IDClickDistance }
func (p *ClickDistance) Marshal(io IO) {
	io.Coordinate("distance", &p.Distance)
}

type CustomBlockSupportLevel struct {
	SupportLevel uint8
}

func (*CustomBlockSupportLevel) ID() byte { return IDCustomBlockSupportLevel }
func (p *CustomBlockSupportLevel) Marshal(io IO) {
	io.UByte("supportLevel", &p.SupportLevel)
}

type HoldThis struct {
	BlockToHold   uint8
	PreventChange uint8
}

func (*HoldThis) ID() byte { return IDHoldThis }
func (p *HoldThis) Marshal(io IO) {
	io.UByte("blockToHold", &p.BlockToHold)
	io.UByte("preventChange", &p.PreventChange)
}

type ExtAddPlayerName struct {
	NameID     uint16
	PlayerName string
	ListName   string
	GroupName  string
	GroupRank  uint8
}

func (*ExtAddPlayerName) ID() byte { return IDExtAddPlayerName }
func (p *ExtAddPlayerName) Marshal(io IO) {
	io.UShort("nameID", &p.NameID)
	io.String("playerName", &p.PlayerName)
	io.String("listName", &p.ListName)
	io.String("groupName", &p.GroupName)
	io.UByte("groupRank", &p.GroupRank)
}

type ExtRemovePlayerName struct {
	NameID uint16
}

func (*ExtRemovePlayerName) ID() byte { return IDExtRemovePlayerName }
func (p *ExtRemovePlayerName) Marshal(io IO) {
	io.UShort("nameID", &p.NameID)
}

type SetBlockPermission struct {
	BlockType  uint8
	AllowPlace uint8
	AllowBreak uint8
}

func (*SetBlockPermission) ID() byte { return IDSetBlockPermission }
func (p *SetBlockPermission) Marshal(io IO) {
	io.UByte("blockType", &p.BlockType)
	io.UByte("allowPlace", &p.AllowPlace)
	io.UByte("allowBreak", &p.AllowBreak)
}

type ChangeModel struct {
	EntityID uint8
	Model    string
}

func (*ChangeModel) ID() byte { return IDChangeModel }
func (p *ChangeModel) Marshal(io IO) {
	io.UByte("entityID", &p.EntityID)
	io.String("model", &p.Model)
}

type EnvSetWeatherType struct {
	Weather uint8
}

func (*EnvSetWeatherType) ID() byte { return IDEnvSetWeatherType }
func (p *EnvSetWeatherType) Marshal(io IO) {
	io.UByte("weather", &p.Weather)
}

type HackControl struct {
	Flying         uint8
	NoClip         uint8
	Speeding       uint8
	SpawnControl   uint8
	ThirdPersonCam uint8
	JumpHeight     int16
}

func (*HackControl) ID() byte { return IDHackControl }
func (p *HackControl) Marshal(io IO) {
	io.UByte("fly", &p.Flying)
	io.UByte("noclip", &p.NoClip)
	io.UByte("speed", &p.Speeding)
	io.UByte("spawn", &p.SpawnControl)
	io.UByte("perspective", &p.ThirdPersonCam)
	io.Short("jumpHeight", &p.JumpHeight)
}

type ExtAddEntity2 struct {
	EntityID   uint8
	InGameName string
	SkinName   string
	X, Y, Z    float64
	Yaw, Pitch float64
}

func (*ExtAddEntity2) ID() byte { return IDExtAddEntity2 }
func (p *ExtAddEntity2) Marshal(io IO) {
	io.UByte("entityID", &p.EntityID)
	io.String("inGameName", &p.InGameName)
	io.String("skinName", &p.SkinName)
	io.Coordinate("spawnX", &p.X)
	io.Coordinate("spawnY", &p.Y)
	io.Coordinate("spawnZ", &p.Z)
	io.Angle("spawnYaw", &p.Yaw)
	io.Angle("spawnPitch", &p.Pitch)
}

type PlayerClicked struct {
	Button                    uint8
	Action                    uint8
	Yaw, Pitch                float64
	TargetEntity              int8
	TargetX, TargetY, TargetZ uint16
	TargetFace                uint8
}

func (*PlayerClicked) ID() byte { return IDPlayerClicked }
func (p *PlayerClicked) Marshal(io IO) {
	io.UByte("button", &p.Button)
	io.UByte("action", &p.Action)
	io.Angle2("yaw", &p.Yaw)
	io.Angle2("pitch", &p.Pitch)
	io.Byte("targetEntity", &p.TargetEntity)
	io.UShort("targetBlockX", &p.TargetX)
	io.UShort("targetBlockY", &p.TargetY)
	io.UShort("targetBlockZ", &p.TargetZ)
	io.UByte("targetBlockFace", &p.TargetFace)
}

type SetMapEnvURL struct {
	URL string
}

func (*SetMapEnvURL) ID() byte { return IDSetMapEnvURL }
func (p *SetMapEnvURL) Marshal(io IO) {
	io.DoubleString("url", &p.URL)
}

type SetMapEnvProperty struct {
	PropertyID uint8
	Value      int32
}

func (*SetMapEnvProperty) ID() byte { return IDSetMapEnvProperty }
func (p *SetMapEnvProperty) Marshal(io IO) {
	io.UByte("propertyID", &p.PropertyID)
	io.Int("propertyValue", &p.Value)
}

type SetHotbar struct {
	BlockID uint8
	Index   uint8
}

func (*SetHotbar) ID() byte { return IDSetHotbar }
func (p *SetHotbar) Marshal(io IO) {
	io.UByte("blockID", &p.BlockID)
	io.UByte("index", &p.Index)
}

type DefineModel struct {
	ModelID       uint8
	Name          string
	Flags         uint8
	NameY, EyeY   float32
	CollisionSize Vector3
	PickBoundsMin Vector3
	PickBoundsMax Vector3
	UScale        uint16
	VScale        uint16
	PartCount     uint8
}

func (*DefineModel) ID() byte { return IDDefineModel }
func (p *DefineModel) Marshal(io IO) {
	io.UByte("modelID", &p.ModelID)
	io.String("name", &p.Name)
	io.UByte("flags", &p.Flags)
	io.Float("nameY", &p.NameY)
	io.Float("eyeY", &p.EyeY)
	io.Vector3("collisionSize", &p.CollisionSize)
	io.Vector3("pickBoundsMin", &p.PickBoundsMin)
	io.Vector3("pickBoundsMax", &p.PickBoundsMax)
	io.UShort("uScale", &p.UScale)
	io.UShort("vScale", &p.VScale)
	io.UByte("partCount", &p.PartCount)
}

type DefineModelPart struct {
	ModelID              uint8
	MinCoords, MaxCoords Vector3
	Top, Bottom          UVCoords
	Front, Back          UVCoords
	Left, Right          UVCoords
	Origin, Angles       Vector3
	Anims                [4]AnimData
	Flags                uint8
}

func (*DefineModelPart) ID() byte { return IDDefineModelPart }
func (p *DefineModelPart) Marshal(io IO) {
	io.UByte("modelID", &p.ModelID)
	io.Vector3("minCoords", &p.MinCoords)
	io.Vector3("maxCoords", &p.MaxCoords)
	io.UVCoords("topUV", &p.Top)
	io.UVCoords("bottomUV", &p.Bottom)
	io.UVCoords("frontUV", &p.Front)
	io.UVCoords("backUV", &p.Back)
	io.UVCoords("leftUV", &p.Left)
	io.UVCoords("rightUV", &p.Right)
	io.Vector3("origin", &p.Origin)
	io.Vector3("angles", &p.Angles)
	io.AnimData("anim1", &p.Anims[0])
	io.AnimData("anim2", &p.Anims[1])
	io.AnimData("anim3", &p.Anims[2])
	io.AnimData("anim4", &p.Anims[3])
	io.UByte("flags", &p.Flags)
}

type UndefineModel struct {
	ModelID uint8
}

func (*UndefineModel) ID() byte { return IDUndefineModel }
func (p *UndefineModel) Marshal(io IO) {
	io.UByte("modelID", &p.ModelID)
}
