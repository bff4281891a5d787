package world

import (
	"fmt"
	"math"
	"strings"
)

// Weather is the level's weather type.
type Weather uint8

const (
	WeatherClear Weather = iota
	WeatherRaining
	WeatherSnowing
)

var weatherNames = map[Weather]string{
	WeatherClear:   "clear",
	WeatherRaining: "raining",
	WeatherSnowing: "snowing",
}

func (w Weather) String() string {
	if s, ok := weatherNames[w]; ok {
		return s
	}
	return fmt.Sprintf("weather(%d)", uint8(w))
}

// Valid reports whether w is one of the defined weather types.
func (w Weather) Valid() bool {
	return w <= WeatherSnowing
}

// ParseWeather accepts a weather name or its number.
func ParseWeather(s string) (Weather, bool) {
	s = strings.ToLower(s)
	for w, name := range weatherNames {
		if name == s || fmt.Sprint(uint8(w)) == s {
			return w, true
		}
	}
	return 0, false
}

// EnvProperty identifies one EnvMapAspect property. The value is its wire ID.
type EnvProperty uint8

const (
	PropSideBlock EnvProperty = iota
	PropEdgeBlock
	PropEdgeHeight
	PropCloudsHeight
	PropMaxFog
	PropCloudsSpeed
	PropWeatherSpeed
	PropWeatherFade
	PropUseExpFog
	PropSideHeight

	envPropertyCount
)

var envPropertyNames = [envPropertyCount]string{
	"sideBlockID", "edgeBlockID", "edgeHeight", "cloudsHeight", "maxFog",
	"cloudsSpeed", "weatherSpeed", "weatherFade", "useExpFog", "sideHeight",
}

func (p EnvProperty) String() string {
	if p < envPropertyCount {
		return envPropertyNames[p]
	}
	return fmt.Sprintf("property(%d)", uint8(p))
}

// EnvProperties lists every property in wire order.
func EnvProperties() []EnvProperty {
	out := make([]EnvProperty, envPropertyCount)
	for i := range out {
		out[i] = EnvProperty(i)
	}
	return out
}

// ParseEnvProperty looks a property up by name, case-insensitively.
func ParseEnvProperty(name string) (EnvProperty, bool) {
	for i, n := range envPropertyNames {
		if strings.EqualFold(n, name) {
			return EnvProperty(i), true
		}
	}
	return 0, false
}

// Environment holds the EnvMapAspect properties of a level.
type Environment struct {
	SideBlock    byte    `json:"sideBlockID"`
	EdgeBlock    byte    `json:"edgeBlockID"`
	EdgeHeight   int     `json:"edgeHeight"`
	CloudsHeight int     `json:"cloudsHeight"`
	MaxFog       int     `json:"maxFog"`
	CloudsSpeed  float64 `json:"cloudsSpeed"`
	WeatherSpeed float64 `json:"weatherSpeed"`
	WeatherFade  float64 `json:"weatherFade"`
	UseExpFog    bool    `json:"useExpFog"`
	SideHeight   int     `json:"sideHeight"`
}

// DefaultEnvironment returns the environment of a fresh level of height sizeY.
func DefaultEnvironment(sizeY int) Environment {
	return Environment{
		SideBlock:    Bedrock,
		EdgeBlock:    Water,
		EdgeHeight:   sizeY / 2,
		CloudsHeight: sizeY + 2,
		MaxFog:       0,
		CloudsSpeed:  1,
		WeatherSpeed: 1,
		WeatherFade:  1,
		UseExpFog:    false,
		SideHeight:   -2,
	}
}

// WireValue converts a property to its SetMapEnvProperty value. Block
// properties go through convert; speeds are sent ×256 and the fade ×128.
func (e Environment) WireValue(p EnvProperty, convert func(byte) byte) int32 {
	switch p {
	case PropSideBlock:
		return int32(convert(e.SideBlock))
	case PropEdgeBlock:
		return int32(convert(e.EdgeBlock))
	case PropEdgeHeight:
		return int32(e.EdgeHeight)
	case PropCloudsHeight:
		return int32(e.CloudsHeight)
	case PropMaxFog:
		return int32(e.MaxFog)
	case PropCloudsSpeed:
		return int32(math.Round(e.CloudsSpeed * 256))
	case PropWeatherSpeed:
		return int32(math.Round(e.WeatherSpeed * 256))
	case PropWeatherFade:
		return int32(math.Round(e.WeatherFade * 128))
	case PropUseExpFog:
		if e.UseExpFog {
			return 1
		}
		return 0
	case PropSideHeight:
		return int32(e.SideHeight)
	}
	return 0
}

// Set assigns a property from its numeric value.
func (e *Environment) Set(p EnvProperty, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("invalid value for %s", p)
	}
	switch p {
	case PropSideBlock, PropEdgeBlock:
		if v < 0 || v > 255 {
			return fmt.Errorf("invalid block for %s: %v", p, v)
		}
		if _, ok := BlockInfo(byte(v)); !ok {
			return fmt.Errorf("invalid block for %s: %v", p, v)
		}
		if p == PropSideBlock {
			e.SideBlock = byte(v)
		} else {
			e.EdgeBlock = byte(v)
		}
	case PropEdgeHeight:
		e.EdgeHeight = int(v)
	case PropCloudsHeight:
		e.CloudsHeight = int(v)
	case PropMaxFog:
		e.MaxFog = int(v)
	case PropCloudsSpeed:
		e.CloudsSpeed = v
	case PropWeatherSpeed:
		e.WeatherSpeed = v
	case PropWeatherFade:
		e.WeatherFade = v
	case PropUseExpFog:
		e.UseExpFog = v != 0
	case PropSideHeight:
		e.SideHeight = int(v)
	default:
		return fmt.Errorf("unknown property %s", p)
	}
	return nil
}
