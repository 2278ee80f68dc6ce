package text

import (
	"fmt"
	"strconv"
)

type color struct {
	name string
	code byte
	rgb  uint32
	hex  bool
}

// named is the legacy sixteen-color palette, indexed by code.
var named = []*color{
	{name: "black", code: '0', rgb: 0x000000},
	{name: "dark_blue", code: '1', rgb: 0x0000AA},
	{name: "dark_green", code: '2', rgb: 0x00AA00},
	{name: "dark_aqua", code: '3', rgb: 0x00AAAA},
	{name: "dark_red", code: '4', rgb: 0xAA0000},
	{name: "dark_purple", code: '5', rgb: 0xAA00AA},
	{name: "gold", code: '6', rgb: 0xFFAA00},
	{name: "gray", code: '7', rgb: 0xAAAAAA},
	{name: "dark_gray", code: '8', rgb: 0x555555},
	{name: "blue", code: '9', rgb: 0x5555FF},
	{name: "green", code: 'a', rgb: 0x55FF55},
	{name: "aqua", code: 'b', rgb: 0x55FFFF},
	{name: "red", code: 'c', rgb: 0xFF5555},
	{name: "light_purple", code: 'd', rgb: 0xFF55FF},
	{name: "yellow", code: 'e', rgb: 0xFFFF55},
	{name: "white", code: 'f', rgb: 0xFFFFFF},
}

func namedByCode(code byte) (*color, bool) {
	for _, c := range named {
		if c.code == code {
			return c, true
		}
	}
	return nil, false
}

func parseHexColor(digits string) (*color, bool) {
	if len(digits) != 6 {
		return nil, false
	}
	v, err := strconv.ParseUint(digits, 16, 32)
	if err != nil {
		return nil, false
	}
	return &color{rgb: uint32(v), hex: true}, true
}

// serialize returns the JSON color value.
func (c *color) serialize(modern bool) string {
	if c.hex && modern {
		return fmt.Sprintf("#%06x", c.rgb)
	}
	return c.nearest().name
}

// nearest returns the closest palette entry by squared RGB distance.
func (c *color) nearest() *color {
	if !c.hex {
		return c
	}
	best := named[0]
	bestDist := -1
	for _, n := range named {
		dr := int(c.rgb>>16&0xFF) - int(n.rgb>>16&0xFF)
		dg := int(c.rgb>>8&0xFF) - int(n.rgb>>8&0xFF)
		db := int(c.rgb&0xFF) - int(n.rgb&0xFF)
		dist := dr*dr + dg*dg + db*db
		if bestDist < 0 || dist < bestDist {
			best, bestDist = n, dist
		}
	}
	return best
}
