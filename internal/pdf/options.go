// Package pdf renders HTML documents to PDF with headless Chrome.
package pdf

import (
	"fmt"
	"strconv"
	"strings"
)

// Margin holds CSS lengths such as "1cm", "10mm", "0.5in" or "20px".
type Margin struct {
	Top    string `json:"top,omitempty"`
	Right  string `json:"right,omitempty"`
	Bottom string `json:"bottom,omitempty"`
	Left   string `json:"left,omitempty"`
}

// Options controls page layout. Zero values take the defaults: A4, printed
// backgrounds, 1cm margins, portrait.
type Options struct {
	Format          string  `json:"format,omitempty"`
	PrintBackground *bool   `json:"printBackground,omitempty"`
	Margin          *Margin `json:"margin,omitempty"`
	Landscape       bool    `json:"landscape,omitempty"`
	Scale           float64 `json:"scale,omitempty"`
}

// paperSizes are width x height in inches.
var paperSizes = map[string][2]float64{
	"letter":  {8.5, 11},
	"legal":   {8.5, 14},
	"tabloid": {11, 17},
	"ledger":  {17, 11},
	"a0":      {33.1, 46.8},
	"a1":      {23.4, 33.1},
	"a2":      {16.54, 23.4},
	"a3":      {11.7, 16.54},
	"a4":      {8.27, 11.7},
	"a5":      {5.83, 8.27},
	"a6":      {4.13, 5.83},
}

const defaultMargin = "1cm"

// layout is Options resolved to the inch values Chrome expects.
type layout struct {
	paperWidth      float64
	paperHeight     float64
	marginTop       float64
	marginRight     float64
	marginBottom    float64
	marginLeft      float64
	printBackground bool
	landscape       bool
	scale           float64
}

func (o Options) resolve() (layout, error) {
	format := strings.ToLower(strings.TrimSpace(o.Format))
	if format == "" {
		format = "a4"
	}
	size, ok := paperSizes[format]
	if !ok {
		return layout{}, fmt.Errorf("unknown paper format %q", o.Format)
	}

	m := Margin{Top: defaultMargin, Right: defaultMargin, Bottom: defaultMargin, Left: defaultMargin}
	if o.Margin != nil {
		m = *o.Margin
	}
	var margins [4]float64
	for i, v := range []string{m.Top, m.Right, m.Bottom, m.Left} {
		in, err := ParseLength(v)
		if err != nil {
			return layout{}, err
		}
		margins[i] = in
	}

	l := layout{
		paperWidth:      size[0],
		paperHeight:     size[1],
		marginTop:       margins[0],
		marginRight:     margins[1],
		marginBottom:    margins[2],
		marginLeft:      margins[3],
		printBackground: o.PrintBackground == nil || *o.PrintBackground,
		landscape:       o.Landscape,
		scale:           1,
	}
	if o.Scale != 0 {
		if o.Scale < 0.1 || o.Scale > 2 {
			return layout{}, fmt.Errorf("scale %v out of range [0.1, 2]", o.Scale)
		}
		l.scale = o.Scale
	}
	return l, nil
}

var unitsPerInch = map[string]float64{
	"in": 1,
	"cm": 2.54,
	"mm": 25.4,
	"px": 96,
	"pt": 72,
}

// ParseLength converts a CSS length to inches. A bare number is pixels and
// an empty string is zero.
func ParseLength(s string) (float64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}
	unit := "px"
	num := s
	if len(s) > 2 {
		if _, ok := unitsPerInch[s[len(s)-2:]]; ok {
			unit = s[len(s)-2:]
			num = s[:len(s)-2]
		}
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid length %q", s)
	}
	return v / unitsPerInch[unit], nil
}
