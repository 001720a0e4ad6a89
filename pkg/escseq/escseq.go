package escseq

import "sync/atomic"

var colorsOn atomic.Bool

func init() {
	colorsOn.Store(true)
}

const (
	resetColor       = "\x1b[0m"
	greenBold        = "\x1b[1;32m"
	greyBold         = "\x1b[1;90m"
	redBrightBold    = "\x1b[1;91m"
	redBold          = "\x1b[1;31m"
	yellowBrightBold = "\x1b[1;93m"
	blueBrightBold   = "\x1b[1;94m"
	cyanBold         = "\x1b[1;36m"
)

// SetColors toggles every helper of this package at once
func SetColors(enabled bool) {
	colorsOn.Store(enabled)
}

// ColorsEnabled reports the current toggle
func ColorsEnabled() bool {
	return colorsOn.Load()
}

func paint(code, m string) string {
	if !colorsOn.Load() {
		return m
	}
	return code + m + resetColor
}

func GreyBoldText(m string) string {
	return paint(greyBold, m)
}

func RedBoldText(m string) string {
	return paint(redBold, m)
}

func RedBrightBoldText(m string) string {
	return paint(redBrightBold, m)
}

func GreenBoldText(m string) string {
	return paint(greenBold, m)
}

func CyanBoldText(m string) string {
	return paint(cyanBold, m)
}

func BlueBrightBoldText(m string) string {
	return paint(blueBrightBold, m)
}

func YellowBrightBoldText(m string) string {
	return paint(yellowBrightBold, m)
}
