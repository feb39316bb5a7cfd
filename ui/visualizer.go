package ui

import (
	"strings"
)

var bars = []rune(" ▁▂▃▄▅▆▇█")

// visualizerView renders frequency data as a row of width bars. Each bar
// is the peak of its share of the bins.
func visualizerView(data []byte, width int) string {
	if width <= 0 {
		return ""
	}
	if len(data) == 0 {
		return strings.Repeat(" ", width)
	}
	var b strings.Builder
	for i := range width {
		lo := i * len(data) / width
		hi := max((i+1)*len(data)/width, lo+1)
		var peak byte
		for _, v := range data[lo:min(hi, len(data))] {
			peak = max(peak, v)
		}
		b.WriteRune(bars[int(peak)*(len(bars)-1)/255])
	}
	return visualizerStyle.Render(b.String())
}
