package ui

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestVisualizerView(t *testing.T) {
	tests := []struct {
		name  string
		data  []byte
		width int
		want  string
	}{
		{"zero width", []byte{255}, 0, ""},
		{"no data", nil, 3, "   "},
		{"full", []byte{255, 255, 255, 255}, 2, "██"},
		{"silent", []byte{0, 0}, 2, "  "},
		{"peak per bucket", []byte{0, 255, 0, 0}, 2, "█ "},
		{"stretched", []byte{255}, 3, "███"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := visualizerView(tt.data, tt.width)
			if !strings.Contains(got, tt.want) {
				t.Errorf("visualizerView() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestVisualizerView_Width(t *testing.T) {
	data := make([]byte, 128)
	for i := range data {
		data[i] = byte(i * 2)
	}
	for _, w := range []int{1, 7, 64, 200} {
		got := visualizerView(data, w)
		drawn := strings.Map(func(r rune) rune {
			if strings.ContainsRune(string(bars), r) {
				return r
			}
			return -1
		}, got)
		if n := utf8.RuneCountInString(drawn); n != w {
			t.Errorf("width %d: rendered %d bars", w, n)
		}
	}
}
