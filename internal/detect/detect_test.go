package detect

import (
	"image"
	"testing"
)

func TestStrongest(t *testing.T) {
	box := image.Rect(0, 0, 10, 10)
	tests := []struct {
		name     string
		dets     []Detection
		min      float64
		wantConf float64
		wantBox  image.Rectangle
		wantOK   bool
	}{
		{name: "none", dets: nil, min: 0.5},
		{name: "all below floor", dets: []Detection{{Box: box, Confidence: 0.3}, {Box: box, Confidence: 0.49}}, min: 0.5},
		{
			name:     "unordered input",
			dets:     []Detection{{Box: box, Confidence: 0.6}, {Box: box, Confidence: 0.92}, {Box: box, Confidence: 0.7}},
			min:      0.5,
			wantConf: 0.92, wantBox: box, wantOK: true,
		},
		{
			name:     "floor is inclusive",
			dets:     []Detection{{Box: box, Confidence: 0.5}},
			min:      0.5,
			wantConf: 0.5, wantBox: box, wantOK: true,
		},
		{
			name:     "first of equal scores",
			dets:     []Detection{{Box: image.Rect(1, 1, 5, 5), Confidence: 0.8}, {Box: image.Rect(2, 2, 9, 9), Confidence: 0.8}},
			min:      0.5,
			wantConf: 0.8, wantBox: image.Rect(1, 1, 5, 5), wantOK: true,
		},
		{
			name:     "empty box skipped",
			dets:     []Detection{{Confidence: 0.99}, {Box: box, Confidence: 0.6}},
			min:      0.5,
			wantConf: 0.6, wantBox: box, wantOK: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Strongest(tt.dets, tt.min)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if got.Confidence != tt.wantConf || got.Box != tt.wantBox {
				t.Fatalf("got %+v, want conf %v box %v", got, tt.wantConf, tt.wantBox)
			}
		})
	}
}
