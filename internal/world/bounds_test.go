package world

import "testing"

func TestClamp(t *testing.T) {
	cases := []struct {
		name         string
		x, y         float64
		wantX, wantY float64
	}{
		{"inside", 10, 20, 10, 20},
		{"left top", -5, -1, 0, 0},
		{"right bottom", 900, 601, Width, Height},
		{"edge", Width, Height, Width, Height},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			x, y := Clamp(tc.x, tc.y)
			if x != tc.wantX || y != tc.wantY {
				t.Fatalf("Clamp(%v, %v) = (%v, %v), want (%v, %v)", tc.x, tc.y, x, y, tc.wantX, tc.wantY)
			}
			if !InBounds(x, y) {
				t.Fatalf("clamped point (%v, %v) not in bounds", x, y)
			}
		})
	}
}

func TestDistance(t *testing.T) {
	if d := Distance(0, 0, 3, 4); d != 5 {
		t.Fatalf("Distance = %v, want 5", d)
	}
	if d := Distance(7, 7, 7, 7); d != 0 {
		t.Fatalf("Distance of identical points = %v, want 0", d)
	}
}

func TestBackdropShadeRange(t *testing.T) {
	b := NewBackdrop(42)
	for x := 0.0; x <= Width; x += 50 {
		for y := 0.0; y <= Height; y += 50 {
			v := b.Shade(x, y)
			if v < 0 || v > 1 {
				t.Fatalf("Shade(%v, %v) = %v, outside [0,1]", x, y, v)
			}
		}
	}
	if NewBackdrop(42).Shade(123, 456) != b.Shade(123, 456) {
		t.Fatal("backdrop should be deterministic for a seed")
	}
}
