package mathx

import "testing"

func TestFloorDivNegative(t *testing.T) {
	cases := []struct{ a, b, want int }{
		{7, 2, 3},
		{-1, 16, -1},
		{-16, 16, -1},
		{-17, 16, -2},
		{0, 5, 0},
	}
	for _, c := range cases {
		if got := FloorDiv(c.a, c.b); got != c.want {
			t.Fatalf("FloorDiv(%d,%d)=%d want %d", c.a, c.b, got, c.want)
		}
	}
	if got := Mod(-1, 16); got != 15 {
		t.Fatalf("Mod(-1,16)=%d", got)
	}
}

func TestISqrt(t *testing.T) {
	for n := 0; n < 2000; n++ {
		r := ISqrt(n)
		if r*r > n || (r+1)*(r+1) <= n {
			t.Fatalf("ISqrt(%d)=%d", n, r)
		}
	}
	if ISqrt(-4) != 0 {
		t.Fatalf("negative input should clamp to 0")
	}
}

func TestFloorToInt(t *testing.T) {
	if got := FloorToInt(-0.5); got != -1 {
		t.Fatalf("FloorToInt(-0.5)=%d", got)
	}
	if got := FloorToInt(2.99); got != 2 {
		t.Fatalf("FloorToInt(2.99)=%d", got)
	}
}

func TestHashDeterministic(t *testing.T) {
	if Hash2(1, 3, -4) != Hash2(1, 3, -4) {
		t.Fatalf("Hash2 not deterministic")
	}
	if Hash3(1, 3, 0, -4) == Hash3(2, 3, 0, -4) {
		t.Fatalf("seed should change Hash3")
	}
	u := Unit(Hash2(9, 1, 1))
	if u < 0 || u >= 1 {
		t.Fatalf("Unit out of range: %v", u)
	}
}
