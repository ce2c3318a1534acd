package sector

import "testing"

func TestFromStrRoundTrip(t *testing.T) {
	canonical := []string{"start", "end", "50%", "512M", "-4096M", "2048"}
	for _, s := range canonical {
		got, err := FromStr(s)
		if err != nil {
			t.Fatalf("FromStr(%q) error: %v", s, err)
		}
		if got.String() != s {
			t.Errorf("FromStr(%q).String() = %q, want %q", s, got.String(), s)
		}
	}
}

func TestFromStrVariants(t *testing.T) {
	cases := []struct {
		in   string
		want Sector
	}{
		{"start", Start()},
		{"end", End()},
		{"90%", Percent(90)},
		{"500M", Megabyte(500)},
		{"-4096M", MegabyteFromEnd(4096)},
		{"2048", Unit(2048)},
		{"-1", UnitFromEnd(1)},
	}
	for _, c := range cases {
		got, err := FromStr(c.in)
		if err != nil {
			t.Fatalf("FromStr(%q) error: %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("FromStr(%q) = %+v, want %+v", c.in, got, c.want)
		}
	}
}

func TestFromStrErrors(t *testing.T) {
	cases := []string{"", "101%", "abc", "-abc", "abcM", "%"}
	for _, c := range cases {
		if _, err := FromStr(c); err == nil {
			t.Errorf("FromStr(%q) expected error, got nil", c)
		}
	}
}

func TestResolveBoundaries(t *testing.T) {
	d := Disk{Sectors: 1_000_000, SectorSize: 512}

	if got, err := Megabyte(0).Resolve(d); err != nil || got != 0 {
		t.Errorf("Megabyte(0).Resolve = %d, %v, want 0, nil", got, err)
	}

	if got, err := Percent(100).Resolve(d); err != nil || got != d.Sectors {
		t.Errorf("Percent(100).Resolve = %d, %v, want %d, nil", got, err, d.Sectors)
	}

	if got, err := UnitFromEnd(d.Sectors).Resolve(d); err != nil || got != 0 {
		t.Errorf("UnitFromEnd(N).Resolve = %d, %v, want 0, nil", got, err)
	}

	if _, err := UnitFromEnd(d.Sectors + 1).Resolve(d); err == nil {
		t.Error("UnitFromEnd(v>N).Resolve expected error, got nil")
	}

	if got, err := Start().Resolve(d); err != nil || got != 0 {
		t.Errorf("Start().Resolve = %d, %v, want 0, nil", got, err)
	}

	if got, err := End().Resolve(d); err != nil || got != d.Sectors-1 {
		t.Errorf("End().Resolve = %d, %v, want %d, nil", got, err, d.Sectors-1)
	}
}

func TestResolvePercentAlignment(t *testing.T) {
	d := Disk{Sectors: 1_000_000, SectorSize: 512}
	got, err := Percent(50).Resolve(d)
	if err != nil {
		t.Fatalf("Percent(50).Resolve error: %v", err)
	}
	if got%DefaultAlignment != 0 {
		t.Errorf("Percent(50).Resolve = %d, not aligned to %d", got, DefaultAlignment)
	}
}

func TestResolveInvalidPercent(t *testing.T) {
	p := Sector{Kind: KindPercent, Value: 150}
	if _, err := p.Resolve(Disk{Sectors: 100, SectorSize: 512}); err == nil {
		t.Error("expected error for out-of-range percent")
	}
}
