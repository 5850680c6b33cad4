package model

import "testing"

func TestSaturateScore(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 0},
		{ScoreMax, ScoreMax},
		{ScoreMax + 1, ScoreMax},
		{ScoreMin, ScoreMin},
		{ScoreMin - 1, ScoreMin},
		{42, 42},
	}
	for _, c := range cases {
		if got := SaturateScore(c.in); got != c.want {
			t.Errorf("SaturateScore(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestTeamOf(t *testing.T) {
	m := &Match{
		TeamA: Team{ID: "red"},
		TeamB: Team{ID: "blue"},
	}
	if m.TeamOf("red") != &m.TeamA {
		t.Fatal("team A not resolved by id")
	}
	if m.TeamOf("blue") != &m.TeamB {
		t.Fatal("team B not resolved by id")
	}
	// Side labels resolve too (matches started without provisioning).
	if m.TeamOf("teamA") != &m.TeamA || m.TeamOf("teamB") != &m.TeamB {
		t.Fatal("side labels not resolved")
	}
	if m.TeamOf("green") != nil {
		t.Fatal("unknown team resolved")
	}
}

func TestCaptureKey(t *testing.T) {
	if got := CaptureKey("t1_tpl1", 7); got != "t1_tpl1|7" {
		t.Fatalf("CaptureKey = %q", got)
	}
}

func TestLegacyServiceIDs(t *testing.T) {
	ids := LegacyServiceIDs("m1")
	if len(ids) != 2 || ids[0] != "teamA_m1" || ids[1] != "teamB_m1" {
		t.Fatalf("LegacyServiceIDs = %v", ids)
	}
}

func TestServiceOwnerSide(t *testing.T) {
	m := &Match{
		TeamA: Team{ID: "red"},
		TeamB: Team{ID: "blue"},
	}
	cases := []struct {
		serviceID string
		side      Side
		ok        bool
	}{
		{"red_tpl1", SideTeamA, true},
		{"blue_tpl1", SideTeamB, true},
		{"teamA_m1", SideTeamA, true},
		{"teamB_m1", SideTeamB, true},
		{"green_tpl1", "", false},
		{"red", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		side, ok := ServiceOwnerSide(m, c.serviceID)
		if side != c.side || ok != c.ok {
			t.Errorf("ServiceOwnerSide(%q) = (%q, %v), want (%q, %v)", c.serviceID, side, ok, c.side, c.ok)
		}
	}
}

func TestInfrastructureServicesOrder(t *testing.T) {
	inf := &Infrastructure{
		TeamA: []Container{{ServiceID: "a1"}, {ServiceID: "a2"}},
		TeamB: []Container{{ServiceID: "b1"}},
	}
	got := inf.Services()
	if len(got) != 3 || got[0].ServiceID != "a1" || got[1].ServiceID != "a2" || got[2].ServiceID != "b1" {
		t.Fatalf("Services order = %v", got)
	}
}
