package store

import "testing"

func TestTableNamerReplacesHyphens(t *testing.T) {
	n := NewTableNamer("a1b2c3d4-e5f6-7890-abcd-ef1234567890")
	cases := map[string]string{
		n.Messages():          "d_m_a1b2c3d4_e5f6_7890_abcd_ef1234567890",
		n.ConnectorMessages(): "d_mm_a1b2c3d4_e5f6_7890_abcd_ef1234567890",
		n.Content():           "d_mc_a1b2c3d4_e5f6_7890_abcd_ef1234567890",
		n.Attachments():       "d_ma_a1b2c3d4_e5f6_7890_abcd_ef1234567890",
		n.Statistics():        "d_ms_a1b2c3d4_e5f6_7890_abcd_ef1234567890",
	}
	for got, want := range cases {
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
}

func TestAdvisoryLockKeyDeterministic(t *testing.T) {
	a := advisoryLockKey("channel-one")
	b := advisoryLockKey("channel-one")
	if a != b {
		t.Fatalf("expected deterministic key, got %d and %d", a, b)
	}
	if a < 0 {
		t.Fatalf("expected non-negative key, got %d", a)
	}
	if advisoryLockKey("channel-two") == a {
		t.Fatalf("expected distinct channels to hash differently (collision is possible but unlikely here)")
	}
}
