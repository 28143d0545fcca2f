package natsadapter

import "testing"

func TestChannelSubject(t *testing.T) {
	cases := map[string]string{
		"trip-T1":        "bilbotrack.channels.trip-T1",
		"user-ana.perez": "bilbotrack.channels.user-ana_perez",
		"trip-a b>c*d/e": "bilbotrack.channels.trip-a_b_c_d_e",
		"  ":             "bilbotrack.channels._",
	}
	for in, want := range cases {
		if got := ChannelSubject(in); got != want {
			t.Errorf("ChannelSubject(%q) = %q, want %q", in, got, want)
		}
	}
}
