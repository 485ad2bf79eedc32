package bot

import (
	"context"
	"errors"
	"net/netip"
	"strconv"
	"testing"
)

type stubWeather struct {
	temps     map[string]float64
	favourite string
	asked     []string
}

func (s *stubWeather) Temperature(_ context.Context, city string) (float64, bool) {
	s.asked = append(s.asked, city)
	v, ok := s.temps[city]
	return v, ok
}

func (s *stubWeather) FavouriteCity() string { return s.favourite }

type stubAffirmations struct {
	text string
	err  error
}

func (s stubAffirmations) Affirmation(context.Context) (string, error) { return s.text, s.err }

type stubAddresses struct {
	addr netip.Addr
	err  error
}

func (s stubAddresses) Resolve(context.Context) (netip.Addr, error) { return s.addr, s.err }

func reply(d *Dispatcher, text string) string {
	return d.Reply(context.Background(), Message{ChatID: 1, Text: text})
}

func TestReply_Dice(t *testing.T) {
	d := NewDispatcher(&stubWeather{})
	for i := 0; i < 100; i++ {
		got := reply(d, "/dice")
		n, err := strconv.Atoi(got)
		if err != nil {
			t.Fatalf("dice reply %q is not a number", got)
		}
		if n < 1 || n > 6 {
			t.Fatalf("dice reply %d out of range", n)
		}
	}
}

func TestReply_FixedDie(t *testing.T) {
	d := NewDispatcher(&stubWeather{}, WithDice(func() int { return 4 }))
	if got := reply(d, "/dice"); got != "4" {
		t.Fatalf("reply = %q, want 4", got)
	}
}

func TestReply_Hello(t *testing.T) {
	if got := reply(NewDispatcher(&stubWeather{}), "hello"); got != "hello back :)" {
		t.Fatalf("reply = %q", got)
	}
}

func TestReply_Unknown(t *testing.T) {
	d := NewDispatcher(&stubWeather{})
	for _, in := range []string{"xyz", "", "   ", "Hello", "/unknown arg"} {
		if got := reply(d, in); got != "did not understand!" {
			t.Errorf("reply(%q) = %q", in, got)
		}
	}
}

func TestReply_TempWithCity(t *testing.T) {
	w := &stubWeather{temps: map[string]float64{"Paris": 21.5}, favourite: "Vienna"}
	if got := reply(NewDispatcher(w), "/temp Paris"); got != "21.5" {
		t.Fatalf("reply = %q, want 21.5", got)
	}
	if len(w.asked) != 1 || w.asked[0] != "Paris" {
		t.Fatalf("asked = %v", w.asked)
	}
}

func TestReply_TempUsesFavouriteCity(t *testing.T) {
	w := &stubWeather{temps: map[string]float64{"Vienna": -3}, favourite: "Vienna"}
	if got := reply(NewDispatcher(w), "/temp"); got != "-3" {
		t.Fatalf("reply = %q, want -3", got)
	}
	if len(w.asked) != 1 || w.asked[0] != "Vienna" {
		t.Fatalf("asked = %v", w.asked)
	}
}

func TestReply_TempNoResult(t *testing.T) {
	w := &stubWeather{favourite: "Atlantis"}
	if got := reply(NewDispatcher(w), "/temp"); got != "Error getting the temp" {
		t.Fatalf("reply = %q", got)
	}
}

func TestReply_IP(t *testing.T) {
	d := NewDispatcher(&stubWeather{}, WithAddresses(stubAddresses{addr: netip.MustParseAddr("203.0.113.7")}))
	if got := reply(d, "/ip"); got != "203.0.113.7" {
		t.Fatalf("reply = %q", got)
	}

	d = NewDispatcher(&stubWeather{}, WithAddresses(stubAddresses{err: errors.New("down")}))
	if got := reply(d, "/ip"); got != "Problem getting the ip, try again" {
		t.Fatalf("reply = %q", got)
	}
}

func TestReply_Affirm(t *testing.T) {
	d := NewDispatcher(&stubWeather{}, WithAffirmations(stubAffirmations{text: "You got this"}))
	if got := reply(d, "/affirm"); got != "You got this" {
		t.Fatalf("reply = %q", got)
	}

	d = NewDispatcher(&stubWeather{}, WithAffirmations(stubAffirmations{err: errors.New("503")}))
	if got := reply(d, "/affirm"); got != "Problem getting an affirmation, try again" {
		t.Fatalf("reply = %q", got)
	}
}

func TestCommand(t *testing.T) {
	cases := map[string]string{
		"/temp Paris": "/temp",
		"  hello  ":   "hello",
		"":            "",
	}
	for in, want := range cases {
		if got := Command(in); got != want {
			t.Errorf("Command(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCommandsAreAllHandled(t *testing.T) {
	d := NewDispatcher(&stubWeather{favourite: "Vienna"})
	for _, cmd := range Commands() {
		if !Known(cmd) {
			t.Errorf("Known(%q) = false", cmd)
		}
		if got := reply(d, cmd); got == replyUnknown {
			t.Errorf("%q falls through to the default reply", cmd)
		}
	}
	if Known("xyz") {
		t.Error("Known(xyz) = true")
	}
}
