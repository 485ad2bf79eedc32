// Package bot maps inbound chat text to reply text.
package bot

import (
	"context"
	"math/rand/v2"
	"net/netip"
	"slices"
	"strconv"
	"strings"
)

// Command words the dispatcher answers.
const (
	CmdTemp   = "/temp"
	CmdDice   = "/dice"
	CmdIP     = "/ip"
	CmdAffirm = "/affirm"
	CmdHello  = "hello"
)

var commands = []string{CmdTemp, CmdDice, CmdIP, CmdAffirm, CmdHello}

// Commands lists every command word Reply handles.
func Commands() []string {
	return slices.Clone(commands)
}

// Known reports whether cmd is one of Commands.
func Known(cmd string) bool {
	return slices.Contains(commands, cmd)
}

const (
	replyHello       = "hello back :)"
	replyUnknown     = "did not understand!"
	replyTempError   = "Error getting the temp"
	replyIPError     = "Problem getting the ip, try again"
	replyAffirmError = "Problem getting an affirmation, try again"
	replyUnavailable = "this command is not available"
)

// Message is one inbound chat message.
type Message struct {
	ChatID int64
	Text   string
}

// WeatherProvider looks up temperatures. ok is false when no value is known.
type WeatherProvider interface {
	Temperature(ctx context.Context, city string) (celsius float64, ok bool)
	FavouriteCity() string
}

type AffirmationSource interface {
	Affirmation(ctx context.Context) (string, error)
}

type AddressSource interface {
	Resolve(ctx context.Context) (netip.Addr, error)
}

type Dispatcher struct {
	weather      WeatherProvider
	affirmations AffirmationSource
	addresses    AddressSource
	roll         func() int
}

type Option func(*Dispatcher)

func WithAffirmations(src AffirmationSource) Option {
	return func(d *Dispatcher) { d.affirmations = src }
}

func WithAddresses(src AddressSource) Option {
	return func(d *Dispatcher) { d.addresses = src }
}

// WithDice replaces the die; roll must return a value in [1,6].
func WithDice(roll func() int) Option {
	return func(d *Dispatcher) { d.roll = roll }
}

func NewDispatcher(weather WeatherProvider, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		weather: weather,
		roll:    func() int { return rand.IntN(6) + 1 },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Command returns the command word of text, the first whitespace separated token.
func Command(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Reply computes the answer to msg. Collaborator failures become reply text.
func (d *Dispatcher) Reply(ctx context.Context, msg Message) string {
	fields := strings.Fields(msg.Text)
	if len(fields) == 0 {
		return replyUnknown
	}
	switch fields[0] {
	case CmdTemp:
		return d.temperature(ctx, fields[1:])
	case CmdDice:
		return strconv.Itoa(d.roll())
	case CmdIP:
		return d.address(ctx)
	case CmdAffirm:
		return d.affirmation(ctx)
	case CmdHello:
		return replyHello
	default:
		return replyUnknown
	}
}

func (d *Dispatcher) temperature(ctx context.Context, args []string) string {
	if d.weather == nil {
		return replyTempError
	}
	city := d.weather.FavouriteCity()
	if len(args) > 0 {
		city = args[0]
	}
	celsius, ok := d.weather.Temperature(ctx, city)
	if !ok {
		return replyTempError
	}
	return strconv.FormatFloat(celsius, 'f', -1, 64)
}

func (d *Dispatcher) address(ctx context.Context) string {
	if d.addresses == nil {
		return replyUnavailable
	}
	addr, err := d.addresses.Resolve(ctx)
	if err != nil {
		return replyIPError
	}
	return addr.String()
}

func (d *Dispatcher) affirmation(ctx context.Context) string {
	if d.affirmations == nil {
		return replyUnavailable
	}
	text, err := d.affirmations.Affirmation(ctx)
	if err != nil || strings.TrimSpace(text) == "" {
		return replyAffirmError
	}
	return text
}
