package dispatch

import (
	"errors"
	"strings"
)

var (
	// ErrEmptyText is returned for text messages without a body.
	ErrEmptyText = errors.New("message text is empty")
	// ErrMissingReferralCode is returned for "JOIN " without a code.
	ErrMissingReferralCode = errors.New("referral code missing")
)

const joinPrefix = "JOIN "

// Command is the parsed intent of a text message.
type Command interface {
	command() string
}

// CommandHelp asks for the help menu.
type CommandHelp struct{}

// CommandJoin claims a referral code.
type CommandJoin struct {
	Code string
}

// CommandFeedback rates the latest diagnosis.
type CommandFeedback struct {
	Helpful bool
}

// CommandDiagnose describes a crop problem.
type CommandDiagnose struct {
	Text string
}

func (CommandHelp) command() string     { return "help" }
func (CommandJoin) command() string     { return "join" }
func (CommandFeedback) command() string { return "feedback" }
func (CommandDiagnose) command() string { return "diagnose" }

// ParseCommand classifies a text message. Anything that is not a recognised
// command is a diagnosis request.
func ParseCommand(text string) (Command, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	lead := strings.TrimLeft(text, " \t\r\n")
	if strings.HasPrefix(strings.ToUpper(lead), joinPrefix) {
		fields := strings.Fields(lead)
		if len(fields) < 2 {
			return nil, ErrMissingReferralCode
		}
		return CommandJoin{Code: strings.ToUpper(fields[1])}, nil
	}

	switch strings.ToLower(strings.TrimSpace(text)) {
	case "help", "menu", "start":
		return CommandHelp{}, nil
	case "yes":
		return CommandFeedback{Helpful: true}, nil
	case "no":
		return CommandFeedback{Helpful: false}, nil
	}
	return CommandDiagnose{Text: text}, nil
}
