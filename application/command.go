package application

import (
	"errors"
	"fmt"
	"strings"
)

var ErrMalformedCommand = errors.New("malformed control command")

type CommandKind int

const (
	CommandNewTest CommandKind = iota + 1
	CommandEndTest
)

const (
	cmdNewTest = "NEW_TEST"
	cmdEndTest = "END_TEST"
)

// profiles accepted, and dropped, in the legacy NEW_TEST <profile> <name> form
var legacyProfiles = map[string]bool{
	"host":   true,
	"edge":   true,
	"broker": true,
}

type Command struct {
	Kind   CommandKind
	Name   string
	Params []string
}

// ParseCommand parses a test control payload:
//
//	NEW_TEST <scenario> [param ...]
//	END_TEST
//
// Tokens are separated by spaces; a token opening with a double quote runs
// to the next double quote.
func ParseCommand(payload string) (Command, error) {
	trimmed := strings.TrimSpace(payload)

	if strings.EqualFold(trimmed, cmdEndTest) {
		return Command{Kind: CommandEndTest}, nil
	}

	tokens, err := tokenize(trimmed)
	if err != nil {
		return Command{}, err
	}
	if len(tokens) == 0 || !strings.EqualFold(tokens[0], cmdNewTest) {
		return Command{}, fmt.Errorf("%w: %q", ErrMalformedCommand, payload)
	}

	args := tokens[1:]
	if len(args) >= 2 && legacyProfiles[strings.ToLower(args[0])] {
		args = args[1:]
	}
	if len(args) == 0 {
		return Command{}, fmt.Errorf("%w: syntax is NEW_TEST <scenario> <parameters>", ErrMalformedCommand)
	}

	return Command{
		Kind:   CommandNewTest,
		Name:   args[0],
		Params: append([]string{}, args[1:]...),
	}, nil
}

func tokenize(s string) ([]string, error) {
	var tokens []string
	for i := 0; i < len(s); {
		if s[i] == ' ' {
			i++
			continue
		}
		if s[i] == '"' {
			end := strings.IndexByte(s[i+1:], '"')
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated quote in %q", ErrMalformedCommand, s)
			}
			tokens = append(tokens, s[i+1:i+1+end])
			i += end + 2
			continue
		}
		end := strings.IndexByte(s[i:], ' ')
		if end < 0 {
			end = len(s) - i
		}
		tokens = append(tokens, s[i:i+end])
		i += end
	}
	return tokens, nil
}
