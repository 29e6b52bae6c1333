package session

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"solana-action-relay/internal/domain"
)

// Confirmation vocabulary, compared case-insensitively.
var (
	proceedWords = map[string]bool{"proceed": true, "yes": true, "confirm": true}
	cancelWords  = map[string]bool{"cancel": true, "no": true, "abort": true}
	// abortWords cancel from any stage. "no" is excluded so it can still be
	// collected as a value.
	abortWords = map[string]bool{"cancel": true, "abort": true}
)

const (
	minTokenLen  = 2
	minNameLen   = 2
	maxNameLen   = 32
	minSymbolLen = 2
	maxSymbolLen = 10
	maxDescLen   = 500
	skipWord     = "skip"
)

// step is one collecting stage.
type step struct {
	stage    domain.Stage
	field    string
	prompt   string
	validate func(s *domain.ActionSession, input string) (string, error)
}

var flows = map[domain.ActionKind][]step{
	domain.ActionSwap: {
		{domain.StageSourceToken, domain.FieldSourceToken,
			"Which token do you want to swap from? (symbol or mint address)", validateToken},
		{domain.StageDestinationToken, domain.FieldDestinationToken,
			"Which token do you want to receive?", validateDestination},
		{domain.StageAmount, domain.FieldAmount,
			"How much do you want to swap?", validateAmount},
	},
	domain.ActionLaunch: {
		{domain.StageName, domain.FieldName,
			"What is the name of your token?", validateName},
		{domain.StageSymbol, domain.FieldSymbol,
			"What ticker symbol should it use? (2-10 letters or digits)", validateSymbol},
		{domain.StageDescription, domain.FieldDescription,
			"Describe your token in a sentence, or reply skip.", validateDescription},
	},
}

// outcome classifies the effect of one input.
type outcome int

const (
	outcomeRejected outcome = iota
	outcomeAdvanced
	outcomeConfirmed
	outcomeCancelled
)

// validKind reports whether kind has a flow.
func validKind(kind domain.ActionKind) bool {
	_, ok := flows[kind]
	return ok
}

// start returns a fresh session at the first stage of kind.
func start(key string, kind domain.ActionKind, nowMs int64) (*domain.ActionSession, string) {
	first := flows[kind][0]
	return &domain.ActionSession{
		Key:           key,
		Kind:          kind,
		Stage:         first.stage,
		Fields:        []domain.CollectedField{},
		CreatedAt:     nowMs,
		LastTouchedAt: nowMs,
	}, first.prompt
}

// advance applies input to s in place and returns the outcome and the next
// prompt. A rejected input leaves Stage and Fields untouched.
func advance(s *domain.ActionSession, input string) (outcome, string) {
	input = strings.TrimSpace(input)
	word := strings.ToLower(input)

	if s.Stage == domain.StageAwaitingConfirmation {
		switch {
		case proceedWords[word]:
			s.Stage = domain.StageExecuting
			s.AwaitingConfirmation = false
			return outcomeConfirmed, "Preparing your transaction."
		case cancelWords[word]:
			s.Stage = domain.StageCancelled
			s.AwaitingConfirmation = false
			return outcomeCancelled, cancelledPrompt(s.Kind)
		default:
			return outcomeRejected, "Please reply proceed to continue or cancel to abort.\n" + summary(s)
		}
	}

	if abortWords[word] {
		s.Stage = domain.StageCancelled
		return outcomeCancelled, cancelledPrompt(s.Kind)
	}

	steps := flows[s.Kind]
	idx := -1
	for i, st := range steps {
		if st.stage == s.Stage {
			idx = i
			break
		}
	}
	if idx < 0 {
		return outcomeRejected, fmt.Sprintf("This %s can no longer be changed.", s.Kind)
	}

	cur := steps[idx]
	value, err := cur.validate(s, input)
	if err != nil {
		return outcomeRejected, err.Error() + " " + cur.prompt
	}

	s.Fields = append(s.Fields, domain.CollectedField{Name: cur.field, Value: value})
	if idx+1 < len(steps) {
		s.Stage = steps[idx+1].stage
		return outcomeAdvanced, steps[idx+1].prompt
	}

	s.Stage = domain.StageAwaitingConfirmation
	s.AwaitingConfirmation = true
	return outcomeAdvanced, summary(s) + "\nReply proceed to continue or cancel to abort."
}

// currentPrompt re-renders the prompt for s's stage.
func currentPrompt(s *domain.ActionSession) string {
	if s.Stage == domain.StageAwaitingConfirmation {
		return summary(s) + "\nReply proceed to continue or cancel to abort."
	}
	for _, st := range flows[s.Kind] {
		if st.stage == s.Stage {
			return st.prompt
		}
	}
	return ""
}

func summary(s *domain.ActionSession) string {
	get := func(name string) string {
		v, _ := s.Field(name)
		return v
	}
	switch s.Kind {
	case domain.ActionSwap:
		return fmt.Sprintf("Swap %s %s for %s.",
			get(domain.FieldAmount), get(domain.FieldSourceToken), get(domain.FieldDestinationToken))
	case domain.ActionLaunch:
		out := fmt.Sprintf("Launch %s (%s).", get(domain.FieldName), get(domain.FieldSymbol))
		if d := get(domain.FieldDescription); d != "" {
			out += " " + d
		}
		return out
	}
	return ""
}

func cancelledPrompt(kind domain.ActionKind) string {
	return fmt.Sprintf("Okay, the %s was cancelled.", kind)
}

// validationError is shown to the user ahead of the stage prompt.
type validationError string

func (e validationError) Error() string { return string(e) }

func validateToken(_ *domain.ActionSession, input string) (string, error) {
	if len(input) < minTokenLen {
		return "", validationError("That doesn't look like a token.")
	}
	if strings.ContainsFunc(input, unicode.IsSpace) {
		return "", validationError("Token names can't contain spaces.")
	}
	return input, nil
}

func validateDestination(s *domain.ActionSession, input string) (string, error) {
	v, err := validateToken(s, input)
	if err != nil {
		return "", err
	}
	if src, ok := s.Field(domain.FieldSourceToken); ok && strings.EqualFold(src, v) {
		return "", validationError(fmt.Sprintf("You are already swapping from %s; pick a different token.", src))
	}
	return v, nil
}

func validateAmount(_ *domain.ActionSession, input string) (string, error) {
	d, err := decimal.NewFromString(input)
	if err != nil || !d.IsPositive() {
		return "", validationError("The amount must be a positive number.")
	}
	return d.String(), nil
}

func validateName(_ *domain.ActionSession, input string) (string, error) {
	if n := utf8.RuneCountInString(input); n < minNameLen || n > maxNameLen {
		return "", validationError(fmt.Sprintf("The name must be %d to %d characters.", minNameLen, maxNameLen))
	}
	return input, nil
}

func validateSymbol(_ *domain.ActionSession, input string) (string, error) {
	if n := utf8.RuneCountInString(input); n < minSymbolLen || n > maxSymbolLen {
		return "", validationError(fmt.Sprintf("The symbol must be %d to %d characters.", minSymbolLen, maxSymbolLen))
	}
	for _, r := range input {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return "", validationError("The symbol may only contain letters and digits.")
		}
	}
	return strings.ToUpper(input), nil
}

func validateDescription(_ *domain.ActionSession, input string) (string, error) {
	if input == "" {
		return "", validationError("Please enter a description.")
	}
	if strings.EqualFold(input, skipWord) {
		return "", nil
	}
	if len(input) > maxDescLen {
		return "", validationError(fmt.Sprintf("The description must be at most %d characters.", maxDescLen))
	}
	return input, nil
}
