package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
)

// Option is one choice of a select prompt.
type Option struct {
	Label string
	Value string
}

// Prompter asks the user for input.
type Prompter interface {
	Input(title, value string, secret bool) (string, error)
	Select(title string, options []Option) (string, error)
}

// TerminalPrompter returns a Prompter backed by interactive huh forms.
func TerminalPrompter() Prompter {
	return huhPrompter{}
}

type huhPrompter struct{}

func (huhPrompter) Input(title, value string, secret bool) (string, error) {
	v := value
	input := huh.NewInput().
		Title(title).
		Value(&v)
	if secret {
		input = input.EchoMode(huh.EchoModePassword)
	}

	if err := huh.NewForm(huh.NewGroup(input)).Run(); err != nil {
		return "", fmt.Errorf("prompt failed: %w", err)
	}
	return strings.TrimSpace(v), nil
}

func (huhPrompter) Select(title string, options []Option) (string, error) {
	if len(options) == 0 {
		return "", fmt.Errorf("no options provided")
	}

	huhOptions := make([]huh.Option[string], len(options))
	for i, opt := range options {
		huhOptions[i] = huh.NewOption(opt.Label, opt.Value)
	}

	var selected string
	field := huh.NewSelect[string]().
		Title(title).
		Options(huhOptions...).
		Value(&selected)

	if err := huh.NewForm(huh.NewGroup(field)).Run(); err != nil {
		return "", fmt.Errorf("prompt failed: %w", err)
	}
	return selected, nil
}

// promptIfEmpty returns value, or asks for it when it is blank.
func promptIfEmpty(p Prompter, value, title string, secret bool) (string, error) {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value), nil
	}
	v, err := p.Input(title, "", secret)
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", fmt.Errorf("%s is required", strings.ToLower(title))
	}
	return v, nil
}
