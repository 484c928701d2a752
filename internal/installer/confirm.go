package installer

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/fatih/color"
	"golang.org/x/term"
)

// Prompter asks the operator questions.
type Prompter interface {
	Confirm(msg string) (bool, error)
	Input(msg string) (string, error)
	// Interactive reports whether anyone can answer.
	Interactive() bool
}

// SurveyPrompter asks on the controlling terminal.
type SurveyPrompter struct{}

func (SurveyPrompter) Confirm(msg string) (bool, error) {
	ok := false
	err := survey.AskOne(&survey.Confirm{Message: msg, Default: false}, &ok)
	return ok, err
}

func (SurveyPrompter) Input(msg string) (string, error) {
	var s string
	err := survey.AskOne(&survey.Input{Message: msg}, &s)
	return s, err
}

func (SurveyPrompter) Interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func (i *Installer) confirm(context.Context) error {
	disk := i.Config.Disk
	if i.Config.NonInteractive {
		i.Log.Warn().Str("disk", disk).Msg("confirmation skipped, destroying disk contents")
		return nil
	}
	if !i.Prompt.Interactive() {
		return confirmation(ErrNotConfirmed)
	}

	desc := disk
	if i.disk.Path != "" {
		desc = fmt.Sprintf("%s (%s, %.1f GiB)", disk, strings.TrimSpace(i.disk.Model), float64(i.disk.SizeBytes)/(1<<30))
	}
	color.New(color.FgRed, color.Bold).Fprintf(i.Out, "\nWARNING: this will DESTROY ALL DATA on %s\n\n", desc)

	ok, err := i.Prompt.Confirm("Do you want to continue?")
	if err != nil {
		return confirmation(err)
	}
	if !ok {
		return confirmation(ErrDeclined)
	}
	typed, err := i.Prompt.Input(fmt.Sprintf("Type %s to confirm:", disk))
	if err != nil {
		return confirmation(err)
	}
	if strings.TrimSpace(typed) != disk {
		return confirmation(fmt.Errorf("%w: %q", ErrMistyped, typed))
	}
	i.Log.Info().Str("disk", disk).Msg("destruction confirmed")
	return nil
}
