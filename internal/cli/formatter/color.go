package formatter

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/alexanderramin/programs/internal/domain"
)

// Gruvbox-inspired color palette.
var (
	ColorGreen  = lipgloss.Color("#8ec07c")
	ColorYellow = lipgloss.Color("#fabd2f")
	ColorRed    = lipgloss.Color("#fb4934")
	ColorBlue   = lipgloss.Color("#83a598")
	ColorPurple = lipgloss.Color("#d3869b")
	ColorDim    = lipgloss.Color("#928374")
	ColorFg     = lipgloss.Color("#ebdbb2")
	ColorHeader = lipgloss.Color("#fe8019")
)

var (
	StyleGreen      = lipgloss.NewStyle().Foreground(ColorGreen)
	StyleYellow     = lipgloss.NewStyle().Foreground(ColorYellow)
	StyleYellowBold = lipgloss.NewStyle().Foreground(ColorYellow).Bold(true)
	StyleRed        = lipgloss.NewStyle().Foreground(ColorRed)
	StyleBlue       = lipgloss.NewStyle().Foreground(ColorBlue)
	StylePurple     = lipgloss.NewStyle().Foreground(ColorPurple)
	StyleDim        = lipgloss.NewStyle().Foreground(ColorDim)
	StyleFg         = lipgloss.NewStyle().Foreground(ColorFg)
	StyleHeader     = lipgloss.NewStyle().Foreground(ColorHeader).Bold(true)
	StyleBold       = lipgloss.NewStyle().Foreground(ColorFg).Bold(true)
)

// AllocationState names where an allocation stands at now.
type AllocationState string

const (
	StateArchived   AllocationState = "archived"
	StateCompleted  AllocationState = "completed"
	StateNotStarted AllocationState = "not started"
	StateEnded      AllocationState = "ended"
	StateOverdue    AllocationState = "overdue"
	StateOpen       AllocationState = "open"
)

func StateOf(a *domain.Allocation, now time.Time) AllocationState {
	switch {
	case a.Archived:
		return StateArchived
	case a.Completed():
		return StateCompleted
	case a.TimeStart.After(now):
		return StateNotStarted
	case a.TimeEnd != nil && !a.TimeEnd.After(now):
		return StateEnded
	case a.TimeDue != nil && !a.TimeDue.After(now):
		return StateOverdue
	}
	return StateOpen
}

// StateIndicator returns a colored indicator such as "● OPEN".
func StateIndicator(s AllocationState) string {
	label := strings.ToUpper(string(s))
	switch s {
	case StateCompleted:
		return StyleGreen.Render("✔ " + label)
	case StateOpen:
		return StyleBlue.Render("● " + label)
	case StateOverdue, StateEnded:
		return StyleRed.Render("● " + label)
	case StateNotStarted:
		return StyleYellow.Render("○ " + label)
	default:
		return StyleDim.Render("✖ " + label)
	}
}

// Header renders a section header with the orange header style and an underline.
func Header(text string) string {
	upper := strings.ToUpper(text)
	line := strings.Repeat("─", len(upper))
	return fmt.Sprintf("%s\n%s", StyleHeader.Render(upper), StyleDim.Render(line))
}

func Dim(text string) string {
	return StyleDim.Render(text)
}

func Bold(text string) string {
	return StyleBold.Render(text)
}
