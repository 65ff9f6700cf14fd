package formatter

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// RenderBox wraps content in a rounded-border box with an optional title.
func RenderBox(title string, content string) string {
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorDim).
		PaddingLeft(2).
		PaddingRight(2).
		PaddingTop(1).
		PaddingBottom(1)

	if title != "" {
		inner := StyleHeader.Render(strings.ToUpper(title)) + "\n\n" + content
		return boxStyle.Render(inner)
	}
	return boxStyle.Render(content)
}

// RelativeDateFrom returns a human-friendly relative date string from a reference time.
func RelativeDateFrom(t time.Time, now time.Time) string {
	days := int(math.Round(t.Sub(now).Hours() / 24))

	switch {
	case days == 0:
		return "Today"
	case days == 1:
		return "Tomorrow"
	case days == -1:
		return "Yesterday"
	case days > 0 && days < 14:
		return fmt.Sprintf("In %dd", days)
	case days > 0 && days < 60:
		return fmt.Sprintf("In %dw", days/7)
	case days > 0:
		return fmt.Sprintf("In %dmo", days/30)
	case days > -14:
		return fmt.Sprintf("%dd ago", -days)
	case days > -60:
		return fmt.Sprintf("%dw ago", -days/7)
	default:
		return fmt.Sprintf("%dmo ago", -days/30)
	}
}

// DueStyled colors a due date by how close it is to now.
func DueStyled(due *time.Time, now time.Time) string {
	if due == nil {
		return Dim("--")
	}
	text := RelativeDateFrom(*due, now)
	days := due.Sub(now).Hours() / 24
	switch {
	case days < 0 || days <= 2:
		return StyleRed.Render(text)
	case days <= 7:
		return StyleYellow.Render(text)
	}
	return StyleFg.Render(text)
}

// HumanDate formats t as an absolute date, or "--" when unset.
func HumanDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "--"
	}
	return t.UTC().Format("Jan 2, 2006")
}

// ArchivedPill marks archived programs.
func ArchivedPill(archived bool) string {
	if archived {
		return StyleDim.Render("✖ Archived")
	}
	return StyleGreen.Render("● Active")
}

// Percent renders done/total as a whole percentage.
func Percent(done, total int) string {
	if total == 0 {
		return Dim("--")
	}
	return fmt.Sprintf("%d%%", done*100/total)
}
