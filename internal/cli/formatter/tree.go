package formatter

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// TreeItem is one line of a program content tree.
type TreeItem struct {
	Title     string
	ID        int64 // 0 hides the id
	Level     int
	IsLast    bool
	Completed bool
	Set       bool
	Detail    string
}

const (
	treeBranch = "├─ "
	treeCorner = "└─ "
	treePipe   = "│  "
)

// RenderTree renders items as an indented tree with box-drawing connectors.
// Completed items get a green ✔, sets are bold, and detail badges are
// right-aligned.
func RenderTree(items []TreeItem) string {
	if len(items) == 0 {
		return ""
	}

	type lineInfo struct {
		content string
		badge   string
	}

	lines := make([]lineInfo, len(items))
	maxContentWidth := 0

	for idx, item := range items {
		var prefix string
		if item.Level > 0 {
			prefix = strings.Repeat(treePipe, item.Level-1)
			if item.IsLast {
				prefix += treeCorner
			} else {
				prefix += treeBranch
			}
		}

		title := item.Title
		if item.Set {
			title = StyleYellowBold.Render(title)
		}
		if item.ID > 0 {
			title = StyleDim.Render(fmt.Sprintf("#%d ", item.ID)) + title
		}
		mark := ""
		if item.Completed {
			mark = StyleGreen.Render("✔ ")
		}

		content := prefix + mark + title
		lines[idx].content = content
		if item.Detail != "" {
			lines[idx].badge = StyleBlue.Render(fmt.Sprintf("[ %s ]", item.Detail))
		}
		if w := lipgloss.Width(content); w > maxContentWidth {
			maxContentWidth = w
		}
	}

	var b strings.Builder
	for _, li := range lines {
		if li.badge == "" {
			b.WriteString(li.content + "\n")
			continue
		}
		pad := maxContentWidth - lipgloss.Width(li.content)
		if pad < 0 {
			pad = 0
		}
		b.WriteString(li.content + strings.Repeat(" ", pad) + "  " + li.badge + "\n")
	}
	return b.String()
}
