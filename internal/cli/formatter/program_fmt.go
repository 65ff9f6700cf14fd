package formatter

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alexanderramin/programs/internal/app"
	"github.com/alexanderramin/programs/internal/domain"
)

// FormatProgramList renders programs as a table.
func FormatProgramList(programs []*domain.Program) string {
	if len(programs) == 0 {
		return Dim("No programs found.") + "\n"
	}
	rows := make([][]string, 0, len(programs))
	for _, p := range programs {
		rows = append(rows, []string{
			strconv.FormatInt(p.ID, 10),
			CoalesceDash(p.IDNumber),
			p.FullName,
			ArchivedPill(p.Archived),
			HumanDate(p.TimeAllocationStart),
			HumanDate(p.TimeAllocationEnd),
		})
	}
	return Table{
		Headers: []string{"ID", "IDNUMBER", "NAME", "STATUS", "OPENS", "CLOSES"},
		Rows:    rows,
		Right:   map[int]bool{0: true},
	}.Render()
}

// FormatProgram renders the detail box of one program.
func FormatProgram(p *domain.Program) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s\n", Bold(p.FullName), ArchivedPill(p.Archived))
	fmt.Fprintf(&b, "%s %d   %s %s\n", Dim("id"), p.ID, Dim("idnumber"), CoalesceDash(p.IDNumber))
	if p.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", p.Description)
	}
	fmt.Fprintf(&b, "\n%s %s → %s\n", Dim("allocation window"), HumanDate(p.TimeAllocationStart), HumanDate(p.TimeAllocationEnd))
	fmt.Fprintf(&b, "%s %s\n", Dim("start"), FormatSchedule(p.StartDate))
	fmt.Fprintf(&b, "%s %s\n", Dim("due  "), FormatSchedule(p.DueDate))
	fmt.Fprintf(&b, "%s %s", Dim("end  "), FormatSchedule(p.EndDate))
	return RenderBox("program", b.String())
}

// FormatSchedule describes a date rule.
func FormatSchedule(s domain.ScheduleSpec) string {
	switch s.Type {
	case domain.ScheduleDate:
		if s.Date > 0 {
			t := time.Unix(s.Date, 0)
			return "on " + HumanDate(&t)
		}
	case domain.ScheduleDelay:
		return "after " + s.Delay
	case domain.ScheduleAllocation:
		return "at allocation"
	}
	return Dim("not set")
}

// FormatItemTree renders program content. completed marks item ids that
// the viewed allocation has finished; it may be nil.
func FormatItemTree(root *domain.ItemNode, completed map[int64]bool) string {
	if root == nil {
		return ""
	}
	var items []TreeItem
	var add func(n *domain.ItemNode, level int, last bool)
	add = func(n *domain.ItemNode, level int, last bool) {
		it := n.Item
		items = append(items, TreeItem{
			Title:     it.FullName,
			ID:        it.ID,
			Level:     level,
			IsLast:    last,
			Completed: completed[it.ID],
			Set:       it.IsSet(),
			Detail:    itemDetail(it),
		})
		for i, c := range n.Children {
			add(c, level+1, i == len(n.Children)-1)
		}
	}
	add(root, 0, true)
	return RenderTree(items)
}

func itemDetail(it *domain.Item) string {
	var parts []string
	switch it.Kind {
	case domain.ItemSet:
		parts = append(parts, setRule(it))
	case domain.ItemCourse:
		if it.CourseID != nil {
			parts = append(parts, fmt.Sprintf("course %d", *it.CourseID))
		}
	case domain.ItemTraining:
		if it.TrainingID != nil {
			parts = append(parts, fmt.Sprintf("training %d", *it.TrainingID))
		}
	}
	if it.Points != 1 {
		parts = append(parts, fmt.Sprintf("%dpt", it.Points))
	}
	if it.CompletionDelay > 0 {
		parts = append(parts, "delay "+(time.Duration(it.CompletionDelay)*time.Second).String())
	}
	return strings.Join(parts, ", ")
}

func setRule(it *domain.Item) string {
	switch it.SequenceType {
	case domain.SequenceAllInOrder:
		return "all in order"
	case domain.SequenceAtLeast:
		if it.MinPrerequisites != nil {
			return fmt.Sprintf("at least %d", *it.MinPrerequisites)
		}
	case domain.SequenceMinPoints:
		if it.MinPoints != nil {
			return fmt.Sprintf("min %d points", *it.MinPoints)
		}
	}
	return "all in any order"
}

// FormatAllocationList renders the allocations of a program as seen at now.
func FormatAllocationList(allocs []*domain.Allocation, now time.Time) string {
	if len(allocs) == 0 {
		return Dim("No allocations.") + "\n"
	}
	rows := make([][]string, 0, len(allocs))
	for _, a := range allocs {
		rows = append(rows, []string{
			strconv.FormatInt(a.ID, 10),
			strconv.FormatInt(a.UserID, 10),
			StateIndicator(StateOf(a, now)),
			HumanDate(&a.TimeStart),
			DueStyled(a.TimeDue, now),
			HumanDate(a.TimeEnd),
			HumanDate(a.TimeCompleted),
		})
	}
	return Table{
		Headers: []string{"ID", "USER", "STATE", "START", "DUE", "END", "COMPLETED"},
		Rows:    rows,
		Right:   map[int]bool{0: true, 1: true},
	}.Render()
}

// FormatStatus renders a status summary.
func FormatStatus(resp *app.StatusResponse) string {
	var b strings.Builder
	b.WriteString(Header("programs status") + "\n")
	b.WriteString(Dim("as of "+resp.GeneratedAt.UTC().Format(time.RFC3339)) + "\n\n")
	if len(resp.Programs) == 0 {
		b.WriteString(Dim("No programs found.") + "\n")
		return b.String()
	}
	rows := make([][]string, 0, len(resp.Programs))
	for _, v := range resp.Programs {
		name := v.FullName
		if v.ProgramArchived {
			name = Dim(name + " (archived)")
		}
		overdue := strconv.Itoa(v.Overdue)
		if v.Overdue > 0 {
			overdue = StyleRed.Render(overdue)
		}
		rows = append(rows, []string{
			CoalesceDash(v.IDNumber),
			name,
			strconv.Itoa(v.Allocations),
			strconv.Itoa(v.Live),
			strconv.Itoa(v.Completed),
			overdue,
			strconv.Itoa(v.Archived),
			Percent(v.Completed, v.Allocations-v.Archived),
		})
	}
	b.WriteString(Table{
		Headers: []string{"IDNUMBER", "NAME", "USERS", "LIVE", "DONE", "OVERDUE", "ARCHIVED", "DONE%"},
		Rows:    rows,
		Right:   map[int]bool{2: true, 3: true, 4: true, 5: true, 6: true, 7: true},
	}.Render())
	return b.String()
}

// FormatImportResult summarises an import.
func FormatImportResult(res *app.ImportResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d programs, %d items, %d sources\n",
		StyleGreen.Render("✔ Imported"), len(res.Programs), res.Items, res.Sources)
	for _, p := range res.Programs {
		fmt.Fprintf(&b, "  %s %s\n", Dim(fmt.Sprintf("#%d", p.ID)), p.FullName)
	}
	if len(res.Errors) > 0 {
		fmt.Fprintf(&b, "%s %s", StyleRed.Render("✖"), res.Errors.Error())
	}
	return b.String()
}

// CoalesceDash returns s, or a dimmed "--" when s is empty.
func CoalesceDash(s string) string {
	if s == "" {
		return Dim("--")
	}
	return s
}
