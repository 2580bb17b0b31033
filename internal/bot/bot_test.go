package bot

import (
	"testing"
	"time"
)

func TestSplitPointsTitle(t *testing.T) {
	cases := []struct {
		args   string
		points int
		title  string
		ok     bool
	}{
		{"3 Настроить CI", 3, "Настроить CI", true},
		{"5 fix   the build", 5, "fix the build", true},
		{"0 bad", 0, "", false},
		{"-2 bad", 0, "", false},
		{"notanumber title", 0, "", false},
		{"7", 0, "", false},
		{"", 0, "", false},
	}
	for _, tc := range cases {
		points, title, ok := splitPointsTitle(tc.args)
		if ok != tc.ok || points != tc.points || title != tc.title {
			t.Errorf("splitPointsTitle(%q) = (%d, %q, %t), want (%d, %q, %t)",
				tc.args, points, title, ok, tc.points, tc.title, tc.ok)
		}
	}
}

func TestSplitNameGoal(t *testing.T) {
	name, goal := splitNameGoal(" Спринт 42 | Выкатить платежи ")
	if name != "Спринт 42" || goal != "Выкатить платежи" {
		t.Fatalf("got (%q, %q)", name, goal)
	}
	name, goal = splitNameGoal("Без цели")
	if name != "Без цели" || goal != "" {
		t.Fatalf("got (%q, %q)", name, goal)
	}
}

func TestParseIDList(t *testing.T) {
	ids, ok := parseIDList("3 #4 7")
	if !ok || len(ids) != 3 || ids[0] != 3 || ids[1] != 4 || ids[2] != 7 {
		t.Fatalf("ids = %v ok = %t", ids, ok)
	}
	if _, ok := parseIDList("3 oops"); ok {
		t.Fatal("garbage id must fail the whole parse")
	}
	if _, ok := parseIDList(""); ok {
		t.Fatal("empty list must fail")
	}
}

func TestParseSprintDates(t *testing.T) {
	start, end, ok := parseSprintDates("2026-09-01 2026-09-14")
	if !ok || start == nil || end == nil {
		t.Fatalf("two dates: (%v, %v, %t)", start, end, ok)
	}
	wantStart := time.Date(2026, 9, 1, 0, 0, 0, 0, time.Local)
	if !start.Equal(wantStart) {
		t.Fatalf("start = %v", start)
	}

	start, end, ok = parseSprintDates("2026-09-14")
	if !ok || start != nil || end == nil {
		t.Fatalf("single date: (%v, %v, %t)", start, end, ok)
	}

	start, end, ok = parseSprintDates("-")
	if !ok || start != nil || end != nil {
		t.Fatalf("dash: (%v, %v, %t)", start, end, ok)
	}

	if _, _, ok := parseSprintDates("завтра"); ok {
		t.Fatal("free-form date must fail")
	}

	if _, _, ok := parseSprintDates("2026-09-01 2026-09-07 2026-09-14"); ok {
		t.Fatal("three dates must fail")
	}
}

func TestParseAdmitData(t *testing.T) {
	sprintID, taskID, ok := parseAdmitData("5:12")
	if !ok || sprintID != 5 || taskID != 12 {
		t.Fatalf("got (%d, %d, %t)", sprintID, taskID, ok)
	}
	if _, _, ok := parseAdmitData("5"); ok {
		t.Fatal("missing task id must fail")
	}
	if _, _, ok := parseAdmitData("x:y"); ok {
		t.Fatal("garbage must fail")
	}
}

func TestShortTitle(t *testing.T) {
	if got := shortTitle("short", 10); got != "short" {
		t.Fatalf("got %q", got)
	}
	if got := shortTitle("a very long task title", 10); got != "a very lo…" {
		t.Fatalf("got %q", got)
	}
	if got := shortTitle("multi\nline  name", 100); got != "multi line  name" {
		t.Fatalf("got %q", got)
	}
}
