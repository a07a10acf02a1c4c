package components

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func testPicker() PickerModel {
	var m PickerModel
	m.SetSize(80, 24)
	m.Open("Conversations (3)", []PickerItem{
		{ID: "A", Title: "Exam dates"},
		{ID: "B", Title: "Library hours"},
		{ID: "C"},
	}, "B")
	return m
}

func pickKey(m PickerModel, s string) (PickerModel, tea.Msg) {
	var k tea.KeyMsg
	switch s {
	case "enter":
		k = tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		k = tea.KeyMsg{Type: tea.KeyEsc}
	default:
		k = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
	m, cmd := m.Update(k)
	if cmd == nil {
		return m, nil
	}
	return m, cmd()
}

func TestPickerOpensOnCurrent(t *testing.T) {
	m := testPicker()
	if it, _ := m.Selected(); it.ID != "B" {
		t.Errorf("Selected = %q, want B", it.ID)
	}
}

func TestPickerNavigateAndPick(t *testing.T) {
	m := testPicker()
	m, _ = pickKey(m, "j")
	m, _ = pickKey(m, "j")
	if it, _ := m.Selected(); it.ID != "C" {
		t.Fatalf("Selected = %q, want C (clamped)", it.ID)
	}
	m, _ = pickKey(m, "g")

	m, out := pickKey(m, "enter")
	if pick, ok := out.(PickMsg); !ok || pick.ID != "A" {
		t.Errorf("out = %#v", out)
	}
	if m.Visible {
		t.Error("picker still visible")
	}
}

func TestPickerDeleteNeedsConfirm(t *testing.T) {
	m := testPicker()

	m, out := pickKey(m, "d")
	if out != nil {
		t.Fatalf("first d produced %#v", out)
	}
	if !strings.Contains(m.View(), "Press d again") {
		t.Error("no confirmation prompt")
	}

	m, out = pickKey(m, "d")
	if del, ok := out.(PickDeleteMsg); !ok || del.ID != "B" {
		t.Errorf("out = %#v", out)
	}
	if !m.Visible {
		t.Error("picker closed on delete")
	}
}

func TestPickerOtherKeyCancelsConfirm(t *testing.T) {
	m := testPicker()
	m, _ = pickKey(m, "d")
	m, _ = pickKey(m, "k")
	if _, out := pickKey(m, "d"); out != nil {
		t.Errorf("delete after moving away: %#v", out)
	}
}

func TestPickerRemove(t *testing.T) {
	m := testPicker()
	m, _ = pickKey(m, "G")
	m.Remove("C")
	if len(m.Items) != 2 {
		t.Fatalf("Items = %+v", m.Items)
	}
	if it, _ := m.Selected(); it.ID != "B" {
		t.Errorf("Selected = %q after removing the last row", it.ID)
	}
}

func TestPickerView(t *testing.T) {
	m := testPicker()
	v := m.View()
	for _, want := range []string{"Conversations (3)", "Exam dates", "(untitled)"} {
		if !strings.Contains(v, want) {
			t.Errorf("view missing %q", want)
		}
	}
	m, _ = pickKey(m, "esc")
	if m.View() != "" {
		t.Error("closed picker rendered")
	}
}
