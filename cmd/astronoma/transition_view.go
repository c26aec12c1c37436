package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"astronoma/cmd/astronoma/ui"
	"astronoma/internal/gate"
	"astronoma/internal/universe"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

type phaseMsg gate.State

type transitionDoneMsg universe.Result

// transitionModel renders a regeneration in progress.
type transitionModel struct {
	styles  ui.Styles
	spinner spinner.Model
	kind    string
	tr      *universe.Transition
	updates <-chan gate.State
	state   gate.State
	start   time.Time
	result  *universe.Result
}

func newTransitionModel(s ui.Styles, kind string, tr *universe.Transition) transitionModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = s.Spinner
	return transitionModel{
		styles:  s,
		spinner: sp,
		kind:    kind,
		tr:      tr,
		updates: tr.Subscribe(),
		state:   tr.State(),
		start:   time.Now(),
	}
}

func (m transitionModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitPhase(m.updates), waitTransition(m.tr))
}

func waitPhase(updates <-chan gate.State) tea.Cmd {
	return func() tea.Msg {
		st, ok := <-updates
		if !ok {
			return nil
		}
		return phaseMsg(st)
	}
}

func waitTransition(tr *universe.Transition) tea.Cmd {
	return func() tea.Msg {
		<-tr.Done()
		return transitionDoneMsg(tr.Result())
	}
}

func (m transitionModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc", "q":
			m.tr.Cancel()
			res := universe.Result{Err: context.Canceled}
			m.result = &res
			return m, tea.Quit
		}
	case phaseMsg:
		m.state = gate.State(msg)
		return m, waitPhase(m.updates)
	case transitionDoneMsg:
		res := universe.Result(msg)
		m.result = &res
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m transitionModel) View() string {
	var b strings.Builder
	if m.result != nil {
		if m.result.Err != nil {
			b.WriteString(m.styles.Error.Render("✗ " + m.result.Err.Error()))
		} else {
			b.WriteString(m.styles.Success.Render(fmt.Sprintf("✓ arrived in %s", m.result.Elapsed.Round(100*time.Millisecond))))
		}
		b.WriteString("\n")
		return b.String()
	}
	b.WriteString(m.spinner.View())
	b.WriteString(" ")
	b.WriteString(m.styles.Title.Render("Generating " + m.kind + " universe"))
	b.WriteString("  ")
	b.WriteString(phaseLabel(m.styles, m.state))
	b.WriteString(m.styles.Muted.Render(fmt.Sprintf("  %.1fs", time.Since(m.start).Seconds())))
	b.WriteString("\n")
	b.WriteString(m.styles.Muted.Render("esc to cancel"))
	b.WriteString("\n")
	return b.String()
}

// outcome is the transition result, or the transition's own result if the
// program stopped before it arrived.
func (m transitionModel) outcome() universe.Result {
	if m.result != nil {
		return *m.result
	}
	m.tr.Cancel()
	return m.tr.Result()
}
