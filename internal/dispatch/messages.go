package dispatch

import (
	"fmt"
	"strings"
	"time"
)

// Replies owned by the dispatcher rather than the questionnaire.
const (
	MsgWelcome   = "Olá, bem vindo ao Resolve Já. Para começar uma nova demanda escreva *começar*."
	MsgCancelled = "✅ Sua demanda foi cancelada. Se quiser, pode digitar *começar* para iniciar uma nova demanda."
	MsgConflict  = "Você já possui uma demanda em andamento. Digite *cancelar* para cancelar a demanda atual."
	MsgFallback  = "Digite *oi* para iniciar o atendimento do Resolve Já."
)

var greetings = map[string]struct{}{
	"oi":        {},
	"ola":       {},
	"olá":       {},
	"bom dia":   {},
	"boa tarde": {},
	"boa noite": {},
}

func isGreeting(lower string) bool {
	_, ok := greetings[lower]
	return ok
}

func isStart(lower string) bool {
	return lower == "começar" || lower == "comecar"
}

func isCancel(lower string) bool {
	return lower == "cancelar"
}

// IdleNotice is sent when a session is cancelled for inactivity.
func IdleNotice(idle time.Duration) string {
	return fmt.Sprintf("⏰ Sua demanda foi cancelada automaticamente após %s sem interação. "+
		"Digite *começar* para iniciar uma nova demanda.", FormatDuration(idle))
}

// FormatDuration renders d in Portuguese, e.g. "1 hora e 30 minutos".
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return "alguns instantes"
	}
	d = d.Round(time.Second)
	hours := int(d / time.Hour)
	minutes := int(d % time.Hour / time.Minute)
	seconds := int(d % time.Minute / time.Second)

	var parts []string
	if hours > 0 {
		parts = append(parts, plural(hours, "hora", "horas"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minuto", "minutos"))
	}
	if seconds > 0 {
		parts = append(parts, plural(seconds, "segundo", "segundos"))
	}

	switch len(parts) {
	case 1:
		return parts[0]
	case 2:
		return parts[0] + " e " + parts[1]
	}
	return strings.Join(parts[:len(parts)-1], ", ") + " e " + parts[len(parts)-1]
}

func plural(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return fmt.Sprintf("%d %s", n, many)
}
