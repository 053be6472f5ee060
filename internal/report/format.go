package report

import (
	"fmt"
	"strings"

	"kitchme_bot/internal/domain"
)

// UnavailableMessage is the user-facing reply when stats cannot be computed.
const UnavailableMessage = "⏳ Статистика временно недоступна, попробуйте позже."

// Format renders stats as the bot's report message. label names the window
// in human terms ("сегодня", "последние 7 дней").
func Format(stats Stats, label string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "📊 Статистика за %s\n\n", label)
	fmt.Fprintf(&b, "👤 Новых пользователей: %d\n", stats.NewUsers)
	fmt.Fprintf(&b, "▶️ Стартов: %d\n", stats.EventCounts[domain.EventStart])
	fmt.Fprintf(&b, "🎁 Бонусов: %d\n", stats.EventCounts[domain.EventBonus])
	fmt.Fprintf(&b, "📞 Консультаций: %d", stats.EventCounts[domain.EventConsult])

	if len(stats.Sources) > 0 {
		b.WriteString("\n\nИсточники новых пользователей:")
		for i, src := range stats.Sources {
			name := src.Source
			if src.Variant != "" {
				name += "/" + src.Variant
			}
			fmt.Fprintf(&b, "\n%d. %s — %d", i+1, name, src.Count)
		}
	}

	return b.String()
}
