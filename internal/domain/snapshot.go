package domain

// MemberSnapshot — неизменяемый срез участника гильдии на момент события.
// Ядро работает только с этими узкими представлениями и никогда не трогает
// «сырые» объекты платформенного клиента.
type MemberSnapshot struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	Roles       []string `json:"roles"` // ID ролей в порядке выдачи платформой
	Rank        int      `json:"rank"`  // Максимальная позиция роли (выше = больше прав)
}

// HasRole проверяет наличие роли. Горячий путь сканера — без аллокаций.
func (m MemberSnapshot) HasRole(roleID string) bool {
	for _, r := range m.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}

// GuildSnapshot — срез гильдии глазами самого агента.
type GuildSnapshot struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	SelfRank     int    `json:"self_rank"`     // Ранг агента в иерархии ролей
	BanAuthority bool   `json:"ban_authority"` // Есть ли у агента право банить
}

// ChannelRef — ссылка на канал. Используется только для поиска audit-канала.
type ChannelRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
