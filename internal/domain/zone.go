package domain

// Zone - именованная область объектного хранилища, соответствующая стадии конвейера
type Zone string

const (
	ZoneQuarantine Zone = "quarantine"
	ZoneValidated  Zone = "validated"
	ZonePublished  Zone = "published"
	ZoneRejected   Zone = "rejected"
	ZoneArchived   Zone = "archived"
)

// Zones перечисляет все зоны в порядке прохождения конвейера
var Zones = []Zone{ZoneQuarantine, ZoneValidated, ZonePublished, ZoneRejected, ZoneArchived}

func (z Zone) Valid() bool {
	for _, known := range Zones {
		if z == known {
			return true
		}
	}
	return false
}
