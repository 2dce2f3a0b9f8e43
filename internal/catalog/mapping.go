package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/coachlink/rvcd/common"
)

// DeviceRecord — статическая запись об устройстве в маппинге коуча:
// человеко-читаемое имя, тип сущности и DGN/instance, на которых она
// ожидается на шине. Отдельный тип от discovery.DeviceRecord (рантайм
// наблюдение) — их владельцы и время жизни различаются.
type DeviceRecord struct {
	EntityID   string     `yaml:"entity_id"`
	EntityType string     `yaml:"entity_type"` // light, dimmer, switch, fan, tank, generic...
	DGN        common.DGN `yaml:"dgn"`
	Instance   *int       `yaml:"instance,omitempty"`
	Name       string     `yaml:"name"`
	Area       string     `yaml:"area,omitempty"`
}

// CoachInfo — свободные метаданные о коуче (производитель/модель/год),
// читаемые только из блока coach_info YAML-файла маппинга; имя файла
// маппинга не разбирается, и без этого блока поля остаются пустыми.
type CoachInfo struct {
	Make  string `yaml:"make,omitempty"`
	Model string `yaml:"model,omitempty"`
	Year  string `yaml:"year,omitempty"`
}

// CoachMapping — весь YAML-файл маппинга коуча.
type CoachMapping struct {
	CoachInfo CoachInfo      `yaml:"coach_info"`
	Devices   []DeviceRecord `yaml:"devices"`
}

func loadMapping(path string) (*CoachMapping, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение файла маппинга %s: %w", path, err)
	}
	var m CoachMapping
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("разбор YAML маппинга %s: %w", path, err)
	}
	if len(m.Devices) == 0 {
		return nil, fmt.Errorf("маппинг %s не описывает ни одного устройства", path)
	}
	return &m, nil
}

// validateMapping проверяет, что каждое устройство маппинга ссылается на
// DGN, присутствующий в каталоге, и что entity_id уникальны.
func validateMapping(m *CoachMapping, entries map[common.DGN]SpecEntry) error {
	seen := make(map[string]bool, len(m.Devices))
	for _, d := range m.Devices {
		if d.EntityID == "" {
			return fmt.Errorf("устройство %q не имеет entity_id", d.Name)
		}
		if seen[d.EntityID] {
			return fmt.Errorf("повторяющийся entity_id %q", d.EntityID)
		}
		seen[d.EntityID] = true
		if _, ok := entries[d.DGN]; !ok {
			return fmt.Errorf("устройство %q ссылается на неизвестный DGN 0x%X", d.EntityID, d.DGN)
		}
	}
	return nil
}

// DeviceByEntity ищет устройство маппинга по entity_id.
func (m *CoachMapping) DeviceByEntity(entityID string) (DeviceRecord, bool) {
	for _, d := range m.Devices {
		if d.EntityID == entityID {
			return d, true
		}
	}
	return DeviceRecord{}, false
}

// DevicesForDGN возвращает все устройства маппинга, ожидаемые на данном DGN.
func (m *CoachMapping) DevicesForDGN(dgn common.DGN) []DeviceRecord {
	var out []DeviceRecord
	for _, d := range m.Devices {
		if d.DGN == dgn {
			out = append(out, d)
		}
	}
	return out
}
