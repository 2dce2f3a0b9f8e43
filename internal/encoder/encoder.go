// Package encoder превращает типизированную команду над сущностью
// (common.EntityCommand) в готовый к отправке кадр: разрешает DGN
// команды по entity_id через каталог и маппинг коуча, затем кодирует
// payload по типу устройства.
package encoder

import (
	"fmt"
	"log"
	"os"

	"github.com/coachlink/rvcd/common"
	"github.com/coachlink/rvcd/internal/bitcodec"
	"github.com/coachlink/rvcd/internal/catalog"
)

// BrightnessScale — множитель перевода процентов яркости (0..100) в
// сырую единицу шины (0..200, шаг 0.5%). Вынесен в именованную
// переменную, а не зашит инлайн, чтобы эвристику можно было
// переопределить для коучей с нестандартной шкалой.
var BrightnessScale = 2.0

// BroadcastAddr — адрес назначения для команд без явного получателя.
const BroadcastAddr uint8 = 0xFF

// Байтовые значения command-byte для light/dimmer/switch, чьё точное
// происхождение спецификацией не объясняется (folklore RV-C),
// вынесенные в именованные константы, а не зашитые инлайн.
const (
	byteToggle         = 0xFE
	byteBrightnessUp   = 0xFC
	byteBrightnessDown = 0xFD
)

// Encoder кодирует команды согласно текущему снимку каталога.
type Encoder struct {
	store  *catalog.Store
	logger *log.Logger
}

func New(store *catalog.Store, logger *log.Logger) *Encoder {
	if logger == nil {
		logger = log.New(os.Stdout, "[encoder] ", log.LstdFlags)
	}
	return &Encoder{store: store, logger: logger}
}

// Encode разрешает сущность и кодирует её в EncodedCommand.
func (e *Encoder) Encode(cmd common.EntityCommand) (common.EncodedCommand, error) {
	cat := e.store.Get()

	dev, ok := cat.Mapping.DeviceByEntity(cmd.EntityID)
	if !ok {
		return common.EncodedCommand{}, common.NewError(common.ErrUnknownEntity,
			fmt.Sprintf("сущность %q отсутствует в маппинге коуча", cmd.EntityID), nil)
	}

	commandDGN, err := e.resolveCommandDGN(cat, dev.DGN)
	if err != nil {
		return common.EncodedCommand{}, err
	}

	entry, ok := cat.Entries[commandDGN]
	if !ok {
		return common.EncodedCommand{}, common.NewError(common.ErrNoCommandDGN,
			fmt.Sprintf("DGN команды 0x%X для %q отсутствует в каталоге", uint32(commandDGN), cmd.EntityID), nil)
	}

	length := 8
	if entry.Length != nil {
		length = *entry.Length
	}
	data := make([]byte, length)

	if dev.Instance != nil {
		if err := setNamedField(data, entry, "instance", uint64(*dev.Instance)); err != nil {
			e.logger.Printf("не удалось записать instance для %q: %v", cmd.EntityID, err)
		}
	}

	if err := e.encodeByDeviceType(data, entry, dev.EntityType, cmd); err != nil {
		return common.EncodedCommand{}, common.NewError(common.ErrDecodeError, "кодирование payload команды", err)
	}

	return common.EncodedCommand{
		DGN:        commandDGN,
		Data:       data,
		DestAddr:   BroadcastAddr,
		EntityID:   cmd.EntityID,
		SourceVerb: cmd.Verb,
	}, nil
}

// resolveCommandDGN ищет пару статус->команда в явной таблице каталога и,
// если её нет, падает обратно на эвристику "command_dgn = status_dgn +
// 0x100" — тот же приём, которым encoder.py закрывает дыры в dgn_pairs.
// Каждое срабатывание эвристики логируется на уровне предупреждения:
// само её применение диагностически интересно.
func (e *Encoder) resolveCommandDGN(cat *catalog.Catalog, statusDGN common.DGN) (common.DGN, error) {
	if cmdDGN, ok := cat.DGNPairs[statusDGN]; ok {
		return cmdDGN, nil
	}
	heuristic := common.DGN(uint32(statusDGN) + 0x100)
	if _, ok := cat.Entries[heuristic]; ok {
		e.logger.Printf("предупреждение: для статус-DGN 0x%X нет явной пары в каталоге, использована эвристика +0x100 -> 0x%X", uint32(statusDGN), uint32(heuristic))
		return heuristic, nil
	}
	return 0, common.NewError(common.ErrNoCommandDGN,
		fmt.Sprintf("нет DGN команды для статус-DGN 0x%X", uint32(statusDGN)), nil)
}

func setNamedField(data []byte, entry catalog.SpecEntry, name string, raw uint64) error {
	for _, sig := range entry.Signals {
		if sig.Name == name {
			return bitcodec.Pack(data, bitcodec.Field{StartBit: sig.StartBit, Length: sig.Length}, raw)
		}
	}
	return fmt.Errorf("сигнал %q не найден в DGN %s", name, entry.Name)
}

// encodeByDeviceType применяет кодирование, специфичное для типа
// устройства: light/dimmer используют шкалу яркости, switch — дискретное
// состояние, fan — скорость 0..100 (fan_speed) либо состояние,
// остальное кодируется как generic
// (запись "state"/"brightness", если такие сигналы вообще есть в записи).
func (e *Encoder) encodeByDeviceType(data []byte, entry catalog.SpecEntry, entityType string, cmd common.EntityCommand) error {
	switch entityType {
	case "light", "dimmer":
		switch cmd.Verb {
		case common.CommandToggle:
			return trySetNamedField(data, entry, "brightness", byteToggle)
		case common.CommandBrightnessUp:
			return trySetNamedField(data, entry, "brightness", byteBrightnessUp)
		case common.CommandBrightnessDown:
			return trySetNamedField(data, entry, "brightness", byteBrightnessDown)
		}
		if cmd.Brightness != nil {
			raw := uint64(*cmd.Brightness * BrightnessScale)
			if raw > 200 {
				raw = 200
			}
			return trySetNamedField(data, entry, "brightness", raw)
		}
		if cmd.State != nil {
			raw := uint64(0)
			if *cmd.State {
				raw = uint64(100 * BrightnessScale)
			}
			return trySetNamedField(data, entry, "brightness", raw)
		}
	case "switch":
		if cmd.Verb == common.CommandToggle {
			return trySetNamedField(data, entry, "state", byteToggle)
		}
		if cmd.State != nil {
			raw := uint64(0)
			if *cmd.State {
				raw = 1
			}
			return trySetNamedField(data, entry, "state", raw)
		}
	case "fan":
		if cmd.FanSpeed != nil {
			speed := *cmd.FanSpeed
			if speed > 100 {
				speed = 100
			}
			return trySetNamedField(data, entry, "fan_speed", uint64(speed))
		}
		if cmd.State != nil {
			raw := uint64(0)
			if *cmd.State {
				raw = 1
			}
			return trySetNamedField(data, entry, "state", raw)
		}
	default:
		if cmd.State != nil {
			raw := uint64(0)
			if *cmd.State {
				raw = 1
			}
			return trySetNamedField(data, entry, "state", raw)
		}
		if cmd.Brightness != nil {
			return trySetNamedField(data, entry, "brightness", uint64(*cmd.Brightness*BrightnessScale))
		}
	}
	return nil
}

// trySetNamedField — как setNamedField, но отсутствие сигнала в записи не
// является ошибкой: не каждый DGN команды несёт каждое возможное поле.
func trySetNamedField(data []byte, entry catalog.SpecEntry, name string, raw uint64) error {
	_ = setNamedField(data, entry, name, raw)
	return nil
}
