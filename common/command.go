package common

// CommandVerb — требуемое действие над сущностью (C4 Encoder).
type CommandVerb string

const (
	CommandSetState       CommandVerb = "set_state"
	CommandSetBrightness  CommandVerb = "set_brightness"
	CommandToggle         CommandVerb = "toggle"
	CommandBrightnessUp   CommandVerb = "brightness_up"
	CommandBrightnessDown CommandVerb = "brightness_down"
	CommandSetFanSpeed    CommandVerb = "set_fan_speed"
)

// EntityCommand — типизированный вход для C4: что сделать с какой сущностью.
type EntityCommand struct {
	EntityID   string      `json:"entity_id"`
	Verb       CommandVerb `json:"verb"`
	Brightness *float64    `json:"brightness,omitempty"` // 0..100
	State      *bool       `json:"state,omitempty"`
	FanSpeed   *int        `json:"fan_speed,omitempty"`
	Instance   *int        `json:"instance,omitempty"`
}

// EncodedCommand — результат кодирования: готовый к отправке кадр плюс
// метаданные, нужные планировщику (C7) для определения класса приоритета.
type EncodedCommand struct {
	DGN        DGN
	Data       []byte
	DestAddr   uint8
	EntityID   string
	SourceVerb CommandVerb
}
