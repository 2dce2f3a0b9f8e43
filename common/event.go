package common

import "time"

// EventTopic — имя топика в C10 Event Bus.
type EventTopic string

const (
	TopicDecodedFrame EventTopic = "decoded_frame"
	TopicAnomaly      EventTopic = "anomaly"
	TopicMissingDGN   EventTopic = "missing_dgn"
	TopicDiscovery    EventTopic = "discovery"
	TopicSniffer      EventTopic = "sniffer"
)

// SnifferDirection — направление кадра в SnifferEvent.
type SnifferDirection string

const (
	SnifferDirectionTX SnifferDirection = "tx"
	SnifferDirectionRX SnifferDirection = "rx"
)

// SnifferEvent — структурная запись об отправленном или принятом кадре
// для диагностических наблюдателей (публикуется в TopicSniffer).
type SnifferEvent struct {
	Direction  SnifferDirection
	Interface  string
	DGN        DGN
	SourceAddr uint8
	Origin     string // "self", когда источник — локальный контроллер
	Timestamp  time.Time
}

// Event — конверт, в котором C10 разносит данные подписчикам. Payload
// хранит один из: DecodedMessage (decoded_frame), security.Anomaly
// (anomaly), Frame с неизвестным DGN (missing_dgn), SnifferEvent (sniffer)
// — подписчик типизирует его через ожидаемый для данного топика тип.
type Event struct {
	Topic     EventTopic
	Payload   any
	Timestamp time.Time
}
