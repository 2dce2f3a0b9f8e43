// Package common содержит типы данных, общие для всех компонентов ядра:
// идентификаторы DGN/PGN, сырые и декодированные кадры, события и команды.
package common

// PGN — 18-битный Parameter Group Number, как на шине.
type PGN uint32

// DGN — 24-битный Data Group Number: priority<<18 | PGN. Совпадает с
// арбитражным полем кадра за вычетом адреса источника.
type DGN uint32

// ArbitrationID — полное 29-битное арбитражное поле расширенного CAN-кадра.
type ArbitrationID uint32

// Разряды 29-битного идентификатора J1939/RV-C.
const (
	priorityShift = 26
	priorityMask  = 0x7
	pduFormatBit  = 0xFF0000
	sourceMask    = 0xFF
)

// Priority возвращает 3-битный приоритет, закодированный в арбитражном поле.
func (id ArbitrationID) Priority() uint8 {
	return uint8((id >> priorityShift) & priorityMask)
}

// SourceAddress возвращает адрес источника (младший байт арбитражного поля).
func (id ArbitrationID) SourceAddress() uint8 {
	return uint8(id & sourceMask)
}

// DGN извлекает 24-битный DGN (приоритет + PGN) из арбитражного поля,
// отбрасывая адрес источника.
func (id ArbitrationID) DGN() DGN {
	return DGN(uint32(id) >> 8)
}

// PGN возвращает 18-битный PGN без приоритета.
func (d DGN) PGN() PGN {
	return PGN(uint32(d) & 0x3FFFF)
}

// Priority возвращает 3-битный приоритет, закодированный в DGN.
func (d DGN) Priority() uint8 {
	return uint8((uint32(d) >> 18) & priorityMask)
}

// IsPDU2 — истина, если PDU Format (второй байт PGN) >= 240: тогда
// младший байт PGN (PDU Specific) трактуется как Group Extension, а не как адрес
// назначения, и сообщение всегда является широковещательным (PDU2).
func (p PGN) IsPDU2() bool {
	return (uint32(p)>>8)&0xFF >= 240
}

// NewDGN собирает DGN из приоритета и PGN так, как это делает источник на шине.
func NewDGN(priority uint8, pgn PGN) DGN {
	return DGN((uint32(priority&priorityMask) << 18) | uint32(pgn))
}

// NewArbitrationID собирает 29-битное арбитражное поле из DGN и адреса источника.
func NewArbitrationID(d DGN, sourceAddr uint8) ArbitrationID {
	return ArbitrationID((uint32(d) << 8) | uint32(sourceAddr))
}
