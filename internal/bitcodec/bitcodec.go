// Package bitcodec извлекает и упаковывает произвольные битовые поля из
// кадра данных шины. Обобщает ручную арифметику вида
// uint16(data[3]) | uint16(data[4])<<8, которую teacher-агент писал
// отдельно для каждого PGN в своих FrameProcessor'ах.
package bitcodec

import "fmt"

// Field описывает расположение одного сигнала внутри payload кадра.
// StartBit отсчитывается от начала payload, младший бит первого байта
// имеет индекс 0 (little-endian порядок бит и байт, как в J1939/RV-C).
type Field struct {
	StartBit int
	Length   int // число бит; 0 означает "до конца payload" (variable-length)
	Signed   bool
}

// NotAvailable — значение, читающееся как все единичные биты поля;
// RV-C резервирует этот паттерн для "сигнал не передаётся".
func (f Field) NotAvailable(raw uint64) bool {
	if f.Length <= 0 || f.Length >= 64 {
		return false
	}
	return raw == (uint64(1)<<uint(f.Length))-1
}

// Extract читает поле f из data и возвращает его как uint64 (для Signed
// полей — с распространением знака, приведённым к uint64 тем же битовым
// шаблоном, какой использовал бы caller для интерпретации знака).
//
// Биты, лежащие за концом data, читаются как 0 — чтение за пределы
// буфера не ошибка, а отсутствующие старшие байты, трактуемые как
// нулевые (так коуч-шина отдаёт укороченные кадры переменной длины).
func Extract(data []byte, f Field) (uint64, error) {
	length := f.Length
	if length <= 0 {
		length = len(data)*8 - f.StartBit
	}
	if length <= 0 || length > 64 {
		return 0, fmt.Errorf("bitcodec: некорректная длина поля %d", length)
	}
	if f.StartBit < 0 {
		return 0, fmt.Errorf("bitcodec: отрицательный start_bit %d", f.StartBit)
	}

	var raw uint64
	for i := 0; i < length; i++ {
		bitPos := f.StartBit + i
		byteIdx := bitPos / 8
		if byteIdx >= len(data) {
			continue // за пределами payload — недостающий старший бит считается нулём
		}
		bitIdx := uint(bitPos % 8)
		bit := (data[byteIdx] >> bitIdx) & 1
		raw |= uint64(bit) << uint(i)
	}
	return raw, nil
}

// SignExtend распространяет знак на raw, если поле занимает length бит
// и старший из них установлен.
func SignExtend(raw uint64, length int) int64 {
	if length <= 0 || length >= 64 {
		return int64(raw)
	}
	signBit := uint64(1) << uint(length-1)
	if raw&signBit != 0 {
		return int64(raw) - int64(uint64(1)<<uint(length))
	}
	return int64(raw)
}

// Pack — обратная операция: записывает raw в позицию f внутри data,
// используемая C4 Encoder при сборке payload команды.
func Pack(data []byte, f Field, raw uint64) error {
	length := f.Length
	if length <= 0 {
		length = len(data)*8 - f.StartBit
	}
	if f.StartBit < 0 || (f.StartBit+length) > len(data)*8 {
		return fmt.Errorf("bitcodec: поле [%d:%d) выходит за пределы payload длиной %d байт", f.StartBit, f.StartBit+length, len(data))
	}
	for i := 0; i < length; i++ {
		bitPos := f.StartBit + i
		byteIdx := bitPos / 8
		bitIdx := uint(bitPos % 8)
		bit := byte((raw >> uint(i)) & 1)
		if bit == 1 {
			data[byteIdx] |= 1 << bitIdx
		} else {
			data[byteIdx] &^= 1 << bitIdx
		}
	}
	return nil
}
