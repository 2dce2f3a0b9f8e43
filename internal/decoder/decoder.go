// Package decoder превращает сырые кадры шины (common.Frame) в
// декодированные сообщения (common.DecodedMessage), используя каталог
// C1 и битовый кодек C2. Также ведёт учёт DGN, отсутствующих в
// каталоге, — аналог missing_dgns.py исходной реализации.
package decoder

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/coachlink/rvcd/common"
	"github.com/coachlink/rvcd/internal/bitcodec"
	"github.com/coachlink/rvcd/internal/catalog"
)

// Decoder разбирает кадры в соответствии с текущим снимком каталога.
type Decoder struct {
	store  *catalog.Store
	logger *log.Logger

	missing *missingTracker
}

// New создаёт Decoder поверх уже инициализированного catalog.Store.
func New(store *catalog.Store, logger *log.Logger) *Decoder {
	if logger == nil {
		logger = log.New(os.Stdout, "[decoder] ", log.LstdFlags)
	}
	return &Decoder{store: store, logger: logger, missing: newMissingTracker()}
}

// Decode разбирает один кадр. Если DGN отсутствует в каталоге,
// возвращается common.ErrUnknownDGN и кадр регистрируется трекером
// отсутствующих DGN (каждый уникальный DGN логируется только при первой
// встрече за время жизни процесса, чтобы не заливать лог при шумной
// шине; счётчик встреч растёт на каждом таком кадре).
func (d *Decoder) Decode(f common.Frame) (common.DecodedMessage, error) {
	cat := d.store.Get()
	dgn := f.DGN()

	entry, ok := cat.Entries[dgn]
	if !ok {
		if d.missing.recordFirstSeen(dgn) {
			d.logger.Printf("обнаружен неизвестный DGN 0x%X (PGN 0x%X) от SA 0x%02X, длина payload %d", uint32(dgn), uint32(dgn.PGN()), f.SourceAddr, len(f.Data))
		}
		return common.DecodedMessage{}, common.NewError(common.ErrUnknownDGN, fmt.Sprintf("DGN 0x%X не найден в каталоге", uint32(dgn)), nil)
	}

	if entry.Length != nil && len(f.Data) < *entry.Length {
		return common.DecodedMessage{}, common.NewError(common.ErrDecodeError,
			fmt.Sprintf("DGN %s: ожидалось минимум %d байт payload, получено %d", entry.Name, *entry.Length, len(f.Data)), nil)
	}

	msg := common.DecodedMessage{
		DGN:        dgn,
		DGNName:    entry.Name,
		SourceAddr: f.SourceAddr,
		Signals:    make(map[string]common.SignalValue, len(entry.Signals)),
		ReceivedAt: f.ReceivedAt,
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}

	for _, sig := range entry.Signals {
		field := bitcodec.Field{StartBit: sig.StartBit, Length: sig.Length}
		raw, err := bitcodec.Extract(f.Data, field)
		if err != nil {
			// Некорректное описание поля в каталоге (не нехватка байт
			// payload — Extract сам зануляет недостающие старшие биты) —
			// сигнал всё равно должен присутствовать в raw_signals.
			d.logger.Printf("DGN %s: поле %q не читается: %v", entry.Name, sig.Name, err)
			msg.Signals[sig.Name] = common.SignalValue{Name: sig.Name, Unit: sig.Unit}
			continue
		}

		sv := common.SignalValue{Name: sig.Name, Raw: raw, Unit: sig.Unit}
		if field.NotAvailable(raw) && sig.Type != catalog.ValueRawByte {
			sv.Value = nil
		} else {
			sv.Value = interpretSignal(sig, raw, field.Length)
		}
		msg.Signals[sig.Name] = sv

		if sig.IsInstance && sv.Value != nil {
			instance := int(raw)
			if iv, ok := sv.Value.(float64); ok {
				instance = int(iv)
			}
			msg.Instance = &instance
		}
	}

	return msg, nil
}

func interpretSignal(sig catalog.Signal, raw uint64, length int) any {
	switch sig.Type {
	case catalog.ValueEnum:
		if label, ok := sig.EnumMap[fmt.Sprintf("%d", raw)]; ok {
			return label
		}
		return fmt.Sprintf("unknown_%d", raw)
	case catalog.ValueBitmap, catalog.ValueRawByte:
		return raw
	case catalog.ValueInt:
		v := bitcodec.SignExtend(raw, length)
		scale := sig.Scale
		if scale == 0 {
			scale = 1
		}
		return float64(v)*scale + sig.Offset
	default: // ValueUint, ValueFloat
		scale := sig.Scale
		if scale == 0 {
			scale = 1
		}
		return float64(raw)*scale + sig.Offset
	}
}

// MissingDGN — одна запись о DGN, не найденном в каталоге.
type MissingDGN struct {
	DGN       common.DGN
	FirstSeen time.Time
	Count     uint64
}

// missingTracker — учёт DGN, отсутствующих в каталоге. Заменяет дисковый
// bbolt-дедуп teacher-агента (pkg/storage/dtc.go) на внутрипроцессную
// карту с мьютексом: нет долговременного хранения состояния ядра.
type missingTracker struct {
	mu      sync.Mutex
	entries map[common.DGN]*MissingDGN
}

func newMissingTracker() *missingTracker {
	return &missingTracker{entries: make(map[common.DGN]*MissingDGN)}
}

// recordFirstSeen регистрирует встречу DGN и возвращает true, только если
// это первая встреча за время жизни процесса (решает, нужно ли логировать).
func (t *missingTracker) recordFirstSeen(dgn common.DGN) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[dgn]
	if !ok {
		t.entries[dgn] = &MissingDGN{DGN: dgn, FirstSeen: time.Now().UTC(), Count: 1}
		return true
	}
	e.Count++
	return false
}

// Snapshot возвращает копию всех известных отсутствующих DGN, отсортировать
// на усмотрение вызывающей стороны (например, cmd/rvcd missing-dgns).
func (d *Decoder) Snapshot() []MissingDGN {
	d.missing.mu.Lock()
	defer d.missing.mu.Unlock()
	out := make([]MissingDGN, 0, len(d.missing.entries))
	for _, e := range d.missing.entries {
		out = append(out, *e)
	}
	return out
}
