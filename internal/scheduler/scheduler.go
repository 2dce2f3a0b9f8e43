// Package scheduler реализует приоритетное планирование кадров: пять
// классов приоритета, по одной ограниченной FIFO-очереди на класс,
// вытеснение из самого низкоприоритетного непустого класса при
// переполнении очереди критических сообщений, и скользящую статистику
// обработки. Построен на основе performance.py исходной реализации.
package scheduler

import (
	"log"
	"os"
	"sync"
	"time"

	"github.com/coachlink/rvcd/common"
)

// Priority — класс приоритета сообщения. Меньшее значение — выше приоритет.
type Priority int

const (
	PriorityCritical Priority = 1
	PriorityHigh     Priority = 2
	PriorityNormal   Priority = 3
	PriorityLow      Priority = 4
	PriorityBackground Priority = 5
)

// priorityOrder — порядок обхода от высшего к низшему приоритету.
var priorityOrder = []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow, PriorityBackground}

// admissionCapPerSecond — приёмные лимиты по классу приоритета в
// сообщениях/с, перенесённые дословно из _setup_priority_rules().
// Critical не ограничен (0 означает "без лимита").
var admissionCapPerSecond = map[Priority]int{
	PriorityCritical:   0,
	PriorityHigh:       200,
	PriorityNormal:     100,
	PriorityLow:        50,
	PriorityBackground: 10,
}

// exactPriorityByPGN — точная таблица PGN->класс приоритета, перенесённая
// из _setup_priority_rules(). Ключ — PGN (приоритет сам по себе не влияет
// на классификацию, только его DGN-часть).
var exactPriorityByPGN = buildExactPriorityTable()

func buildExactPriorityTable() map[common.PGN]Priority {
	m := map[common.PGN]Priority{}
	for _, pgn := range []common.PGN{0x1FECA, 0x1FDB8, 0x1FF00} {
		m[pgn] = PriorityCritical
	}
	for _, pgn := range []common.PGN{0x1FF01, 0x1FF02, 0x1FF03, 0x1FE6C, 0x1FE6D, 0x1FD48, 0x1FE56, 0x1FE40} {
		m[pgn] = PriorityHigh
	}
	for _, pgn := range []common.PGN{0x1FFB1, 0x1FFB2, 0x1FFB3, 0x1FFB4, 0x1FF9C, 0x1FF9D, 0x1FFF7, 0x1FFF8} {
		m[pgn] = PriorityNormal
	}
	for _, pgn := range []common.PGN{0x1FF9E, 0x1FF9F, 0x1FFF9, 0x1FFFA, 0x1FFFB} {
		m[pgn] = PriorityLow
	}
	for _, pgn := range []common.PGN{0x1FEF2, 0x1FEF1, 0x1FEF0, 0x1FEE0} {
		m[pgn] = PriorityBackground
	}
	return m
}

// Categorize классифицирует DGN по точной таблице, а при отсутствии
// совпадения — по диапазону PGN, как в categorize_message_priority.
func Categorize(dgn common.DGN) Priority {
	pgn := dgn.PGN()
	if p, ok := exactPriorityByPGN[pgn]; ok {
		return p
	}
	switch {
	case pgn >= 0x1FEC0 && pgn <= 0x1FECF:
		return PriorityCritical
	case pgn >= 0x1FE00 && pgn <= 0x1FE5F:
		return PriorityHigh
	case pgn >= 0x1FF00 && pgn <= 0x1FF9F:
		return PriorityNormal
	case pgn >= 0x1FFA0 && pgn <= 0x1FFEF:
		return PriorityLow
	case pgn >= 0x1FEF0 && pgn <= 0x1FEFF:
		return PriorityBackground
	default:
		return PriorityNormal
	}
}

// ShouldProcessImmediately — истина для Critical/High: эти классы
// обходят очередь и доставляются вызывающей стороне без буферизации.
func ShouldProcessImmediately(dgn common.DGN) bool {
	p := Categorize(dgn)
	return p == PriorityCritical || p == PriorityHigh
}

// Item — кадр, ожидающий обработки, вместе со своим приоритетом.
type Item struct {
	EnqueuedAt time.Time
	Priority   Priority
	Frame      common.Frame
}

// Metrics — скользящая статистика обработки очереди.
type Metrics struct {
	MessagesQueued      uint64
	MessagesDropped     uint64
	MessagesRateLimited uint64 // отброшено admission-лимитом по классу, отдельно от переполнения очереди
	QueueSizeMax        int
	AvgProcessingMs     float64
}

// Scheduler — пять ограниченных очередей FIFO, по одной на класс
// приоритета, плюс скользящее среднее времени обработки.
type Scheduler struct {
	mu       sync.Mutex
	logger   *log.Logger
	maxTotal int
	perClass int
	queues   map[Priority][]Item
	admitted map[Priority][]time.Time // скользящее окно в 1с для admission-лимита

	metrics        Metrics
	processingTimes []time.Duration // кольцевой буфер для скользящего среднего
}

// New создаёт Scheduler с общим бюджетом очереди maxQueueSize, поровну
// разделённым между пятью классами приоритета (как maxlen=max//len(...)
// в performance.py).
func New(maxQueueSize int, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.New(os.Stdout, "[scheduler] ", log.LstdFlags)
	}
	perClass := maxQueueSize / len(priorityOrder)
	if perClass < 1 {
		perClass = 1
	}
	s := &Scheduler{
		logger:   logger,
		maxTotal: maxQueueSize,
		perClass: perClass,
		queues:   make(map[Priority][]Item, len(priorityOrder)),
		admitted: make(map[Priority][]time.Time, len(priorityOrder)),
	}
	for _, p := range priorityOrder {
		s.queues[p] = make([]Item, 0, perClass)
	}
	return s
}

// Enqueue помещает кадр в очередь его класса приоритета. Сначала
// проверяется admission-лимит класса (сообщений/с); при его превышении
// кадр отбрасывается ещё до постановки в очередь. При переполнении
// очереди критического класса вытесняет самое старое сообщение из
// самого низкоприоритетного непустого класса; для прочих классов при
// переполнении сообщение отбрасывается.
func (s *Scheduler) Enqueue(f common.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	priority := Categorize(f.DGN())

	if !s.admitLocked(priority) {
		s.metrics.MessagesRateLimited++
		s.logger.Printf("превышен admission-лимит класса %v, сообщение отброшено (DGN 0x%X)", priority, uint32(f.DGN()))
		return false
	}

	q := s.queues[priority]

	if len(q) >= s.perClass {
		if priority == PriorityCritical {
			if !s.dropLowestPriorityLocked() {
				s.metrics.MessagesDropped++
				s.logger.Printf("очередь критических сообщений переполнена, сообщение отброшено (DGN 0x%X)", uint32(f.DGN()))
				return false
			}
			q = s.queues[priority]
		} else {
			s.metrics.MessagesDropped++
			return false
		}
	}

	item := Item{EnqueuedAt: time.Now().UTC(), Priority: priority, Frame: f}
	s.queues[priority] = append(q, item)
	s.metrics.MessagesQueued++
	total := s.totalSizeLocked()
	if total > s.metrics.QueueSizeMax {
		s.metrics.QueueSizeMax = total
	}
	return true
}

// admitLocked проверяет и обновляет скользящее окно в 1с admission-счётчика
// класса priority. Critical не ограничен (admissionCapPerSecond[Critical]==0).
func (s *Scheduler) admitLocked(priority Priority) bool {
	limit := admissionCapPerSecond[priority]
	if limit <= 0 {
		return true
	}
	now := time.Now().UTC()
	cutoff := now.Add(-time.Second)
	times := s.admitted[priority]
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= limit {
		s.admitted[priority] = kept
		return false
	}
	s.admitted[priority] = append(kept, now)
	return true
}

// dropLowestPriorityLocked отбрасывает самое старое сообщение из
// первого непустого класса при обходе от Background к Critical.
func (s *Scheduler) dropLowestPriorityLocked() bool {
	for i := len(priorityOrder) - 1; i >= 0; i-- {
		p := priorityOrder[i]
		q := s.queues[p]
		if len(q) > 0 {
			s.queues[p] = q[1:]
			return true
		}
	}
	return false
}

// Dequeue возвращает следующее сообщение с наивысшим приоритетом, или
// false, если все очереди пусты.
func (s *Scheduler) Dequeue() (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range priorityOrder {
		q := s.queues[p]
		if len(q) > 0 {
			item := q[0]
			s.queues[p] = q[1:]
			return item, true
		}
	}
	return Item{}, false
}

// DrainBatch забирает до maxBatch сообщений в порядке приоритета — для
// пакетной обработки цикла дренажа входного конвейера (pipeline).
func (s *Scheduler) DrainBatch(maxBatch int) []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := make([]Item, 0, maxBatch)
	for _, p := range priorityOrder {
		q := s.queues[p]
		for len(q) > 0 && len(batch) < maxBatch {
			batch = append(batch, q[0])
			q = q[1:]
		}
		s.queues[p] = q
		if len(batch) >= maxBatch {
			break
		}
	}
	return batch
}

func (s *Scheduler) totalSizeLocked() int {
	total := 0
	for _, q := range s.queues {
		total += len(q)
	}
	return total
}

// TotalQueueSize возвращает суммарный размер всех очередей.
func (s *Scheduler) TotalQueueSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalSizeLocked()
}

// QueueSizesByPriority возвращает размер каждой очереди по отдельности.
func (s *Scheduler) QueueSizesByPriority() map[Priority]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Priority]int, len(s.queues))
	for p, q := range s.queues {
		out[p] = len(q)
	}
	return out
}

// RecordProcessingTime добавляет измерение длительности обработки в
// скользящее окно (последние 1000 значений) и пересчитывает среднее.
func (s *Scheduler) RecordProcessingTime(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processingTimes = append(s.processingTimes, d)
	if len(s.processingTimes) > 1000 {
		s.processingTimes = s.processingTimes[1:]
	}
	var sum time.Duration
	for _, t := range s.processingTimes {
		sum += t
	}
	s.metrics.AvgProcessingMs = float64(sum.Milliseconds()) / float64(len(s.processingTimes))
}

// Metrics возвращает снимок текущей статистики планировщика.
func (s *Scheduler) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}
