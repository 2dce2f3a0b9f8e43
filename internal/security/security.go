// Package security реализует мониторинг безопасности шины: проверку
// адреса источника, скользящий лог аномалий, ограничение частоты команд
// по классам сообщений и оценку доверия к источнику. Построен на основе
// security.py исходной реализации.
package security

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/coachlink/rvcd/common"
)

// Severity — уровень серьёзности обнаруженной аномалии.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Anomaly — одно обнаруженное отклонение в трафике шины.
type Anomaly struct {
	Timestamp    time.Time
	Type         string
	SourceAddr   uint8
	DGN          *common.DGN
	Severity     Severity
	Description  string
	Evidence     map[string]any
}

// RateLimit описывает допустимую частоту сообщений одного класса.
type RateLimit struct {
	MessagesPerSecond float64
	BurstSize         int
	Window            time.Duration
}

// floodWindow/floodThreshold — порог для message_flooding: более 100
// сообщений от одного источника за 1с считается затоплением шины.
const (
	floodWindow    = time.Second
	floodThreshold = 100
)

// defaultRateLimits — классы сообщений и их лимиты, перенесённые из
// security.py дословно.
var defaultRateLimits = map[string]RateLimit{
	"control":    {MessagesPerSecond: 10.0, BurstSize: 5, Window: time.Second},
	"status":     {MessagesPerSecond: 50.0, BurstSize: 20, Window: time.Second},
	"diagnostic": {MessagesPerSecond: 5.0, BurstSize: 2, Window: time.Second},
	"default":    {MessagesPerSecond: 20.0, BurstSize: 10, Window: time.Second},
}

type sourceStats struct {
	firstSeen          time.Time
	lastSeen           time.Time
	messageCount       uint64
	dgnsSeen           map[common.DGN]bool
	suspiciousActivity uint64
	rateViolations     uint64
	recentMessages     []time.Time // скользящее окно в 1с для message_flooding
}

// Monitor — потокобезопасный мониторинг безопасности одного инстанса ядра.
type Monitor struct {
	mu     sync.Mutex
	logger *log.Logger

	controllerAddr uint8
	rateLimits     map[string]RateLimit

	messageCounts map[uint8][]time.Time // скользящее окно для rate_limit_commands
	sourceStats   map[uint8]*sourceStats

	anomalies    []Anomaly
	maxAnomalies int
}

// New создаёт Monitor. controllerAddr — собственный адрес контроллера на
// шине, всегда считающийся доверенным источником.
func New(controllerAddr uint8, logger *log.Logger) *Monitor {
	if logger == nil {
		logger = log.New(os.Stdout, "[security] ", log.LstdFlags)
	}
	return &Monitor{
		logger:         logger,
		controllerAddr: controllerAddr,
		rateLimits:     defaultRateLimits,
		messageCounts:  make(map[uint8][]time.Time),
		sourceStats:    make(map[uint8]*sourceStats),
		maxAnomalies:   1000,
	}
}

func (m *Monitor) statsFor(addr uint8) *sourceStats {
	s, ok := m.sourceStats[addr]
	if !ok {
		now := time.Now().UTC()
		s = &sourceStats{firstSeen: now, lastSeen: now, dgnsSeen: make(map[common.DGN]bool)}
		m.sourceStats[addr] = s
	}
	return s
}

// ValidateSourceAddress проверяет, что источник находится в допустимом
// диапазоне адресов J1939/RV-C (0x00-0xF7; 0xF8-0xFF зарезервированы), и
// отслеживает скачки адресов (address hopping) среди недавно активных
// источников.
func (m *Monitor) ValidateSourceAddress(addr uint8, dgn common.DGN) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if addr == m.controllerAddr {
		return true
	}
	if addr > 0xF7 {
		m.recordAnomalyLocked("invalid_source_range", addr, &dgn, SeverityHigh,
			fmt.Sprintf("адрес источника 0x%02X вне допустимого диапазона", addr),
			map[string]any{"source_addr": addr})
		return false
	}

	now := time.Now().UTC()
	recent := 0
	for _, s := range m.sourceStats {
		if now.Sub(s.lastSeen) < 10*time.Second {
			recent++
		}
	}
	if recent > 20 {
		m.recordAnomalyLocked("address_hopping", addr, &dgn, SeverityMedium,
			fmt.Sprintf("слишком много уникальных источников (%d) за короткое время", recent),
			map[string]any{"recent_sources": recent})
	}
	return true
}

// Observe регистрирует встречу сообщения от addr/dgn и обнаруживает
// аномалии по шаблону трафика: message_flooding (>100 сообщений/с),
// dgn_scanning, завышенный размер payload, потенциальная подмена
// источника.
func (m *Monitor) Observe(f common.Frame) []Anomaly {
	m.mu.Lock()
	defer m.mu.Unlock()

	addr := f.SourceAddr
	dgn := f.DGN()
	now := time.Now().UTC()

	s := m.statsFor(addr)
	firstTimeSeen := s.messageCount == 0
	s.lastSeen = now
	s.messageCount++
	newDGN := !s.dgnsSeen[dgn]
	s.dgnsSeen[dgn] = true

	var detected []Anomaly

	cutoff := now.Add(-floodWindow)
	kept := s.recentMessages[:0]
	for _, t := range s.recentMessages {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.recentMessages = append(kept, now)
	if len(s.recentMessages) > floodThreshold {
		a := m.recordAnomalyLocked("message_flooding", addr, &dgn, SeverityHigh,
			fmt.Sprintf("источник 0x%02X отправил %d сообщений за %v", addr, len(s.recentMessages), floodWindow),
			map[string]any{"message_count": len(s.recentMessages), "window": floodWindow.String()})
		detected = append(detected, a)
	}

	if len(f.Data) > 8 {
		a := m.recordAnomalyLocked("oversized_message", addr, &dgn, SeverityMedium,
			fmt.Sprintf("сообщение из %d байт (ожидалось не более 8)", len(f.Data)),
			map[string]any{"data_length": len(f.Data)})
		detected = append(detected, a)
	}

	if newDGN && len(s.dgnsSeen) > 20 {
		a := m.recordAnomalyLocked("dgn_scanning", addr, nil, SeverityMedium,
			fmt.Sprintf("источник 0x%02X обращается к %d разным DGN", addr, len(s.dgnsSeen)),
			map[string]any{"dgn_count": len(s.dgnsSeen)})
		detected = append(detected, a)
	}

	if firstTimeSeen {
		for other, os := range m.sourceStats {
			if other == addr {
				continue
			}
			if now.Sub(os.lastSeen) >= 60*time.Second {
				continue
			}
			if overlaps(s.dgnsSeen, os.dgnsSeen) {
				a := m.recordAnomalyLocked("potential_impersonation", addr, nil, SeverityHigh,
					fmt.Sprintf("новый источник 0x%02X использует DGN, недавно использованные 0x%02X", addr, other),
					map[string]any{"existing_source": other})
				detected = append(detected, a)
				break
			}
		}
	}

	return detected
}

func overlaps(a, b map[common.DGN]bool) bool {
	for d := range a {
		if b[d] {
			return true
		}
	}
	return false
}

// RateLimitCommand возвращает false, если команда должна быть отброшена
// по превышению лимита частоты для её класса сообщений.
func (m *Monitor) RateLimitCommand(addr uint8, dgn common.DGN) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	class := classifyMessage(dgn)
	limit, ok := m.rateLimits[class]
	if !ok {
		limit = m.rateLimits["default"]
	}

	now := time.Now().UTC()
	times := m.messageCounts[addr]
	cutoff := now.Add(-limit.Window)
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	times = kept

	if len(times) >= limit.BurstSize || float64(len(times)) >= limit.MessagesPerSecond*limit.Window.Seconds() {
		m.statsFor(addr).rateViolations++
		m.recordAnomalyLocked("rate_limit_violation", addr, &dgn, SeverityMedium,
			fmt.Sprintf("источник 0x%02X превысил лимит частоты (%v/с, класс %s)", addr, limit.MessagesPerSecond, class),
			map[string]any{"rate_limit": limit.MessagesPerSecond, "message_type": class})
		m.messageCounts[addr] = times
		return false
	}

	times = append(times, now)
	m.messageCounts[addr] = times
	return true
}

// classifyMessage отображает PGN сообщения на класс для ограничения
// частоты. Диапазоны PGN перенесены из _classify_message_type.
func classifyMessage(dgn common.DGN) string {
	pgn := uint32(dgn.PGN())
	switch {
	case pgn >= 0x1FEF0 && pgn < 0x1FEF8:
		return "control"
	case pgn >= 0x1FFB0 && pgn < 0x1FFC0:
		return "status"
	case pgn >= 0x1FEC0 && pgn < 0x1FED0:
		return "diagnostic"
	default:
		return "default"
	}
}

func (m *Monitor) recordAnomalyLocked(anomalyType string, addr uint8, dgn *common.DGN, sev Severity, desc string, evidence map[string]any) Anomaly {
	a := Anomaly{
		Timestamp:   time.Now().UTC(),
		Type:        anomalyType,
		SourceAddr:  addr,
		DGN:         dgn,
		Severity:    sev,
		Description: desc,
		Evidence:    evidence,
	}
	m.anomalies = append(m.anomalies, a)
	if len(m.anomalies) > m.maxAnomalies {
		m.anomalies = m.anomalies[1:]
	}
	if s, ok := m.sourceStats[addr]; ok {
		s.suspiciousActivity++
	}

	switch sev {
	case SeverityCritical, SeverityHigh:
		m.logger.Printf("АНОМАЛИЯ[%s] %s: %s", sev, anomalyType, desc)
	default:
		m.logger.Printf("аномалия[%s] %s: %s", sev, anomalyType, desc)
	}
	return a
}

// trustObservationWindow — минимальное время наблюдения за источником
// прежде, чем ему может быть присвоено доверие.
const trustObservationWindow = 300 * time.Second

// IsSourceTrusted возвращает true для локального контроллера либо для
// источника, чей счётчик подозрительной активности меньше 5, счётчик
// нарушений частоты меньше 3, и который наблюдается на шине не менее
// trustObservationWindow.
func (m *Monitor) IsSourceTrusted(addr uint8) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if addr == m.controllerAddr {
		return true
	}
	s, ok := m.sourceStats[addr]
	if !ok {
		return false
	}
	return s.suspiciousActivity < 5 &&
		s.rateViolations < 3 &&
		time.Since(s.firstSeen) >= trustObservationWindow
}

// Status — снимок состояния мониторинга для диагностических команд.
type Status struct {
	ActiveSources   int
	AnomaliesByType map[Severity]int
}

// GetSecurityStatus возвращает число аномалий по уровню серьёзности за
// последний час и общее число источников, наблюдавшихся за время жизни
// Monitor.
func (m *Monitor) GetSecurityStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	counts := make(map[Severity]int)
	for _, a := range m.anomalies {
		if now.Sub(a.Timestamp) < time.Hour {
			counts[a.Severity]++
		}
	}
	return Status{ActiveSources: len(m.sourceStats), AnomaliesByType: counts}
}

// Anomalies возвращает копию накопленного кольцевого буфера аномалий.
func (m *Monitor) Anomalies() []Anomaly {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Anomaly, len(m.anomalies))
	copy(out, m.anomalies)
	return out
}
