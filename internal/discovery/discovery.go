// Package discovery реализует активный опрос и построение топологии
// сети шины: периодическая широковещательная рассылка PGN-запросов,
// учёт ответивших устройств, оценка надёжности и композиционные запросы
// поверх накопленного состояния (профили, мастер настройки). Построен
// на основе device_discovery_service.py исходной реализации.
package discovery

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/coachlink/rvcd/common"
	"github.com/coachlink/rvcd/internal/eventbus"
	"github.com/coachlink/rvcd/internal/lifecycle"
	"github.com/coachlink/rvcd/internal/txbus"
)

// requestPGN — PGN Request (J1939/RV-C), используемый для опроса и
// обнаружения устройств.
const requestPGN common.PGN = 0xEA00

// requestPriority — приоритет арбитража для запросных сообщений.
const requestPriority uint8 = 6

// protocolDiscoveryPGNs — PGN, рассылаемые широковещательно при
// активном обнаружении, по протоколу шины. Перенесено из
// protocol_configs исходной реализации.
var protocolDiscoveryPGNs = map[string][]common.PGN{
	"rvc":   {0x1FEF2, 0x1FEDA, 0x1FEEB, 0x1FEE1},
	"j1939": {0x1FEF2, 0x1FEE5, 0x1FEF1},
}

// statusPGNByDeviceType — PGN периодического опроса уже известных
// устройств, подобранный по их типу. Перенесено из
// _get_status_pgn_for_device дословно.
var statusPGNByDeviceType = map[string]common.PGN{
	"light":       0x1FEDA,
	"tank":        0x1FEEB,
	"temperature": 0x1FEE1,
	"lock":        0x1FED9,
	"pump":        0x1FED8,
	"fan":         0x1FED6,
}

// deviceTypeByStatusPGN — обратное отображение statusPGNByDeviceType,
// используется для распознавания типа устройства по PGN входящего
// декодированного кадра в ObserveResponse.
var deviceTypeByStatusPGN = func() map[common.PGN]string {
	m := make(map[common.PGN]string, len(statusPGNByDeviceType))
	for dt, pgn := range statusPGNByDeviceType {
		m[pgn] = dt
	}
	return m
}()

// offlineAfter — длительность без ответов устройства, после которой
// доступность помечает его offline (§4.9 "availability poll").
const offlineAfter = 300 * time.Second

// availabilityCheckEvery — период проверки доступности устройств.
const availabilityCheckEvery = 30 * time.Second

// DeviceRecord — наблюдение рантайма об устройстве на шине: отличается
// от catalog.DeviceRecord (статический маппинг коуча) тем, что строится
// и обновляется самим Engine, а не файлом конфигурации.
type DeviceRecord struct {
	SourceAddr    uint8
	Protocol      string
	DeviceType    string
	FirstSeen     time.Time
	LastSeen      time.Time
	ResponseCount int
	ResponseRing  []time.Duration // скользящее окно времени отклика, последние maxResponseSamples
	Status        string          // discovered, online, offline
}

const maxResponseSamples = 20

// ReliabilityScore вычисляет оценку надёжности устройства в [0,1] по
// формуле, перенесённой из _calculate_reliability_score:
// response_rate*0.4 + min(1, 5/avg_response_time)*0.3 + recency*0.3,
// где response_rate — заполненность кольца времени отклика относительно
// ResponseCount, числа всех принятых от устройства кадров (так же, как в
// исходнике — это доля кадров, сопоставленных с опросом и попавших в
// кольцо, а не отношение откликов к запросам).
func (d DeviceRecord) ReliabilityScore(now time.Time) float64 {
	if d.ResponseCount == 0 {
		return 0
	}
	responseRate := float64(len(d.ResponseRing)) / float64(d.ResponseCount)

	avgMillis := 0.0
	if len(d.ResponseRing) > 0 {
		var sum time.Duration
		for _, rt := range d.ResponseRing {
			sum += rt
		}
		avgMillis = float64(sum.Milliseconds()) / float64(len(d.ResponseRing))
	}
	speedFactor := 1.0
	if avgMillis > 0 {
		speedFactor = 5000.0 / avgMillis
		if speedFactor > 1 {
			speedFactor = 1
		}
	}

	secsSinceSeen := now.Sub(d.LastSeen).Seconds()
	recency := 1 - secsSinceSeen/3600.0
	if recency < 0 {
		recency = 0
	}

	return responseRate*0.4 + speedFactor*0.3 + recency*0.3
}

// pendingPoll — запрос, ожидающий сопоставления с ответом; ключ в
// Engine.pending — poll_key = "{protocol}_{src:02X}_{pgn:04X}[_inst]",
// как того требует §4.9, чтобы два параллельных опроса одного
// устройства по разным PGN не затирали время отклика друг друга.
type pendingPoll struct {
	protocol string
	addr     uint8
	pgn      common.PGN
	sentAt   time.Time
}

func pollKey(protocol string, addr uint8, pgn common.PGN, instance *int) string {
	if instance != nil {
		return fmt.Sprintf("%s_%02X_%04X_%d", protocol, addr, uint32(pgn), *instance)
	}
	return fmt.Sprintf("%s_%02X_%04X", protocol, addr, uint32(pgn))
}

// Engine — C9 Discovery: ведёт топологию сети и циклы опроса/обнаружения.
type Engine struct {
	bus           txbus.Bus
	events        *eventbus.Bus
	sourceAddr    uint8
	pollInterval  time.Duration
	discoverEvery time.Duration
	logger        *log.Logger

	mu      sync.Mutex
	devices map[uint8]*DeviceRecord
	pending map[string]pendingPoll
}

// Config — параметры опроса/обнаружения C9.
type Config struct {
	SourceAddr        uint8
	PollInterval      time.Duration
	DiscoveryInterval time.Duration
}

func New(bus txbus.Bus, events *eventbus.Bus, cfg Config, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stdout, "[discovery] ", log.LstdFlags)
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.DiscoveryInterval == 0 {
		cfg.DiscoveryInterval = 5 * time.Minute
	}
	return &Engine{
		bus:           bus,
		events:        events,
		sourceAddr:    cfg.SourceAddr,
		pollInterval:  cfg.PollInterval,
		discoverEvery: cfg.DiscoveryInterval,
		logger:        logger,
		devices:       make(map[uint8]*DeviceRecord),
		pending:       make(map[string]pendingPoll),
	}
}

// Name идентифицирует компонент для lifecycle.Supervisor.
func (e *Engine) Name() string { return "discovery" }

// Init ничего не делает: Engine не требует подготовки ресурсов до Run.
func (e *Engine) Init(ctx context.Context) error { return nil }

// Shutdown ничего не делает: состояние Engine хранится только в памяти
// процесса и не требует освобождения внешних ресурсов.
func (e *Engine) Shutdown(ctx context.Context) error { return nil }

// Health всегда healthy: временное отсутствие ответов от устройств —
// ожидаемое поведение опроса, а не деградация самого Engine.
func (e *Engine) Health() lifecycle.Health { return lifecycle.HealthHealthy }

// Run запускает циклы обнаружения, опроса, доступности и потребления
// входящих декодированных кадров как долгоживущие задачи, координируемые
// общим ctx (§5 модели конкурентности ядра). Discovery — параллельный
// цикл, который и публикует PGN-запросы через C8, и потребляет ответы
// через C10 (§2), поэтому Engine подписан на TopicDecodedFrame наравне
// с собственными циклами опроса.
func (e *Engine) Run(ctx context.Context) error {
	go e.discoveryLoop(ctx)
	go e.availabilityLoop(ctx)
	if e.events != nil {
		go e.observeLoop(ctx)
	}
	e.pollingLoop(ctx)
	return nil
}

// observeLoop подписывается на декодированные кадры и сопоставляет их с
// активными опросами (response correlation, §4.9).
func (e *Engine) observeLoop(ctx context.Context) {
	sub := e.events.Subscribe(common.TopicDecodedFrame)
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			msg, ok := ev.Payload.(common.DecodedMessage)
			if !ok {
				continue
			}
			pgn := msg.DGN.PGN()
			e.ObserveResponse(msg.SourceAddr, pgn, "rvc", deviceTypeByStatusPGN[pgn])
		}
	}
}

// availabilityLoop помечает устройства offline, если от них не было
// ответов дольше offlineAfter (§4.9 "availability poll").
func (e *Engine) availabilityLoop(ctx context.Context) {
	ticker := time.NewTicker(availabilityCheckEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.markStaleDevicesOffline()
		}
	}
}

func (e *Engine) markStaleDevicesOffline() {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now().UTC()
	for _, d := range e.devices {
		if d.Status != "offline" && now.Sub(d.LastSeen) > offlineAfter {
			d.Status = "offline"
		}
	}
}

func (e *Engine) discoveryLoop(ctx context.Context) {
	ticker := time.NewTicker(e.discoverEvery)
	defer ticker.Stop()
	e.runDiscoveryRound()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runDiscoveryRound()
		}
	}
}

func (e *Engine) pollingLoop(ctx context.Context) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.pollKnownDevices()
		}
	}
}

// runDiscoveryRound рассылает PGN-запросы для каждого настроенного
// протокола (rvc, j1939), как того требует §4.9.
func (e *Engine) runDiscoveryRound() {
	for protocol, pgns := range protocolDiscoveryPGNs {
		for _, pgn := range pgns {
			if err := e.sendPGNRequest(protocol, pgn, 0xFF, nil); err != nil {
				e.logger.Printf("ошибка обнаружения для PGN 0x%04X: %v", uint32(pgn), err)
			}
		}
	}
}

func (e *Engine) pollKnownDevices() {
	e.mu.Lock()
	targets := make([]*DeviceRecord, 0, len(e.devices))
	for _, d := range e.devices {
		targets = append(targets, d)
	}
	e.mu.Unlock()

	now := time.Now().UTC()
	for _, d := range targets {
		// Опрашиваем только устройства, не отвечавшие дольше удвоенного
		// интервала опроса — недавно виденные устройства не нуждаются в
		// дополнительном запросе (§4.9 "Polling").
		if now.Sub(d.LastSeen) <= 2*e.pollInterval {
			continue
		}
		pgn, ok := statusPGNByDeviceType[d.DeviceType]
		if !ok {
			continue
		}
		if err := e.sendPGNRequest(d.Protocol, pgn, d.SourceAddr, nil); err != nil {
			e.logger.Printf("ошибка опроса устройства 0x%02X: %v", d.SourceAddr, err)
		}
	}
}

// sendPGNRequest собирает и отправляет PGN Request: CAN ID =
// priority<<26 | requestPGN<<8 | source, payload =
// [pgn_lsb, pgn_mid, pgn_msb, destination, 0xFF,0xFF,0xFF,0xFF], с
// instance в пятом байте, если задан. Байтовая раскладка перенесена из
// _send_pgn_request дословно. Запрос регистрируется в active_polls под
// ключом poll_key = "{protocol}_{dest:02X}_{pgn:04X}[_inst]", чтобы
// ObserveResponse мог сопоставить с ним пришедший ответ.
func (e *Engine) sendPGNRequest(protocol string, pgn common.PGN, destination uint8, instance *int) error {
	arbID := (uint32(requestPriority) << 26) | (uint32(requestPGN) << 8) | uint32(e.sourceAddr)
	data := []byte{
		byte(pgn & 0xFF),
		byte((pgn >> 8) & 0xFF),
		byte((pgn >> 16) & 0xFF),
		destination,
		0xFF, 0xFF, 0xFF, 0xFF,
	}
	if instance != nil {
		data[4] = byte(*instance)
	}
	cmd := common.EncodedCommand{
		DGN:      common.ArbitrationID(arbID).DGN(),
		Data:     data,
		DestAddr: destination,
	}
	if err := e.bus.Send(cmd); err != nil {
		return err
	}

	if destination != 0xFF {
		e.mu.Lock()
		e.pending[pollKey(protocol, destination, pgn, instance)] = pendingPoll{
			protocol: protocol, addr: destination, pgn: pgn, sentAt: time.Now().UTC(),
		}
		e.mu.Unlock()
	}
	return nil
}

// ObserveResponse регистрирует ответ устройства: обновляет учёт времени
// первого/последнего появления, число ответов и скользящее окно времени
// отклика, если был зарегистрирован соответствующий pending-запрос, по
// совпадению (source, pgn) среди active_polls — ключ poll_key включает
// протокол и PGN, так что два параллельных опроса одного устройства по
// разным PGN не затирают время отклика друг друга.
func (e *Engine) ObserveResponse(sourceAddr uint8, pgn common.PGN, protocol, deviceType string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now().UTC()
	d, ok := e.devices[sourceAddr]
	if !ok {
		d = &DeviceRecord{SourceAddr: sourceAddr, Protocol: protocol, DeviceType: deviceType, FirstSeen: now, Status: "discovered"}
		e.devices[sourceAddr] = d
	}
	d.LastSeen = now
	d.ResponseCount++
	d.Status = "online"
	if deviceType != "" {
		d.DeviceType = deviceType
	}

	for key, p := range e.pending {
		if p.addr != sourceAddr || p.pgn != pgn {
			continue
		}
		rt := now.Sub(p.sentAt)
		d.ResponseRing = append(d.ResponseRing, rt)
		if len(d.ResponseRing) > maxResponseSamples {
			d.ResponseRing = d.ResponseRing[1:]
		}
		delete(e.pending, key)
		break
	}
}

// NetworkMap — снимок топологии для диагностических запросов.
type NetworkMap struct {
	Devices     []DeviceRecord
	OnlineCount int
	ObservedAt  time.Time
}

// GetEnhancedNetworkMap строит композиционный снимок известной топологии
// без дополнительного опроса шины — чистая функция над уже накопленным
// состоянием, как того требует §4.9.
func (e *Engine) GetEnhancedNetworkMap() NetworkMap {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now().UTC()
	m := NetworkMap{ObservedAt: now}
	for _, d := range e.devices {
		m.Devices = append(m.Devices, *d)
		if d.Status == "online" {
			m.OnlineCount++
		}
	}
	return m
}

// Profile — предлагаемый профиль устройства для мастера настройки: тип,
// поддерживаемые возможности и подсказанное имя/зона.
type Profile struct {
	SourceAddr       uint8
	SuggestedName    string
	SuggestedArea    string
	Capabilities     []string
	ReliabilityScore float64
}

// capabilityByDeviceType — грубое соответствие типа устройства его
// вероятным возможностям, перенесённое из _infer_device_capabilities.
var capabilityByDeviceType = map[string][]string{
	"light": {"on_off", "dimming"},
	"fan":   {"on_off", "speed_control"},
	"tank":  {"level_monitoring"},
	"lock":  {"lock_unlock"},
	"pump":  {"on_off"},
}

// areaByDeviceType — эвристическая подсказка зоны коуча по типу
// устройства, перенесённая из _suggest_device_area.
var areaByDeviceType = map[string]string{
	"light": "interior",
	"tank":  "utility",
	"pump":  "utility",
	"fan":   "interior",
	"lock":  "exterior",
}

// GetDeviceProfile строит профиль устройства для мастера настройки:
// композиция уже накопленных observeations, без побочных эффектов.
func (e *Engine) GetDeviceProfile(sourceAddr uint8) (Profile, error) {
	e.mu.Lock()
	d, ok := e.devices[sourceAddr]
	e.mu.Unlock()
	if !ok {
		return Profile{}, fmt.Errorf("discovery: устройство 0x%02X не обнаружено", sourceAddr)
	}

	return Profile{
		SourceAddr:       sourceAddr,
		SuggestedName:    fmt.Sprintf("%s_%02X", d.DeviceType, sourceAddr),
		SuggestedArea:    areaByDeviceType[d.DeviceType],
		Capabilities:     capabilityByDeviceType[d.DeviceType],
		ReliabilityScore: d.ReliabilityScore(time.Now().UTC()),
	}, nil
}
