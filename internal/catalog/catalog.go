// Package catalog грузит и валидирует каталог спецификации DGN (JSON) и
// маппинг коуча (YAML), и отдаёт их декодеру, энкодеру и остальным
// компонентам как одну согласованную, неизменяемую снимок-структуру.
// Каталог перечитывается только по явному вызову Reload (например, по
// сигналу fsnotify) — никогда неявно при ошибке декодирования.
package catalog

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/coachlink/rvcd/common"
)

// ValueType — тип значения сигнала в payload кадра.
type ValueType string

const (
	ValueUint    ValueType = "uint"
	ValueInt     ValueType = "int"
	ValueFloat   ValueType = "float"
	ValueEnum    ValueType = "enum"
	ValueBitmap  ValueType = "bitmap"
	ValueRawByte ValueType = "raw"
)

// Signal описывает один сигнал внутри DGN: где он лежит в payload,
// как привести сырое значение к физической величине, и (для ValueEnum)
// как интерпретировать коды.
type Signal struct {
	Name      string            `json:"name"`
	StartBit  int               `json:"start_bit"`
	Length    int               `json:"length"` // 0 = занимает payload до конца
	Type      ValueType         `json:"type"`
	Scale     float64           `json:"scale,omitempty"`
	Offset    float64           `json:"offset,omitempty"`
	Unit      string            `json:"unit,omitempty"`
	EnumMap   map[string]string `json:"enum,omitempty"` // сырое значение (как строка) -> метка
	IsInstance bool             `json:"is_instance,omitempty"`
}

// SpecEntry — одна запись каталога: один DGN со своим набором сигналов.
type SpecEntry struct {
	DGN         common.DGN `json:"dgn"`
	Name        string     `json:"name"`
	Length      *int       `json:"length,omitempty"` // nil = длина не фиксирована, декодировать по месту
	Signals     []Signal   `json:"signals"`
	CommandDGN  *common.DGN `json:"command_dgn,omitempty"` // явная пара статус->команда, если задана каталогом
}

// reservedTopLevelKeys — ключи верхнего уровня JSON-каталога, которые не
// являются записями DGN (аналог reserved keys в config_loader.py).
var reservedTopLevelKeys = map[string]bool{
	"_schema_version": true,
	"_source":         true,
	"_generated_at":   true,
}

// rawCatalog — форма каталога на диске: отображение "0x1FEF1" (или
// десятичной строки) DGN -> запись, плюс служебные ключи верхнего уровня.
type rawCatalog map[string]json.RawMessage

// Catalog — неизменяемый снимок загруженного каталога и маппинга коуча.
// Любое обновление создаёт новый снимок и атомарно подменяет указатель —
// читатели никогда не видят частично загруженное состояние.
type Catalog struct {
	Entries       map[common.DGN]SpecEntry
	EntriesByName map[string]SpecEntry
	DGNPairs      map[common.DGN]common.DGN // статус DGN -> команда DGN
	Mapping       *CoachMapping
}

// Store держит текущий снимок каталога и обслуживает явные перезагрузки.
type Store struct {
	specPath    string
	mappingPath string
	logger      *log.Logger

	current atomic.Pointer[Catalog]

	watcher  *fsnotify.Watcher
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewStore создаёт Store и выполняет первую загрузку. Ошибка загрузки на
// этом этапе фатальна (common.ErrSpecInvalid / ErrCoachMappingInvalid) —
// без валидного каталога ядро не может безопасно запускаться.
func NewStore(specPath, mappingPath string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(os.Stdout, "[catalog] ", log.LstdFlags)
	}
	s := &Store{
		specPath:    specPath,
		mappingPath: mappingPath,
		logger:      logger,
		stopCh:      make(chan struct{}),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Get возвращает текущий снимок каталога. Безопасен для конкурентного
// вызова из любого числа читателей одновременно с Reload.
func (s *Store) Get() *Catalog {
	return s.current.Load()
}

// Reload перечитывает и перевалидирует оба файла и, в случае успеха,
// атомарно заменяет текущий снимок. При ошибке старый снимок остаётся в
// силе — частичная или некорректная перезагрузка никогда не оставляет
// ядро без каталога.
func (s *Store) Reload() error {
	entries, err := loadSpec(s.specPath)
	if err != nil {
		return common.NewError(common.ErrSpecInvalid, "загрузка каталога DGN", err)
	}
	mapping, err := loadMapping(s.mappingPath)
	if err != nil {
		return common.NewError(common.ErrCoachMappingInvalid, "загрузка маппинга коуча", err)
	}
	if err := validateMapping(mapping, entries); err != nil {
		return common.NewError(common.ErrCoachMappingInvalid, "валидация маппинга коуча", err)
	}

	pairs := make(map[common.DGN]common.DGN)
	for dgn, e := range entries {
		if e.CommandDGN != nil {
			pairs[dgn] = *e.CommandDGN
		}
	}

	byName := make(map[string]SpecEntry, len(entries))
	for _, e := range entries {
		byName[e.Name] = e
	}

	cat := &Catalog{
		Entries:       entries,
		EntriesByName: byName,
		DGNPairs:      pairs,
		Mapping:       mapping,
	}
	s.current.Store(cat)
	s.logger.Printf("каталог перезагружен: %d DGN, %d устройств в маппинге", len(entries), len(mapping.Devices))
	return nil
}

// WatchForChanges запускает fsnotify-наблюдение за самими файлами
// спецификации и маппинга и вызывает Reload на каждое событие записи или
// создания.
// Ошибки Reload здесь не фатальны: старый снимок остаётся активным, а
// ошибка лишь логируется — оператор правит файл и событие приходит снова.
func (s *Store) WatchForChanges() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("catalog: не удалось создать fsnotify watcher: %w", err)
	}
	s.watcher = w
	for _, p := range []string{s.specPath, s.mappingPath} {
		if err := w.Add(p); err != nil {
			s.logger.Printf("не удалось добавить watch для %s: %v", p, err)
		}
	}
	go s.watchLoop()
	return nil
}

func (s *Store) watchLoop() {
	for {
		select {
		case <-s.stopCh:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			s.logger.Printf("обнаружено изменение %s, перезагрузка каталога", ev.Name)
			if err := s.Reload(); err != nil {
				s.logger.Printf("перезагрузка каталога не выполнена, используется прежний снимок: %v", err)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Printf("ошибка fsnotify: %v", err)
		}
	}
}

// Close останавливает наблюдение за файлами.
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

func loadSpec(path string) (map[common.DGN]SpecEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение файла каталога %s: %w", path, err)
	}
	var top rawCatalog
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, fmt.Errorf("разбор JSON каталога %s: %w", path, err)
	}

	entries := make(map[common.DGN]SpecEntry, len(top))
	for key, val := range top {
		if reservedTopLevelKeys[key] {
			continue
		}
		var e SpecEntry
		if err := json.Unmarshal(val, &e); err != nil {
			return nil, fmt.Errorf("запись каталога %q: %w", key, err)
		}
		if e.Name == "" {
			return nil, fmt.Errorf("запись каталога %q: отсутствует имя DGN", key)
		}
		for _, sig := range e.Signals {
			if sig.Name == "" {
				return nil, fmt.Errorf("DGN %q: сигнал без имени", e.Name)
			}
		}
		entries[e.DGN] = e
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("каталог %s не содержит ни одной записи DGN", path)
	}
	return entries, nil
}
