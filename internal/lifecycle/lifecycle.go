// Package lifecycle задаёт единый плоский интерфейс жизненного цикла
// компонента ядра: Init/Run/Shutdown/Health. Перенесено из
// RVCFeature/Feature (startup/shutdown/health в
// original_source/.../rvc/feature.py), но без базового класса и цепочки
// наследования Feature -> RVCFeature -> ...: спец. флаг редизайна
// спецификации требует плоской композиции вместо глубокой иерархии
// обёрток, поэтому Component здесь — просто интерфейс, а Supervisor
// просто его список.
package lifecycle

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
)

// shutdownTimeout ограничивает время, отведённое Shutdown каждого
// компонента, чтобы зависший компонент не блокировал завершение процесса.
const shutdownTimeout = 5 * time.Second

// Health — статус здоровья компонента, как в health() исходной реализации.
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthDegraded  Health = "degraded"
	HealthUnhealthy Health = "unhealthy"
)

// Component — минимальный контракт долгоживущего компонента ядра.
// Init выполняется один раз до Run и может вернуть ошибку, фатальную для
// запуска процесса (например, невалидный каталог спецификации). Run
// блокируется, пока не будет отменён контекст или не случится
// неустранимая ошибка. Shutdown освобождает ресурсы после того, как Run
// вернул управление. Health вызывается в любой момент после Init, в том
// числе конкурентно с Run.
type Component interface {
	Name() string
	Init(ctx context.Context) error
	Run(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Health() Health
}

// Supervisor запускает набор компонентов и останавливает их в обратном
// порядке при отмене контекста, логируя переходы так же, как teacher's
// main.go логирует запуск/остановку протокола и MQTT-клиента.
type Supervisor struct {
	logger     *log.Logger
	components []Component
}

func NewSupervisor(logger *log.Logger) *Supervisor {
	if logger == nil {
		logger = log.New(os.Stdout, "[lifecycle] ", log.LstdFlags)
	}
	return &Supervisor{logger: logger}
}

// Register добавляет компонент в порядок запуска.
func (s *Supervisor) Register(c Component) {
	s.components = append(s.components, c)
}

// Run инициализирует все компоненты по порядку, запускает их Run
// конкурентно и останавливает всех в обратном порядке при отмене ctx
// или при первой неустранимой ошибке любого из них.
func (s *Supervisor) Run(ctx context.Context) error {
	for _, c := range s.components {
		s.logger.Printf("инициализация %q", c.Name())
		if err := c.Init(ctx); err != nil {
			return fmt.Errorf("lifecycle: init %q: %w", c.Name(), err)
		}
	}

	g, runCtx := errgroup.WithContext(ctx)
	for _, c := range s.components {
		c := c
		g.Go(func() error {
			s.logger.Printf("запуск %q", c.Name())
			if err := c.Run(runCtx); err != nil {
				return fmt.Errorf("lifecycle: run %q: %w", c.Name(), err)
			}
			return nil
		})
	}
	runErr := g.Wait()

	for i := len(s.components) - 1; i >= 0; i-- {
		c := s.components[i]
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		s.logger.Printf("остановка %q", c.Name())
		if err := c.Shutdown(shutdownCtx); err != nil {
			s.logger.Printf("ошибка остановки %q: %v", c.Name(), err)
		}
		shutdownCancel()
	}

	if runErr != nil {
		return runErr
	}
	return ctx.Err()
}

// HealthReport собирает Health всех зарегистрированных компонентов.
func (s *Supervisor) HealthReport() map[string]Health {
	report := make(map[string]Health, len(s.components))
	for _, c := range s.components {
		report[c.Name()] = c.Health()
	}
	return report
}

// funcComponent адаптирует одну функцию Run к интерфейсу Component для
// компонентов без собственного состояния инициализации/остановки
// (например, вспомогательный HTTP-сервер метрик).
type funcComponent struct {
	name    string
	shut    func(ctx context.Context) error
	run     func(ctx context.Context) error
}

func (f *funcComponent) Name() string                    { return f.name }
func (f *funcComponent) Init(ctx context.Context) error  { return nil }
func (f *funcComponent) Run(ctx context.Context) error   { return f.run(ctx) }
func (f *funcComponent) Health() Health                  { return HealthHealthy }
func (f *funcComponent) Shutdown(ctx context.Context) error {
	if f.shut != nil {
		return f.shut(ctx)
	}
	return nil
}

// FuncComponent оборачивает run (и опционально shutdown) в Component.
func FuncComponent(name string, shutdown func(ctx context.Context) error, run func(ctx context.Context) error) Component {
	return &funcComponent{name: name, shut: shutdown, run: run}
}
