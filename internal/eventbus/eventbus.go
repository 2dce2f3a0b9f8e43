// Package eventbus реализует шину событий ядра: многотемную публикацию
// с ограниченными очередями на подписчика и политикой вытеснения
// drop-oldest при переполнении. Обобщает канальный паттерн
// framesCh/dtcChan teacher-агента (один производитель -> один
// потребитель) до произвольного числа независимых подписчиков на топик.
package eventbus

import (
	"context"
	"log"
	"os"
	"sync"

	"github.com/coachlink/rvcd/common"
)

const defaultQueueSize = 256

// Subscription — канал, на который Bus доставляет события одного топика.
type Subscription struct {
	ch     chan common.Event
	bus    *Bus
	topic  common.EventTopic
	id     int
}

// Events возвращает канал для чтения событий подписки.
func (s *Subscription) Events() <-chan common.Event { return s.ch }

// Unsubscribe отписывает и закрывает канал подписки.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s.topic, s.id)
}

// Bus — шина событий с ограниченными по размеру очередями на подписчика.
type Bus struct {
	mu        sync.Mutex
	logger    *log.Logger
	queueSize int
	nextID    int
	subs      map[common.EventTopic]map[int]chan common.Event
}

func New(queueSize int, logger *log.Logger) *Bus {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = log.New(os.Stdout, "[eventbus] ", log.LstdFlags)
	}
	return &Bus{
		logger:    logger,
		queueSize: queueSize,
		subs:      make(map[common.EventTopic]map[int]chan common.Event),
	}
}

// Subscribe регистрирует нового подписчика на topic. Канал подписки
// буферизирован на queueSize событий; при переполнении Publish вытесняет
// самое старое событие из очереди этого подписчика (drop-oldest), чтобы
// медленный подписчик не мог заблокировать публикацию для остальных.
func (b *Bus) Subscribe(topic common.EventTopic) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan common.Event, b.queueSize)
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]chan common.Event)
	}
	id := b.nextID
	b.nextID++
	b.subs[topic][id] = ch
	return &Subscription{ch: ch, bus: b, topic: topic, id: id}
}

func (b *Bus) unsubscribe(topic common.EventTopic, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.subs[topic]; ok {
		if ch, ok := m[id]; ok {
			delete(m, id)
			close(ch)
		}
	}
}

// Publish рассылает событие всем подписчикам topic. Доставка
// неблокирующая: если очередь подписчика полна, самое старое событие в
// ней отбрасывается, чтобы освободить место под новое.
func (b *Bus) Publish(ev common.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs[ev.Topic] {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
				b.logger.Printf("очередь подписчика на %q переполнена, событие отброшено", ev.Topic)
			}
		}
	}
}

// Run не блокирует сам по себе — шина не имеет собственного цикла
// обработки, публикация синхронна. Run лишь ждёт отмены ctx и затем
// закрывает все подписки; Name/Init/Shutdown/Health у Bus нет, так что
// lifecycle.Component он не реализует.
func (b *Bus) Run(ctx context.Context) error {
	<-ctx.Done()
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, subs := range b.subs {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(b.subs, topic)
	}
	return nil
}
