// Package mqttbridge — необязательный адаптер, транслирующий события
// шины событий ядра (C10) во внешний MQTT-брокер и обратно превращающий
// входящие команды из топика команд в EntityCommand (кодирование в
// EncodedCommand для C8 выполняет вызывающая сторона). Живёт вне
// internal/, так как является внешней интеграцией, а не частью ядра
// протокола. Перенесено из pkg/mqtt/mqtt.go (Connect/publishData/
// subscribeToCommands/handleIncomingCommand), адаптировано под
// eventbus.Bus вместо прямого опроса dataSource по тикеру.
package mqttbridge

import (
	"context"
	"encoding/json"
	"log"
	"os"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/coachlink/rvcd/common"
	"github.com/coachlink/rvcd/internal/eventbus"
	"github.com/coachlink/rvcd/internal/lifecycle"
)

// Config — параметры подключения к брокеру и раскладка топиков.
type Config struct {
	Broker       string
	ClientID     string
	DecodedTopic string // публикация decoded_frame
	AnomalyTopic string // публикация anomaly
	CommandTopic string // подписка на входящие команды
}

// Bridge подписывается на C10 и ретранслирует события в MQTT; входящие
// команды из CommandTopic публикует в исходящий канал EntityCommand'ов;
// кодирует их для C8 вызывающая сторона — мост сам не кодирует.
type Bridge struct {
	cfg    Config
	events *eventbus.Bus
	client mqtt.Client
	logger *log.Logger

	commandsOut chan common.EntityCommand
}

func New(cfg Config, events *eventbus.Bus, logger *log.Logger) *Bridge {
	if logger == nil {
		logger = log.New(os.Stdout, "[mqttbridge] ", log.LstdFlags)
	}
	return &Bridge{cfg: cfg, events: events, logger: logger, commandsOut: make(chan common.EntityCommand, 64)}
}

// Commands — канал, в который мост кладёт команды, полученные из MQTT.
func (b *Bridge) Commands() <-chan common.EntityCommand { return b.commandsOut }

func (b *Bridge) Name() string { return "mqttbridge" }

func (b *Bridge) Init(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(b.cfg.Broker)
	opts.SetClientID(b.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		b.logger.Printf("подключено к MQTT-брокеру %s", b.cfg.Broker)
		if b.cfg.CommandTopic != "" {
			b.subscribeToCommands()
		}
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		b.logger.Printf("соединение с MQTT-брокером потеряно: %v", err)
	})

	b.client = mqtt.NewClient(opts)
	if token := b.client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// Run подписывается на шину событий ядра и ретранслирует каждое событие
// decoded_frame/anomaly в соответствующий топик MQTT до отмены ctx.
func (b *Bridge) Run(ctx context.Context) error {
	decoded := b.events.Subscribe(common.TopicDecodedFrame)
	defer decoded.Unsubscribe()
	anomalies := b.events.Subscribe(common.TopicAnomaly)
	defer anomalies.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-decoded.Events():
			if !ok {
				return nil
			}
			b.publish(b.cfg.DecodedTopic, ev.Payload)
		case ev, ok := <-anomalies.Events():
			if !ok {
				return nil
			}
			b.publish(b.cfg.AnomalyTopic, ev.Payload)
		}
	}
}

func (b *Bridge) publish(topic string, payload any) {
	if topic == "" || b.client == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Printf("сериализация payload для топика %s не удалась: %v", topic, err)
		return
	}
	token := b.client.Publish(topic, 0, false, data)
	if token.Wait() && token.Error() != nil {
		b.logger.Printf("публикация в %s не удалась: %v", topic, token.Error())
	}
}

func (b *Bridge) subscribeToCommands() {
	token := b.client.Subscribe(b.cfg.CommandTopic, 1, b.handleIncomingCommand)
	go func() {
		<-token.Done()
		if token.Error() != nil {
			b.logger.Printf("подписка на топик команд %s не удалась: %v", b.cfg.CommandTopic, token.Error())
		}
	}()
}

func (b *Bridge) handleIncomingCommand(client mqtt.Client, msg mqtt.Message) {
	var cmd common.EntityCommand
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		b.logger.Printf("разбор команды из %s не удался: %v", msg.Topic(), err)
		return
	}
	select {
	case b.commandsOut <- cmd:
	default:
		b.logger.Printf("очередь входящих MQTT-команд переполнена, команда для %q отброшена", cmd.EntityID)
	}
}

func (b *Bridge) Shutdown(ctx context.Context) error {
	if b.client != nil && b.client.IsConnected() {
		b.client.Disconnect(250)
	}
	close(b.commandsOut)
	return nil
}

// Health всегда healthy: временная потеря соединения обрабатывается
// авто-переподключением paho и не считается деградацией компонента.
func (b *Bridge) Health() lifecycle.Health { return lifecycle.HealthHealthy }
