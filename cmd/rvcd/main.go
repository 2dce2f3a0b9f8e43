// Command rvcd — демон ядра RV-C: читает один или несколько интерфейсов
// шины, декодирует, валидирует и публикует сообщения, обнаруживает и
// опрашивает устройства, и принимает исходящие команды. Интерфейс
// командной строки и сигнал-управляемый основной цикл перенесены из
// Tankmaster48-ndnd/fw/cmd/cmd.go; бутстрап конкретных компонентов
// (протокол + MQTT-клиент по флагам) перенесён из исходного main.go
// teacher-репозитория и обобщён на полный набор компонентов ядра.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/coachlink/rvcd/adapter/mqttbridge"
	"github.com/coachlink/rvcd/common"
	"github.com/coachlink/rvcd/internal/catalog"
	"github.com/coachlink/rvcd/internal/decoder"
	"github.com/coachlink/rvcd/internal/discovery"
	"github.com/coachlink/rvcd/internal/encoder"
	"github.com/coachlink/rvcd/internal/eventbus"
	"github.com/coachlink/rvcd/internal/lifecycle"
	"github.com/coachlink/rvcd/internal/metrics"
	"github.com/coachlink/rvcd/internal/pipeline"
	"github.com/coachlink/rvcd/internal/scheduler"
	"github.com/coachlink/rvcd/internal/security"
	"github.com/coachlink/rvcd/internal/tracing"
	"github.com/coachlink/rvcd/internal/txbus"
	"github.com/coachlink/rvcd/internal/validator"
)

var rootOpts struct {
	specPath      string
	mappingPath   string
	busType       string
	canInterface  string
	slcanPort     string
	slcanBaud     int
	sourceAddr    uint8
	controllerAddr uint8
	maxQueueSize  int
	metricsAddr   string
	mqttBroker    string
}

var rootCmd = &cobra.Command{
	Use:   "rvcd",
	Short: "демон декодирования, кодирования и обнаружения устройств RV-C",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootOpts.specPath, "spec", envOr("RVC_SPEC_PATH", "spec.json"), "путь к каталогу спецификации DGN")
	rootCmd.PersistentFlags().StringVar(&rootOpts.mappingPath, "coach-mapping", envOr("RVC_COACH_MODEL", "coach_mapping.yaml"), "путь к маппингу коуча")
	rootCmd.PersistentFlags().StringVar(&rootOpts.busType, "bus-type", envOr("CAN_BUSTYPE", "socketcan"), "тип бэкенда шины (socketcan|slcan)")
	rootCmd.PersistentFlags().StringVar(&rootOpts.canInterface, "can-interface", envOr("CAN_INTERFACE", "can0"), "имя интерфейса SocketCAN")
	rootCmd.PersistentFlags().StringVar(&rootOpts.slcanPort, "slcan-port", envOr("SLCAN_PORT", "/dev/ttyUSB0"), "последовательный порт для бэкенда slcan")
	rootCmd.PersistentFlags().IntVar(&rootOpts.slcanBaud, "slcan-baud", 115200, "скорость порта slcan")
	rootCmd.PersistentFlags().Uint8Var(&rootOpts.sourceAddr, "source-addr", 0xE0, "собственный адрес источника на шине")
	rootCmd.PersistentFlags().Uint8Var(&rootOpts.controllerAddr, "controller-addr", 0xE0, "адрес, считающийся доверенным контроллером в C6")
	rootCmd.PersistentFlags().IntVar(&rootOpts.maxQueueSize, "max-queue-size", 5000, "суммарный бюджет очереди планировщика C7")
	rootCmd.PersistentFlags().StringVar(&rootOpts.metricsAddr, "metrics-addr", envOr("RVC_METRICS_ADDR", ":9100"), "адрес HTTP-эндпоинта /metrics")
	rootCmd.PersistentFlags().StringVar(&rootOpts.mqttBroker, "mqtt-broker", "", "адрес MQTT-брокера для adapter/mqttbridge; пусто = мост отключён")

	rootCmd.AddCommand(runCmd, validateSpecCmd, missingDGNsCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "запустить основной цикл демона",
	RunE:  runDaemon,
}

var validateSpecCmd = &cobra.Command{
	Use:   "validate-spec",
	Short: "загрузить и провалидировать каталог спецификации и маппинг коуча, затем выйти",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := catalog.NewStore(rootOpts.specPath, rootOpts.mappingPath, nil)
		if err != nil {
			return err
		}
		cat := store.Get()
		fmt.Printf("каталог валиден: %d DGN, %d устройств в маппинге коуча\n", len(cat.Entries), len(cat.Mapping.Devices))
		return store.Close()
	},
}

var missingDGNsCmd = &cobra.Command{
	Use:   "missing-dgns",
	Short: "вывести снимок недавно встреченных неизвестных DGN в формате JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := catalog.NewStore(rootOpts.specPath, rootOpts.mappingPath, nil)
		if err != nil {
			return err
		}
		defer store.Close()

		dec := decoder.New(store, log.New(os.Stderr, "[missing-dgns] ", log.LstdFlags))
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(dec.Snapshot())
	},
}

func runDaemon(cmd *cobra.Command, args []string) error {
	logger := log.New(os.Stdout, "[rvcd] ", log.LstdFlags)

	store, err := catalog.NewStore(rootOpts.specPath, rootOpts.mappingPath, logger)
	if err != nil {
		return fmt.Errorf("rvcd: не удалось загрузить каталог: %w", err)
	}
	if err := store.WatchForChanges(); err != nil {
		logger.Printf("наблюдение за изменениями каталога не запущено: %v", err)
	}
	defer store.Close()

	bus, err := txbus.New(txbus.Config{
		Type:          txbus.BackendType(rootOpts.busType),
		Interface:     rootOpts.canInterface,
		SerialPort:    rootOpts.slcanPort,
		SerialBaud:    rootOpts.slcanBaud,
		SourceAddress: rootOpts.sourceAddr,
	})
	if err != nil {
		return fmt.Errorf("rvcd: не удалось создать бэкенд шины: %w", err)
	}

	shutdownTracing := tracing.Init()
	defer shutdownTracing(context.Background())

	metricsReg := metrics.NewRegistry()
	events := eventbus.New(256, logger)
	sched := scheduler.New(rootOpts.maxQueueSize, logger)
	secMonitor := security.New(rootOpts.controllerAddr, logger)
	dec := decoder.New(store, logger)
	enc := encoder.New(store, logger)
	val := validator.New(nil)

	sup := lifecycle.NewSupervisor(logger)
	sup.Register(lifecycle.FuncComponent("metrics-http", nil, func(ctx context.Context) error {
		srv := newMetricsServer(rootOpts.metricsAddr, metricsReg)
		go func() {
			<-ctx.Done()
			srv.Close()
		}()
		if err := srv.ListenAndServe(); err != nil && !isServerClosed(err) {
			return err
		}
		return nil
	}))
	sup.Register(pipeline.NewIngress(pipeline.Config{
		Bus:       bus,
		Decoder:   dec,
		Validator: val,
		Security:  secMonitor,
		Scheduler: sched,
		Events:    events,
		Metrics:   metricsReg,
		Logger:    logger,
	}))
	sup.Register(discovery.New(bus, events, discovery.Config{SourceAddr: rootOpts.sourceAddr}, logger))

	encodedCmds := make(chan common.EncodedCommand, 64)
	sup.Register(lifecycle.FuncComponent("txbus-writer", nil, txbus.NewWriter(bus, encodedCmds, events, logger).Run))

	if rootOpts.mqttBroker != "" {
		bridge := mqttbridge.New(mqttbridge.Config{
			Broker:       rootOpts.mqttBroker,
			ClientID:     "rvcd",
			DecodedTopic: "rvc/decoded",
			AnomalyTopic: "rvc/anomaly",
			CommandTopic: "rvc/command",
		}, events, logger)
		sup.Register(bridge)
		sup.Register(lifecycle.FuncComponent("command-bridge", nil, func(ctx context.Context) error {
			return runCommandBridge(ctx, enc, bridge.Commands(), encodedCmds, logger)
		}))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Println("rvcd запущен, нажмите Ctrl+C для завершения")
	return sup.Run(ctx)
}
