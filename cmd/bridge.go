package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vkbridge/pkg/bridge"
	"vkbridge/pkg/config"
	"vkbridge/pkg/dispatch"
	"vkbridge/pkg/logger"
	"vkbridge/pkg/queue"
	"vkbridge/pkg/relay"
	"vkbridge/pkg/vk"

	"github.com/spf13/cobra"
)

const (
	brokerRetryAttempts = 10
	brokerRetryDelay    = time.Second
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Run the VK to RabbitMQ bridge",
	Long:  "Runs both bridge directions with health and readiness endpoints.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}
		if err := cfg.Validate(); err != nil {
			fmt.Printf("invalid config: %v\n", err)
			return
		}

		appLogger, err := logger.New(cfg.Logging)
		if err != nil {
			fmt.Printf("failed to initialize logger: %v\n", err)
			return
		}
		slog.SetDefault(appLogger)
		log := slog.Default().With("component", "cmd.bridge")

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := runBridge(runCtx, cfg, log); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error("Bridge runtime failed", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(bridgeCmd)
}

func runBridge(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	vkClient, err := vk.NewClient(cfg.VK, log)
	if err != nil {
		return fmt.Errorf("configure vk client: %w", err)
	}
	longPoll := vk.NewLongPoll(vkClient, cfg.VK.PollWaitSeconds, log)

	// Each direction owns its broker session so a channel failure on one
	// side never disturbs the other.
	relaySession, err := queue.Dial(ctx, queue.Options{
		URL:           cfg.AMQPURL(),
		RetryAttempts: brokerRetryAttempts,
		Delay:         brokerRetryDelay,
		Logger:        log,
	})
	if err != nil {
		return fmt.Errorf("connect relay session: %w", err)
	}
	defer relaySession.Close()

	dispatchSession, err := queue.Dial(ctx, queue.Options{
		URL:           cfg.AMQPURL(),
		RetryAttempts: brokerRetryAttempts,
		Delay:         brokerRetryDelay,
		Logger:        log,
	})
	if err != nil {
		return fmt.Errorf("connect dispatch session: %w", err)
	}
	defer dispatchSession.Close()

	humanPublisher, err := relaySession.Publisher(cfg.Queues.HumanMessage)
	if err != nil {
		return fmt.Errorf("open human-message publisher: %w", err)
	}
	defer humanPublisher.Close()

	statusPublisher, err := dispatchSession.Publisher(cfg.Queues.MessageStatus)
	if err != nil {
		return fmt.Errorf("open status publisher: %w", err)
	}
	defer statusPublisher.Close()

	consumer, err := dispatchSession.Consume(cfg.Queues.BotMessage)
	if err != nil {
		return fmt.Errorf("open bot-message consumer: %w", err)
	}
	defer consumer.Close()

	inbound := relay.New(longPoll, humanPublisher, vkClient, log)
	outbound := dispatch.New(consumer.Deliveries(), vkClient, statusPublisher, log)

	svc, err := bridge.NewService(cfg, []bridge.Unit{
		bridge.NewUnit("relay", inbound.Run),
		bridge.NewUnit("dispatch", outbound.Run),
	}, log)
	if err != nil {
		return fmt.Errorf("initialize bridge service: %w", err)
	}

	log.Info("Bridge started", "group_id", cfg.VK.GroupID, "broker", cfg.Rabbit.Host)
	return svc.Run(ctx)
}
