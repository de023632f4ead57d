// Package kafka 提供了基于 Kafka 的入库任务队列。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"qarag-go/internal/config"
	"qarag-go/pkg/log"
	"qarag-go/pkg/tasks"
)

// Producer 把入库任务写入 Kafka 主题，实现 tasks.Queue。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers(cfg)...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// Submit 发送一个入库任务到 Kafka。
func (p *Producer) Submit(ctx context.Context, task tasks.IngestTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.DocID),
		Value: taskBytes,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// 读取失败后的重连退避区间。
const (
	minFetchBackoff = time.Second
	maxFetchBackoff = 30 * time.Second
)

// messageReader 是 Consumer 用到的 kafka.Reader 方法。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer 从 Kafka 读取入库任务并同步处理。
type Consumer struct {
	reader       messageReader
	topic        string
	processor    tasks.Processor
	counter      AttemptCounter
	maxAttempts  int64
	backoff      time.Duration
	fetchBackoff time.Duration
}

// NewConsumer 创建消费者。counter 用于跨重启记录任务的失败次数。
func NewConsumer(cfg config.KafkaConfig, processor tasks.Processor, counter AttemptCounter) *Consumer {
	maxAttempts := int64(cfg.MaxAttempts)
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{
		reader:       r,
		topic:        cfg.Topic,
		processor:    processor,
		counter:      counter,
		maxAttempts:  maxAttempts,
		backoff:      2 * time.Second,
		fetchBackoff: minFetchBackoff,
	}
}

// Run 持续消费消息直到 ctx 结束。读取失败不会让消费者退出，而是退避后重试。
func (c *Consumer) Run(ctx context.Context) {
	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", c.topic)
	defer func() {
		if err := c.reader.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	wait := c.fetchBackoff
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				log.Info("Kafka 消费者已停止")
				return
			}
			log.Errorf("从 Kafka 读取消息失败, %s 后重试: %v", wait, err)
			select {
			case <-ctx.Done():
				log.Info("Kafka 消费者已停止")
				return
			case <-time.After(wait):
			}
			wait *= 2
			if wait > maxFetchBackoff {
				wait = maxFetchBackoff
			}
			continue
		}
		wait = c.fetchBackoff
		log.Infof("收到 Kafka 消息: offset %d", m.Offset)

		var task tasks.IngestTask
		if err := json.Unmarshal(m.Value, &task); err != nil {
			// 消息格式错误，直接提交，避免阻塞队列
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
		} else if !c.handle(ctx, task) {
			// ctx 结束时不提交 offset，重启后重新投递
			return
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
	}
}

// handle 处理任务，失败时在 maxAttempts 次以内重试。返回 false 表示 ctx 已结束、任务未完成。
func (c *Consumer) handle(ctx context.Context, task tasks.IngestTask) bool {
	key := attemptsKey(task.DocID)
	for {
		log.Infof("开始处理入库任务: DocID=%s, Kind=%s", task.DocID, task.Kind)
		err := c.processor.Process(ctx, task)
		if err == nil {
			log.Infof("入库任务处理成功: DocID=%s", task.DocID)
			_ = c.counter.Reset(ctx, key)
			return true
		}
		log.Errorf("处理入库任务失败: DocID=%s, Error: %v", task.DocID, err)

		attempts, incErr := c.counter.Incr(ctx, key)
		if incErr != nil {
			log.Errorf("记录任务失败次数失败: %v", incErr)
			attempts = c.maxAttempts
		}
		if attempts >= c.maxAttempts {
			log.Errorf("入库任务多次失败(>=%d)，放弃重试: DocID=%s", c.maxAttempts, task.DocID)
			_ = c.counter.Reset(ctx, key)
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.backoff):
		}
	}
}

func brokers(cfg config.KafkaConfig) []string {
	var out []string
	for _, b := range strings.Split(cfg.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
