// Package main 是应用程序的入口点。
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/afero"

	"qarag-go/internal/chunker"
	"qarag-go/internal/config"
	"qarag-go/internal/extractor"
	"qarag-go/internal/handler"
	"qarag-go/internal/middleware"
	"qarag-go/internal/pipeline"
	"qarag-go/internal/repository"
	"qarag-go/internal/service"
	"qarag-go/pkg/database"
	"qarag-go/pkg/es"
	"qarag-go/pkg/kafka"
	"qarag-go/pkg/llm"
	"qarag-go/pkg/log"
	"qarag-go/pkg/storage"
	"qarag-go/pkg/tasks"
	"qarag-go/pkg/tika"
	"qarag-go/pkg/websearch"
)

const version = "1.0.0"

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	// 3. 初始化数据库与可选的外部服务
	db, err := database.NewMySQL(cfg.Database.MySQL)
	if err != nil {
		log.Fatal("MySQL 初始化失败", err)
	}
	if err := repository.AutoMigrate(db); err != nil {
		log.Fatal("数据库迁移失败", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal("获取 sql.DB 失败", err)
	}
	healthChecks := map[string]handler.HealthCheck{"database": sqlDB.PingContext}

	var rdb *redis.Client
	if cfg.Database.Redis.Addr != "" {
		rdb, err = database.NewRedis(rootCtx, cfg.Database.Redis)
		if err != nil {
			log.Fatal("Redis 初始化失败", err)
		}
		defer rdb.Close()
		healthChecks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	var store storage.ObjectStore
	if cfg.MinIO.Enabled {
		store, err = storage.NewMinIOStore(rootCtx, cfg.MinIO)
	} else {
		store, err = storage.NewFileStore(afero.NewOsFs(), cfg.Storage.LocalDir)
	}
	if err != nil {
		log.Fatal("对象存储初始化失败", err)
	}

	// Elasticsearch 镜像是可选的，失败时只使用数据库检索
	var (
		chunkIndexer pipeline.ChunkIndexer
		lexicalIndex service.LexicalIndex
		docIndex     service.DocumentIndex
	)
	if cfg.Elasticsearch.Enabled {
		index, err := es.NewChunkIndex(cfg.Elasticsearch)
		if err == nil {
			err = index.EnsureIndex(rootCtx)
		}
		if err != nil {
			log.Errorf("Elasticsearch 初始化失败, 仅使用数据库检索: %v", err)
		} else {
			chunkIndexer, lexicalIndex, docIndex = index, index, index
		}
	}

	extractorOpts := []extractor.Option{}
	if tikaClient := tika.NewClient(cfg.Tika); tikaClient.Enabled() {
		extractorOpts = append(extractorOpts, extractor.WithFallback(tikaClient))
	}

	// 4. 初始化 Repository
	documentRepo := repository.NewDocumentRepository(db)
	chunkRepo := repository.NewChunkRepository(db)
	conversationRepo := repository.NewConversationRepository()

	// 5. 初始化文件处理管道 (Processor)
	processor := pipeline.NewProcessor(
		extractor.New(extractorOpts...),
		chunker.New(chunker.WithChunkSize(cfg.Documents.ChunkSize), chunker.WithOverlap(cfg.Documents.ChunkOverlap)),
		pipeline.NewFetcher(cfg.Documents.FetchTimeout, cfg.Documents.MaxSizeBytes()),
		documentRepo,
		chunkRepo,
		store,
		chunkIndexer,
	)

	// 6. 启动任务队列：Kafka 或进程内 worker 池
	var queue tasks.Queue
	if cfg.Kafka.Enabled {
		var counter kafka.AttemptCounter = kafka.NewMemoryCounter()
		if rdb != nil {
			counter = kafka.NewRedisCounter(rdb)
		}
		consumer := kafka.NewConsumer(cfg.Kafka, processor, counter)
		go consumer.Run(rootCtx)
		queue = kafka.NewProducer(cfg.Kafka)
	} else {
		pool := tasks.NewPool(cfg.Worker.QueueSize, cfg.Worker.Concurrency, processor)
		pool.Start(rootCtx)
		queue = pool
	}

	// 7. 初始化 Service (依赖注入)
	llmClient := llm.NewClient(cfg.LLM)
	searchService := service.NewSearchService(chunkRepo, lexicalIndex)
	webService := service.NewWebService(websearch.NewClient(cfg.WebSearch))
	aggregator := service.NewAggregator(service.NewPlanner(llmClient), searchService, webService)
	generator := service.NewGenerator(llmClient, cfg.LLM.Generation)
	chatService := service.NewChatService(conversationRepo, aggregator, generator, cfg.Chat)
	documentService := service.NewDocumentService(documentRepo, chunkRepo, store, queue, docIndex, cfg.Documents.MaxSizeBytes())
	conversationService := service.NewConversationService(conversationRepo)

	// 进程内队列的任务不会跨重启保留，重新投递上次中断的文档；Kafka 会重新投递未提交的消息
	if !cfg.Kafka.Enabled {
		if _, err := documentService.ResumeInterrupted(rootCtx); err != nil {
			log.Errorf("重新投递中断的入库任务失败: %v", err)
		}
	}

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.MaxMultipartMemory = 32 << 20
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	handler.RegisterRoutes(r, handler.Handlers{
		Health:        handler.NewHealthHandler(version, healthChecks),
		Documents:     handler.NewDocumentHandler(documentService, cfg.Documents.MaxSizeBytes()),
		Chat:          handler.NewChatHandler(chatService),
		Conversations: handler.NewConversationHandler(conversationService),
		Search:        handler.NewSearchHandler(searchService),
	})

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	// 先关闭队列等待已投递的任务处理完，再停止消费者
	if err := queue.Close(); err != nil {
		log.Errorf("关闭任务队列失败: %v", err)
	}
	cancelRoot()

	// 会话只保存在内存中，随进程结束清空
	conversationRepo.Clear()
	log.Info("服务已优雅关闭")
}
