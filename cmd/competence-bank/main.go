package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"competence-bank/internal/api/handler"
	"competence-bank/internal/api/router"
	"competence-bank/internal/competence"
	"competence-bank/internal/config"
	"competence-bank/internal/llm"
	applog "competence-bank/internal/logger"
	"competence-bank/internal/outbox"
	"competence-bank/internal/parser"
	"competence-bank/internal/processor"
	"competence-bank/internal/storage"
	"competence-bank/internal/tracing"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzzerolog "github.com/hertz-contrib/logger/zerolog"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

var version = "1.0.0" //nolint:gochecknoglobals

func main() {
	var (
		configPath string
		initConfig string
	)
	pflag.StringVarP(&configPath, "config", "c", "", "配置文件路径，为空时按默认路径查找")
	pflag.StringVar(&initConfig, "init-config", "", "生成示例配置文件后退出")
	pflag.Parse()

	if initConfig != "" {
		if err := config.CreateSampleConfig(initConfig); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println("示例配置已写入", initConfig)
		return
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	closeLog := initLogger(cfg.Logger)
	defer closeLog()
	log := applog.Logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.InitProvider(ctx, cfg.Tracing, version)
	if err != nil {
		log.Warn().Err(err).Msg("初始化链路追踪失败，继续运行")
		shutdownTracing = func(context.Context) error { return nil }
	}

	store, err := storage.NewStorage(ctx, cfg, log)
	if err != nil {
		hlog.Fatalf("初始化存储失败: %v", err)
	}
	defer store.Close(log)
	db := store.Database.DB()

	// LLM 与向量化共用一个令牌桶
	chat, err := llm.NewChatModel(cfg.LLM.APIKey, cfg.GetModelForTask("structure"), cfg.LLM.APIURL,
		llm.WithJSONMode(),
		llm.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.LLM.TimeoutSeconds) * time.Second}),
		llm.WithLogger(log),
	)
	if err != nil {
		hlog.Fatalf("初始化LLM失败: %v", err)
	}
	limited := llm.NewRateLimitedChatModel(chat, cfg.LLM.QPM, cfg.LLM.MaxRetries)

	optimizeModel := limited
	if name := cfg.GetModelForTask("optimize"); name != chat.ModelName() {
		optChat, err := llm.NewChatModel(cfg.LLM.APIKey, name, cfg.LLM.APIURL,
			llm.WithJSONMode(),
			llm.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.LLM.TimeoutSeconds) * time.Second}),
			llm.WithLogger(log),
		)
		if err != nil {
			hlog.Fatalf("初始化优化模型失败: %v", err)
		}
		optimizeModel = llm.NewRateLimitedChatModel(optChat, cfg.LLM.QPM, cfg.LLM.MaxRetries)
	}

	embedder, err := llm.NewEmbedder(cfg.LLM.APIKey, cfg.Embedding,
		llm.WithEmbedLimiter(limited.Limiter()),
		llm.WithEmbedLogger(log),
	)
	if err != nil {
		hlog.Fatalf("初始化Embedder失败: %v", err)
	}

	pdfExtractor, err := parser.NewPDFExtractor(ctx, parser.WithPDFLogger(log))
	if err != nil {
		hlog.Fatalf("初始化PDF提取器失败: %v", err)
	}

	bankOpts := []competence.Option{
		competence.WithEmbedder(embedder),
		competence.WithEmbedTimeout(cfg.Embedding.Timeout()),
	}
	if store.Redis != nil {
		bankOpts = append(bankOpts, competence.WithLocker(store.Redis, time.Duration(cfg.Competence.LockTTLSeconds)*time.Second))
	}
	bank := competence.NewService(db, bankOpts...)

	deps := processor.Deps{
		Upload:       cfg.Upload,
		CVs:          storage.NewCVStore(db),
		Files:        store.Files,
		Extractor:    pdfExtractor,
		Structurer:   parser.NewCVStructurer(limited, log),
		Optimizer:    parser.NewCVOptimizer(optimizeModel, log),
		Embedder:     embedder,
		Bank:         bank,
		EmbedTimeout: cfg.Embedding.Timeout(),
		Logger:       log,
	}
	if store.Redis != nil {
		deps.Dedup = store.Redis
	}

	var relay *outbox.MessageRelay
	if store.RabbitMQ != nil {
		deps.EventsExchange = cfg.RabbitMQ.CVEventsExchange
		deps.EventsRoutingKey = cfg.RabbitMQ.UploadedRoutingKey

		relay = outbox.NewMessageRelay(db, store.RabbitMQ, log)
		relay.Start()

		if err := startAutoMerge(ctx, cfg, store.RabbitMQ, bank, log); err != nil {
			log.Error().Err(err).Msg("启动自动合并消费者失败，上传后需手动合并")
		}
	}

	cvService, err := processor.NewCVService(deps)
	if err != nil {
		hlog.Fatalf("初始化简历服务失败: %v", err)
	}

	maxBody := int(cfg.Upload.MaxUploadBytes()) + 1<<20
	h := router.NewServer(cfg.Server.Address, maxBody, router.Handlers{
		Competence: handler.NewCompetenceHandler(bank),
		CV:         handler.NewCVHandler(cvService, cfg.Upload.MaxUploadBytes()),
		Optimize:   handler.NewOptimizeHandler(cvService),
		Health: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	})

	go func() {
		hlog.Infof("HTTP 服务器启动中，监听地址: %s", cfg.Server.Address)
		if err := h.Run(); err != nil {
			hlog.Errorf("HTTP服务器退出: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	hlog.Info("接收到终止信号，正在优雅退出...")

	if relay != nil {
		relay.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.Shutdown(shutdownCtx); err != nil {
		hlog.Errorf("服务器关闭失败: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("关闭链路追踪失败")
	}
	hlog.Info("优雅退出完成")
}

// startAutoMerge 声明上传事件的交换机与队列，并启动自动合并消费者
func startAutoMerge(ctx context.Context, cfg *config.Config, mq *storage.RabbitMQ, bank *competence.Service, log zerolog.Logger) error {
	rc := cfg.RabbitMQ
	if err := mq.EnsureExchange(rc.CVEventsExchange, "direct", true); err != nil {
		return err
	}
	if err := mq.EnsureQueue(rc.MergeQueue, true); err != nil {
		return err
	}
	if err := mq.BindQueue(rc.MergeQueue, rc.CVEventsExchange, rc.UploadedRoutingKey); err != nil {
		return err
	}
	merger := processor.NewAutoMerger(bank, cfg.Competence.AutoMerge, log)
	return mq.StartConsumer(ctx, rc.MergeQueue, rc.PrefetchCount, merger.Handle)
}

// initLogger 控制台与可选的日志文件同时输出，并让 hertz 使用同一个 zerolog 实例
func initLogger(lc config.LoggerConfig) func() {
	var console io.Writer = os.Stdout
	if lc.Format == "pretty" {
		console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}

	writers := []io.Writer{console}
	closeFn := func() {}
	if lc.File != "" {
		if err := os.MkdirAll(filepath.Dir(lc.File), 0755); err == nil {
			f, err := os.OpenFile(lc.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				fmt.Fprintf(os.Stderr, "无法打开日志文件 %s: %v\n", lc.File, err)
			} else {
				writers = append(writers, f)
				closeFn = func() { _ = f.Close() }
			}
		}
	}

	applog.InitWithWriter(applog.Config{
		Level:        lc.Level,
		Format:       lc.Format,
		TimeFormat:   lc.TimeFormat,
		ReportCaller: lc.ReportCaller,
	}, zerolog.MultiLevelWriter(writers...))

	hlog.SetLogger(hertzzerolog.From(applog.Logger))
	hlog.SetLevel(hertzLevel(applog.Logger.GetLevel()))
	return closeFn
}

func hertzLevel(l zerolog.Level) hlog.Level {
	switch l {
	case zerolog.TraceLevel:
		return hlog.LevelTrace
	case zerolog.DebugLevel:
		return hlog.LevelDebug
	case zerolog.WarnLevel:
		return hlog.LevelWarn
	case zerolog.ErrorLevel:
		return hlog.LevelError
	case zerolog.FatalLevel, zerolog.PanicLevel:
		return hlog.LevelFatal
	default:
		return hlog.LevelInfo
	}
}
