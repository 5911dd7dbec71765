package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/LubyRuffy/gemb2o"
	"github.com/LubyRuffy/gemb2o/backend"
	"github.com/LubyRuffy/gemb2o/config"
	"github.com/LubyRuffy/gemb2o/dispatch"
	"github.com/LubyRuffy/gemb2o/logging"
	"github.com/LubyRuffy/gemb2o/pool"
	"github.com/cloudwego/eino/adk"
	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/joho/godotenv"
)

const (
	defaultAgentName        = "gemb2o"
	defaultAgentDescription = "Gemini Business account pool chat agent"
)

func main() {
	var (
		configPath = flag.String("config", "", "yaml config file (optional)")
		model      = flag.String("model", gemb2o.DefaultModelID, "model id")
		input      = flag.String("input", "你好，介绍一下你自己", "user input")
		newSession = flag.Bool("new-session", false, "start from a fresh upstream session")
	)
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("init logger failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	client, err := backend.NewClient(backend.Config{
		BaseURL:         cfg.Upstream.BaseURL,
		AuthURL:         cfg.Upstream.AuthURL,
		ProxyURL:        cfg.Proxy,
		ControlTimeout:  cfg.Upstream.ControlTimeout,
		UploadTimeout:   cfg.Upstream.UploadTimeout,
		StreamTimeout:   cfg.Upstream.StreamTimeout,
		DownloadTimeout: cfg.Upstream.DownloadTimeout,
		Logger:          logger,
	})
	if err != nil {
		log.Fatalf("create client failed: %v", err)
	}

	p := pool.New(cfg.Accounts, pool.Options{Exchanger: client, Opener: client, TokenTTL: cfg.Pool.TokenTTL, Logger: logger})
	d, err := dispatch.New(dispatch.Config{Pool: p, Upstream: client, Logger: logger})
	if err != nil {
		log.Fatalf("create dispatcher failed: %v", err)
	}

	m, err := dispatch.NewChatModel(d, *model)
	if err != nil {
		log.Fatalf("create model failed: %v", err)
	}

	agent, err := adk.NewChatModelAgent(context.Background(), &adk.ChatModelAgentConfig{
		Name:        defaultAgentName,
		Description: defaultAgentDescription,
		Model:       m,
	})
	if err != nil {
		log.Fatalf("create agent failed: %v", err)
	}

	runner := adk.NewRunner(context.Background(), adk.RunnerConfig{
		Agent:           agent,
		EnableStreaming: false,
	})

	var opts []adk.AgentRunOption
	if *newSession {
		opts = append(opts, adk.WithChatModelOptions([]einoModel.Option{dispatch.WithForceNewSession(true)}))
	}

	iter := runner.Run(context.Background(), []adk.Message{schema.UserMessage(*input)}, opts...)
	for {
		ev, ok := iter.Next()
		if !ok {
			break
		}
		if ev.Err != nil {
			log.Fatalf("run failed: %v", ev.Err)
		}
		if ev.Output == nil || ev.Output.MessageOutput == nil {
			continue
		}
		msg := ev.Output.MessageOutput.Message
		if msg == nil {
			continue
		}
		if msg.Content != "" {
			fmt.Print(msg.Content)
		}
	}
	fmt.Println()
}
