package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/daadii/onechat/backend/internal/config"
	"github.com/daadii/onechat/backend/internal/model/chat"
	"github.com/daadii/onechat/backend/internal/service/auth"
	"github.com/daadii/onechat/backend/internal/service/endpoint"
	"github.com/daadii/onechat/backend/internal/service/stream"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	mode := flag.String("mode", "", "测试模式: token 或 chat")
	user := flag.String("user", "dev-user", "签发令牌使用的用户 ID")
	ttl := flag.Duration("ttl", 24*time.Hour, "令牌有效期")
	text := flag.String("text", "", "chat 模式发送的消息")
	url := flag.String("url", "", "模型端点地址，默认使用 CHAT_ENDPOINT_URL")
	timeout := flag.Duration("timeout", 2*time.Minute, "请求超时时间")

	flag.Parse()

	if *mode != "token" && *mode != "chat" {
		flag.Usage()
		log.Fatal("请通过 -mode=token 或 -mode=chat 指定测试模式")
	}
	if cfg.Client.JWTSecret == "" {
		log.Fatal("未配置 AUTH_JWT_SECRET，无法签发令牌")
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Client.JWTSecret))
	token, err := verifier.Issue(*user, *ttl)
	if err != nil {
		log.Fatalf("签发令牌失败: %v", err)
	}

	switch *mode {
	case "token":
		fmt.Println(token)
	case "chat":
		endpointURL := *url
		if endpointURL == "" {
			endpointURL = cfg.Client.EndpointURL
		}
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		defer cancel()
		runChat(ctx, endpointURL, token, *text)
	}
}

func runChat(ctx context.Context, endpointURL, token, text string) {
	if strings.TrimSpace(text) == "" {
		log.Fatal("chat 模式需要通过 -text 提供消息")
	}

	log.Printf("开始流式对话测试: endpoint=%s", endpointURL)

	body, err := endpoint.New(endpointURL, nil).Stream(ctx, token, []chat.Message{{Role: chat.RoleUser, Content: text}})
	if err != nil {
		log.Fatalf("端点调用失败: %v", err)
	}
	defer body.Close()

	start := time.Now()
	res, err := stream.Pump(body, func(delta string) {
		fmt.Fprint(os.Stdout, delta)
	})
	fmt.Println()
	if err != nil {
		log.Fatalf("读取流失败: %v", err)
	}

	log.Printf("对话完成: deltas=%d terminated=%t chars=%d elapsed=%s", res.Deltas, res.Terminated, len([]rune(res.Content)), time.Since(start).Round(time.Millisecond))
}
