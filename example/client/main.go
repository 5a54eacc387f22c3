// 终端客户端示例
//
//	go run ./example/client -user alice -token <jwt> -conv general
//
// 输入普通文本发送到当前会话，/join /leave /read /typing <会话> 发送对应指令，/quit 退出。
// 降级期间的发送写入本地 outbox 文件，重新连上后不会自动补发。
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/tokmz/linkup/pkg/logger"
	"github.com/tokmz/linkup/pkg/protocol"
	"github.com/tokmz/linkup/pkg/wsclient"
)

func main() {
	url := flag.String("url", "ws://127.0.0.1:8080/ws", "服务端 WebSocket 地址")
	user := flag.String("user", "", "用户 ID")
	token := flag.String("token", "", "JWT，服务端开启 allow_id_only 时可省略")
	conv := flag.String("conv", "", "默认会话 ID")
	outbox := flag.String("outbox", "outbox.jsonl", "降级期间的发送落盘文件")
	flag.Parse()

	log, err := logger.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(*url, *user, *token, *conv, *outbox, log); err != nil {
		log.Error("client exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(url, user, token, conv, outbox string, log logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fallback := &fileOutbox{path: outbox}
	ctrl, err := wsclient.New(url, user,
		wsclient.WithToken(token),
		wsclient.WithLogger(log.Named("wsclient")),
		wsclient.WithFallback(fallback, 3),
		wsclient.WithOnStateChange(func(from, to wsclient.State) {
			fmt.Printf("* %s -> %s\n", from, to)
		}),
		wsclient.WithOnAttempt(func(n int) {
			fmt.Printf("* reconnect attempt %d\n", n)
		}),
		wsclient.WithOnDegraded(func(degraded bool) {
			if degraded {
				fmt.Printf("* realtime unavailable, writing to %s\n", outbox)
			}
		}),
		wsclient.WithOnQueueDelivered(func(queued int) {
			if queued > 0 {
				fmt.Printf("* %d queued events delivered\n", queued)
			}
		}),
		wsclient.WithOnMessage(printEnvelope),
	)
	if err != nil {
		return err
	}
	defer func() { _ = ctrl.Close() }()

	if err := ctrl.Connect(ctx); err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			env, quit, err := parseLine(line, &conv)
			if quit {
				return nil
			}
			if err != nil {
				fmt.Println("!", err)
				continue
			}
			if env == nil {
				continue
			}
			if err := ctrl.Send(ctx, env); err != nil {
				fmt.Println("! send:", err)
			}
		}
	}
}

// parseLine 解析一行输入，/join 与 /leave 会切换当前会话
func parseLine(line string, conv *string) (*protocol.Envelope, bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, false, nil
	}

	if !strings.HasPrefix(line, "/") {
		if *conv == "" {
			return nil, false, fmt.Errorf("no conversation, use /join <id> first")
		}
		env, err := protocol.New(protocol.KindSendMessage, "", protocol.SendMessage{
			ConversationID:  *conv,
			Content:         line,
			ClientMessageID: protocol.NewID(),
		})
		return env, false, err
	}

	cmd, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	if arg == "" {
		arg = *conv
	}

	var kind protocol.Kind
	switch cmd {
	case "quit":
		return nil, true, nil
	case "join":
		kind = protocol.KindJoinRoom
		*conv = arg
	case "leave":
		kind = protocol.KindLeaveRoom
	case "read":
		kind = protocol.KindMarkRead
	case "typing":
		kind = protocol.KindTypingStart
	default:
		return nil, false, fmt.Errorf("unknown command /%s", cmd)
	}
	if arg == "" {
		return nil, false, fmt.Errorf("/%s needs a conversation id", cmd)
	}

	env, err := protocol.New(kind, "", protocol.ConversationRef{ConversationID: arg})
	return env, false, err
}

func printEnvelope(env *protocol.Envelope) {
	switch env.Type {
	case protocol.KindNewMessage, protocol.KindMessageNotification, protocol.KindMessageSent:
		var ev protocol.MessageEvent
		if env.Bind(&ev) == nil {
			m := ev.Message
			fmt.Printf("[%s] %s: %s\n", m.ConversationID, m.SenderID, m.Content)
			return
		}
	case protocol.KindUserTyping:
		var t protocol.Typing
		if env.Bind(&t) == nil && t.Typing {
			fmt.Printf("[%s] %s is typing\n", t.ConversationID, t.UserID)
		}
		return
	case protocol.KindUserStatusChanged:
		var s protocol.StatusChanged
		if env.Bind(&s) == nil {
			fmt.Printf("* %s is %s\n", s.UserID, s.Status)
			return
		}
	case protocol.KindPong:
		return
	}
	fmt.Printf("< %s %s\n", env.Type, env.Data)
}

// fileOutbox 以 JSON Lines 追加写入本地文件
type fileOutbox struct {
	path string
	mu   sync.Mutex
}

func (o *fileOutbox) Send(_ context.Context, env *protocol.Envelope) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	f, err := os.OpenFile(o.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(env)
}
