// telegram 通知模块，发送消息到 telegram bot
package telegram

import (
	"context"
	"errors"
	"net/http"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

var ErrNotConfigured = errors.New("telegram token or chatId is empty")

type Telegram struct {
	token    string
	chatId   int64
	endpoint string
	client   *http.Client

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

type Option func(*Telegram)

// WithEndpoint 覆盖 bot api 地址，格式同 tgbotapi.APIEndpoint
func WithEndpoint(endpoint string) Option {
	return func(t *Telegram) { t.endpoint = endpoint }
}

func WithHTTPClient(c *http.Client) Option {
	return func(t *Telegram) { t.client = c }
}

func New(token string, chatId int64, opts ...Option) *Telegram {
	t := &Telegram{
		token:    token,
		chatId:   chatId,
		endpoint: tgbotapi.APIEndpoint,
		client:   &http.Client{},
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// bot 懒加载，NewBotAPI 会请求一次 getMe，失败了下次再试
func (t *Telegram) botAPI() (*tgbotapi.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil {
		return t.bot, nil
	}
	if t.token == "" || t.chatId == 0 {
		return nil, ErrNotConfigured
	}
	bot, err := tgbotapi.NewBotAPIWithClient(t.token, t.endpoint, t.client)
	if err != nil {
		return nil, err
	}
	t.bot = bot
	return bot, nil
}

// 发送文本消息；tgbotapi 不支持 ctx，这里只在发送前检查一次
func (t *Telegram) SendText(ctx context.Context, txtMsg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bot, err := t.botAPI()
	if err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(t.chatId, txtMsg)
	if _, err := bot.Send(msg); err != nil {
		return err
	}
	return nil
}
