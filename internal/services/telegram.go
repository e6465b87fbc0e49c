package services

import (
	"context"
	"fmt"
	"sort"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

type messageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier sends sale notices to the admin chats. Chats listed in
// ADMIN_TELEGRAM_IDS are known up front; an admin who sends /start to the bot
// registers the chat it was sent from. Without ADMIN_TELEGRAM_IDS nobody is an
// admin and notices stay in the log.
type TelegramNotifier struct {
	api    *tgbotapi.BotAPI
	bot    messageSender
	logger *zap.Logger

	mu     sync.RWMutex
	admins map[int64]bool
	chats  map[int64]bool
}

func NewTelegramNotifier(token string, adminIDs []int64, logger *zap.Logger) (*TelegramNotifier, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	logger.Info("telegram bot authorized", zap.String("username", api.Self.UserName))

	n := newTelegramNotifier(api, adminIDs, logger)
	n.api = api
	return n, nil
}

func newTelegramNotifier(bot messageSender, adminIDs []int64, logger *zap.Logger) *TelegramNotifier {
	n := &TelegramNotifier{
		bot:    bot,
		logger: logger,
		admins: make(map[int64]bool),
		chats:  make(map[int64]bool),
	}
	for _, id := range adminIDs {
		n.admins[id] = true
		n.chats[id] = true
	}
	if len(adminIDs) == 0 {
		logger.Warn("ADMIN_TELEGRAM_IDS not set, the bot will not register any chat")
	}
	return n
}

// Listen handles bot commands until ctx is done.
func (n *TelegramNotifier) Listen(ctx context.Context) {
	if n.api == nil {
		return
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := n.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			n.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			n.handleUpdate(update)
		}
	}
}

func (n *TelegramNotifier) handleUpdate(update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || !msg.IsCommand() || msg.From == nil {
		return
	}

	switch msg.Command() {
	case "start":
		chatID := msg.Chat.ID
		if !n.isAdmin(msg.From.ID) {
			n.logger.Warn("telegram /start from non admin", zap.Int64("user_id", msg.From.ID))
			n.send(chatID, "This bot only talks to raffle administrators.")
			return
		}
		n.mu.Lock()
		n.chats[chatID] = true
		n.mu.Unlock()
		n.logger.Info("admin chat registered", zap.Int64("chat_id", chatID))
		n.send(chatID, fmt.Sprintf("Hello admin! Chat %d registered, sale notifications will arrive here.", chatID))
	}
}

func (n *TelegramNotifier) isAdmin(userID int64) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.admins[userID]
}

// PaymentApproved tells every registered admin chat about a new sale.
func (n *TelegramNotifier) PaymentApproved(_ context.Context, notice ApprovalNotice) {
	n.Broadcast(fmt.Sprintf("💰 Payment approved\nRaffle: %s\nNumber: %d\nBuyer: %s (%s)\nAmount: R$ %s\nPayment: %s",
		notice.RaffleTitle, notice.Number, notice.BuyerName, notice.BuyerEmail, notice.Amount, notice.ExternalID))
}

// RefundRequired asks the admins to refund a payment that was approved after
// its reservation expired and the number went to someone else.
func (n *TelegramNotifier) RefundRequired(_ context.Context, notice ApprovalNotice) {
	n.Broadcast(fmt.Sprintf("⚠️ Refund required\nRaffle: %s\nNumber: %d (taken by someone else)\nBuyer: %s (%s)\nAmount: R$ %s\nPayment: %s",
		notice.RaffleTitle, notice.Number, notice.BuyerName, notice.BuyerEmail, notice.Amount, notice.ExternalID))
}

// Broadcast sends text to every registered admin chat.
func (n *TelegramNotifier) Broadcast(text string) {
	n.mu.RLock()
	chats := make([]int64, 0, len(n.chats))
	for id := range n.chats {
		chats = append(chats, id)
	}
	n.mu.RUnlock()

	if len(chats) == 0 {
		n.logger.Warn("no admin chat registered, notification dropped")
		return
	}
	sort.Slice(chats, func(i, j int) bool { return chats[i] < chats[j] })
	for _, id := range chats {
		n.send(id, text)
	}
}

func (n *TelegramNotifier) send(chatID int64, text string) {
	if _, err := n.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		n.logger.Error("failed to send telegram message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// LogNotifier stands in when no bot token is configured.
type LogNotifier struct {
	Logger *zap.Logger
}

func (l LogNotifier) PaymentApproved(_ context.Context, notice ApprovalNotice) {
	l.Logger.Info("payment approved notice",
		zap.String("raffle", notice.RaffleTitle),
		zap.Int("number", notice.Number),
		zap.String("external_id", notice.ExternalID),
	)
}

func (l LogNotifier) RefundRequired(_ context.Context, notice ApprovalNotice) {
	l.Logger.Error("refund required notice",
		zap.String("raffle", notice.RaffleTitle),
		zap.Int("number", notice.Number),
		zap.String("buyer_email", notice.BuyerEmail),
		zap.String("amount", notice.Amount),
		zap.String("external_id", notice.ExternalID),
	)
}
